package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	sessions := &cobra.Command{
		Use:   "sessions",
		Short: "Manage chat sessions",
	}

	sessions.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			list, err := c.ListSessions()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATE\tMSGS\tFILES\tLAST ACTIVITY")
			for _, s := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
					s.ID, s.DisplayName, s.State, s.MessageCount, s.FileCount, s.LastActivityAt)
			}
			return w.Flush()
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Create a session",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			s, err := c.CreateSession()
			if err != nil {
				return err
			}
			fmt.Println(s.ID)
			return nil
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "rename <id> <name>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			s, err := c.RenameSession(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s -> %q (%s)\n", s.ID, s.DisplayName, s.State)
			return nil
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "finalize <id>",
		Short: "Lock a session's name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return c.FinalizeSession(args[0])
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return c.ArchiveSession(args[0])
		},
	})

	sessions.AddCommand(&cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a session and its history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return c.DeleteSession(args[0])
		},
	})

	return sessions
}
