package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func permissionsCmd() *cobra.Command {
	perms := &cobra.Command{
		Use:   "permissions",
		Short: "Manage persistent tool permissions",
	}

	perms.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List persistent rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			rules, err := c.ListPermissions()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tVERDICT\tUPDATED")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Tool, r.Verdict, r.UpdatedAt)
			}
			return w.Flush()
		},
	})

	perms.AddCommand(&cobra.Command{
		Use:   "allow <tool>",
		Short: "Always allow a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return c.PutPermission(args[0], "allow")
		},
	})

	perms.AddCommand(&cobra.Command{
		Use:   "deny <tool>",
		Short: "Always deny a tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return c.PutPermission(args[0], "deny")
		},
	})

	perms.AddCommand(&cobra.Command{
		Use:   "clear <tool>",
		Short: "Remove a persistent rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			return c.DeletePermission(args[0])
		},
	})

	return perms
}
