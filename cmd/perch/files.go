package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

func filesCmd() *cobra.Command {
	files := &cobra.Command{
		Use:   "files",
		Short: "Manage session uploads",
	}

	files.AddCommand(&cobra.Command{
		Use:   "list <session-id>",
		Short: "List a session's files",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			names, err := c.ListFiles(args[0])
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Println(name)
			}
			return nil
		},
	})

	files.AddCommand(&cobra.Command{
		Use:   "add <session-id> <path>",
		Short: "Upload a file to a session",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			return c.UploadFile(args[0], filepath.Base(args[1]), f)
		},
	})

	return files
}
