package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ehrlich-b/perch/internal/config"
	"github.com/ehrlich-b/perch/internal/server"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "perch",
		Short: "perch — talk to your assistant daemon",
		Long:  "Chat with the perch daemon, manage sessions, uploads, and tool permissions.",
	}

	root.PersistentFlags().StringVar(&configPath, "config", config.Default().ConfigPath(), "config file path")

	root.AddCommand(
		chatCmd(),
		sendCmd(),
		sessionsCmd(),
		filesCmd(),
		permissionsCmd(),
		statusCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connect loads config and opens an authenticated client.
func connect() (*server.Client, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	c := server.NewClient(cfg.SocketPath())
	if err := c.Connect("perch-cli"); err != nil {
		return nil, err
	}
	return c, nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check daemon health",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			sessions, err := c.ListSessions()
			if err != nil {
				return err
			}
			fmt.Printf("perchd is up, %d sessions\n", len(sessions))
			return nil
		},
	}
}
