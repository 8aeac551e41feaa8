package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ehrlich-b/perch/internal/server"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat [session-id]",
		Short: "Interactive chat (creates a session unless one is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}

			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			} else {
				sess, err := c.CreateSession()
				if err != nil {
					return err
				}
				sessionID = sess.ID
				fmt.Printf("session %s\n", sessionID)
			}

			return runChat(cmd.Context(), c, sessionID)
		},
	}
}

func sendCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "send <session-id> <text>",
		Short: "Send one message and print the reply",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := connect()
			if err != nil {
				return err
			}
			reply, err := c.SendMessage(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}
	return cmd
}

func runChat(ctx context.Context, c *server.Client, sessionID string) error {
	conn, err := c.DialWS(ctx, sessionID)
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "bye")

	stdin := bufio.NewScanner(os.Stdin)
	interactive := term.IsTerminal(int(os.Stdin.Fd()))

	for {
		fmt.Print("> ")
		if !stdin.Scan() {
			fmt.Println()
			return stdin.Err()
		}
		text := strings.TrimSpace(stdin.Text())
		if text == "" {
			continue
		}
		if text == "/quit" || text == "/exit" {
			return nil
		}
		if text == "/interrupt" {
			if err := wsjson.Write(ctx, conn, server.Frame{Type: server.FrameChatInterrupt}); err != nil {
				return err
			}
			continue
		}

		if err := wsjson.Write(ctx, conn, server.Frame{Type: server.FrameChatSend, Content: text}); err != nil {
			return err
		}
		if err := readTurn(ctx, conn, stdin, interactive); err != nil {
			return err
		}
	}
}

// readTurn consumes frames for one exchange: progress events stream by,
// permission requests prompt on the terminal, and the final assistant
// event ends the turn.
func readTurn(ctx context.Context, conn *websocket.Conn, stdin *bufio.Scanner, interactive bool) error {
	for {
		var frame server.Frame
		if err := wsjson.Read(ctx, conn, &frame); err != nil {
			return fmt.Errorf("connection lost: %w", err)
		}

		switch frame.Type {
		case server.FrameChatEvent:
			switch frame.Event {
			case "assistant":
				fmt.Println(frame.Content)
				return nil
			case "tool_use":
				fmt.Printf("  [%s %s]\n", frame.Tool, string(frame.Input))
			case "tool_result":
				fmt.Printf("  [%s -> %s]\n", frame.Tool, frame.Content)
			case "error":
				fmt.Printf("error: %s\n", frame.Content)
				return nil
			}
		case server.FramePermissionRequest:
			verdict, scope := promptDecision(stdin, interactive, frame.Tool, string(frame.Input))
			if err := wsjson.Write(ctx, conn, server.Frame{
				Type:      server.FramePermissionDecision,
				RequestID: frame.RequestID,
				Verdict:   verdict,
				Scope:     scope,
			}); err != nil {
				return err
			}
		case server.FrameError:
			fmt.Printf("error: %s\n", frame.Error)
		}
	}
}

// promptDecision asks the user about one tool use. Without a terminal
// the answer is a one-time deny.
func promptDecision(stdin *bufio.Scanner, interactive bool, tool, input string) (verdict, scope string) {
	if !interactive {
		return "deny", "once"
	}

	fmt.Printf("\nallow tool %q with input %s?\n", tool, input)
	fmt.Print("[y]es once / [s]ession / [a]lways / [n]o / [N]ever: ")
	if !stdin.Scan() {
		return "deny", "once"
	}
	switch strings.TrimSpace(stdin.Text()) {
	case "y", "yes":
		return "allow", "once"
	case "s", "session":
		return "allow", "session"
	case "a", "always":
		return "allow", "persistent"
	case "N", "never":
		return "deny", "persistent"
	default:
		return "deny", "once"
	}
}
