// Command agentmux-cli drives a running agentmux server: it starts and stops agents,
// sends messages, answers choice prompts, runs discussions and watches events.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/protocol"
)

var (
	addr   string
	apiKey string
)

func main() {
	root := &cobra.Command{
		Use:           "agentmux-cli",
		Short:         "Control terminal AI agents running under agentmux",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&addr, "addr", envOr("AGENTMUX_ADDR", "http://localhost:8080"), "agentmux server address")
	root.PersistentFlags().StringVar(&apiKey, "api-key", os.Getenv("AGENTMUX_API_KEY"), "API key for the event stream")

	root.AddCommand(
		newAgentsCmd(),
		newStartCmd(),
		newStopCmd(),
		newSendCmd(),
		newChoiceCmd(),
		newDiscussCmd(),
		newCancelCmd(),
		newWatchCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, systemStyle.Render("error: "+err.Error()))
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func newAgentsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "List configured agents and their session state",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp struct {
				Agents []domain.AgentSession `json:"agents"`
			}
			if err := NewAPIClient(addr).Do(http.MethodGet, "/v1/agents", nil, &resp); err != nil {
				return fmt.Errorf("failed to list agents: %w", err)
			}
			if len(resp.Agents) == 0 {
				fmt.Println("No agents configured")
				return nil
			}
			for _, s := range resp.Agents {
				fmt.Println(renderSession(s))
			}
			return nil
		},
	}
}

func newStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start <agent>",
		Short: "Start an agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var session domain.AgentSession
			if err := NewAPIClient(addr).Do(http.MethodPost, "/v1/agents/"+args[0]+"/start", nil, &session); err != nil {
				return err
			}
			fmt.Println(renderSession(session))
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <agent>",
		Short: "Stop an agent session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewAPIClient(addr).Do(http.MethodPost, "/v1/agents/"+args[0]+"/stop", nil, nil); err != nil {
				return err
			}
			fmt.Println(dimStyle.Render(args[0] + " stopped"))
			return nil
		},
	}
}

func newSendCmd() *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "send <agent> <text...>",
		Short: "Send a message to an agent",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"text": strings.Join(args[1:], " "),
				"wait": wait,
			}
			var resp struct {
				Text     string `json:"text"`
				Complete bool   `json:"complete"`
			}
			err := NewAPIClient(addr).Do(http.MethodPost, "/v1/agents/"+args[0]+"/messages", body, &resp)
			if resp.Text != "" {
				fmt.Println(agentStyle.Render(args[0]))
				fmt.Println(resp.Text)
			}
			if err != nil {
				return err
			}
			if !wait {
				fmt.Println(dimStyle.Render("sent; use watch to follow the reply"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the reply")
	return cmd
}

func newChoiceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "choice <agent> [number]",
		Short: "Show or answer an agent's interactive choice prompt",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := NewAPIClient(addr)
			if len(args) == 1 {
				var resp struct {
					Prompt *domain.InteractiveChoicePrompt `json:"prompt"`
				}
				if err := client.Do(http.MethodGet, "/v1/agents/"+args[0]+"/prompt", nil, &resp); err != nil {
					return err
				}
				if resp.Prompt == nil {
					fmt.Println(dimStyle.Render("no choice pending"))
					return nil
				}
				fmt.Println(renderPrompt(*resp.Prompt))
				return nil
			}

			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid option number %q", args[1])
			}
			return client.Do(http.MethodPost, "/v1/agents/"+args[0]+"/choice", map[string]int{"number": n}, nil)
		},
	}
}

func newDiscussCmd() *cobra.Command {
	var agents []string
	cmd := &cobra.Command{
		Use:   "discuss <question...>",
		Short: "Start a three-round discussion between running agents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]interface{}{
				"question":     strings.Join(args, " "),
				"participants": agents,
			}
			var run domain.DiscussionRun
			if err := NewAPIClient(addr).Do(http.MethodPost, "/v1/discussions", body, &run); err != nil {
				return err
			}
			fmt.Printf("%s %s with %s\n", phaseStyle.Render("discussion"), run.RunID, strings.Join(run.Participants, ", "))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&agents, "agents", nil, "participants (default: every running agent)")
	return cmd
}

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the active discussion",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := NewAPIClient(addr).Do(http.MethodPost, "/v1/discussions/cancel", nil, nil); err != nil {
				return err
			}
			fmt.Println(dimStyle.Render("discussion cancelled"))
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch [agent]",
		Short: "Stream events of one agent, or of every agent",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			agentID := ""
			if len(args) == 1 {
				agentID = args[0]
			}

			client, err := DialWatch(addr)
			if err != nil {
				return err
			}
			defer client.Close()

			topic, err := client.SendHello(apiKey, agentID)
			if err != nil {
				return err
			}
			fmt.Println(dimStyle.Render("watching " + topic + " (Ctrl+C to exit)"))

			done := make(chan struct{})
			go func() {
				defer close(done)
				client.ReadEvents(func(msg protocol.EventMessage) {
					if out := renderEvent(msg); out != "" {
						fmt.Println(out)
					}
				})
			}()

			interrupt := make(chan os.Signal, 1)
			signal.Notify(interrupt, os.Interrupt)
			select {
			case <-interrupt:
			case <-done:
			}
			return nil
		},
	}
}
