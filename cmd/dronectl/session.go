package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// sessionCmd 远程控制：通过 HTTP API 操作运行在 cmd/api 中的决策循环
func sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "session",
		Aliases: []string{"s"},
		Short:   "Control sessions on a running API server",
	}

	start := &cobra.Command{
		Use:   "start <goal>",
		Short: "Start a session",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, _ := cmd.Flags().GetString("source")
			watch, _ := cmd.Flags().GetBool("watch")
			c := clientFor(cmd)
			out, err := c.startSession(strings.Join(args, " "), source)
			if err != nil {
				return err
			}
			if !watch {
				return printJSON(cmd.OutOrStdout(), out)
			}
			id, _ := out["session_id"].(string)
			return watchEvents(cmd.OutOrStdout(), c, id, 200*time.Millisecond)
		},
	}
	start.Flags().String("source", "text", "Input source: text | speech")
	start.Flags().BoolP("watch", "w", false, "Follow events until the session ends")

	watch := &cobra.Command{
		Use:   "watch <id>",
		Short: "Follow a session's events until it ends",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchEvents(cmd.OutOrStdout(), clientFor(cmd), args[0], 200*time.Millisecond)
		},
	}

	cmd.AddCommand(
		start,
		watch,
		simpleCmd("list", "List sessions", 0, func(c *apiClient, _ []string) (map[string]any, error) { return c.listSessions() }),
		simpleCmd("get <id>", "Show a session with its history", 1, func(c *apiClient, a []string) (map[string]any, error) { return c.getSession(a[0]) }),
		simpleCmd("emergency <id>", "Signal an emergency stop", 1, func(c *apiClient, a []string) (map[string]any, error) { return c.emergency(a[0]) }),
		simpleCmd("save <id>", "Save a session to the archive", 1, func(c *apiClient, a []string) (map[string]any, error) { return c.saveSession(a[0]) }),
		simpleCmd("delete <id>", "Remove an ended session", 1, func(c *apiClient, a []string) (map[string]any, error) { return c.deleteSession(a[0]) }),
		simpleCmd("archive <id>", "Load a saved session from the archive", 1, func(c *apiClient, a []string) (map[string]any, error) { return c.getArchive(a[0]) }),
		simpleCmd("reset", "Reset drone state between sessions", 0, func(c *apiClient, _ []string) (map[string]any, error) { return c.resetDrone() }),
	)
	return cmd
}

func clientFor(cmd *cobra.Command) *apiClient {
	base, _ := cmd.Flags().GetString("api")
	return newAPIClient(base)
}

func simpleCmd(use, short string, nargs int, call func(*apiClient, []string) (map[string]any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(nargs),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := call(clientFor(cmd), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
}

// watchEvents 轮询事件直到 Session 进入 DONE 或 ABORTED
func watchEvents(out io.Writer, c *apiClient, id string, interval time.Duration) error {
	var after uint64
	for {
		resp, err := c.sessionEvents(id, after)
		if err != nil {
			return err
		}
		list, _ := resp["events"].([]any)
		terminal := false
		for _, raw := range list {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			seq, _ := m["seq"].(float64)
			after = uint64(seq)
			st, _ := m["state"].(string)
			reason, _ := m["reason"].(string)
			line := fmt.Sprintf("[%3d] %-10s", after, st)
			if reason != "" {
				line += " " + reason
			}
			fmt.Fprintln(out, line)
			if st == "DONE" || st == "ABORTED" {
				terminal = true
			}
		}
		if terminal {
			return nil
		}
		time.Sleep(interval)
	}
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
