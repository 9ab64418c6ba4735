package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vs4vijay/microsoft-garage/internal/agent/command"
	"github.com/vs4vijay/microsoft-garage/internal/agent/events"
	"github.com/vs4vijay/microsoft-garage/internal/agent/executor"
	"github.com/vs4vijay/microsoft-garage/internal/app"
	"github.com/vs4vijay/microsoft-garage/pkg/tracing"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <goal>",
		Short: "Run a goal with the embedded runtime and print state transitions",
		Long:  "Runs the goal against the configured device (simulator by default). Ctrl-C triggers an emergency stop.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			save, _ := cmd.Flags().GetBool("save")
			quiet, _ := cmd.Flags().GetBool("quiet")
			if quiet {
				cfg.Log.Level = "error"
			}

			if cfg.Monitoring.Tracing.Enable && cfg.Monitoring.Tracing.ExportEndpoint != "" {
				tp, err := tracing.InitTracer(tracing.OTelConfig{
					ServiceName:    cfg.Monitoring.Tracing.ServiceName,
					ExportEndpoint: cfg.Monitoring.Tracing.ExportEndpoint,
					Insecure:       cfg.Monitoring.Tracing.Insecure,
				})
				if err != nil {
					return fmt.Errorf("初始化 tracing 失败: %w", err)
				}
				defer func() { _ = tp.Shutdown(context.Background()) }()
			}

			bootstrap, err := app.NewBootstrap(cfg)
			if err != nil {
				return err
			}
			defer bootstrap.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := app.NewRuntime(ctx, bootstrap)
			if err != nil {
				return err
			}
			defer rt.Close()

			goal, err := rt.Interpreter.Interpret(command.Input{Text: strings.Join(args, " "), Source: source})
			if err != nil {
				return err
			}
			s, err := runGoal(ctx, rt, goal, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if save {
				if err := rt.Engine.Save(context.Background(), s.ID); err != nil {
					return fmt.Errorf("保存 Session 失败: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", s.ID)
			}
			if s.Status() != executor.StatusDone {
				return fmt.Errorf("session %s ended %s (%s): %v", s.ID, s.Status(), s.Info().Reason, s.Err())
			}
			return nil
		},
	}
	cmd.Flags().String("source", command.SourceText, "Input source: text | speech")
	cmd.Flags().Bool("save", false, "Save the session to the configured archive after it ends")
	cmd.Flags().BoolP("quiet", "q", false, "Only print state transitions")
	return cmd
}

// runGoal 启动 Session 并逐条打印事件直到终态；ctx 取消时触发紧急停止
func runGoal(ctx context.Context, rt *app.Runtime, goal command.Goal, out io.Writer) (*executor.Session, error) {
	s, err := rt.Engine.Start(context.Background(), goal)
	if err != nil {
		return nil, err
	}
	ch, unsubscribe := rt.Broker.Subscribe(s.ID)
	defer unsubscribe()

	var last uint64
	emit := func(e events.Event) {
		if e.Seq <= last {
			return
		}
		last = e.Seq
		printEvent(out, e)
	}
	for _, e := range rt.Broker.History(s.ID, 0) {
		emit(e)
	}

	stopping := false
	for {
		select {
		case e, ok := <-ch:
			if !ok {
				return s, nil
			}
			emit(e)
		case <-ctx.Done():
			if !stopping {
				stopping = true
				fmt.Fprintln(out, "interrupt: emergency stop")
				_ = rt.Engine.Emergency(s.ID)
			}
			ctx = context.Background()
		case <-s.Done():
			for _, e := range rt.Broker.History(s.ID, last) {
				emit(e)
			}
			return s, nil
		}
	}
}

func printEvent(out io.Writer, e events.Event) {
	line := fmt.Sprintf("[%3d] %-10s", e.Seq, e.State)
	if e.Reason != "" {
		line += " " + e.Reason
	}
	if len(e.Data) > 0 {
		keys := make([]string, 0, len(e.Data))
		for k := range e.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("%s=%v", k, e.Data[k]))
		}
		line += "  " + strings.Join(parts, " ")
	}
	fmt.Fprintln(out, line)
}
