package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	httpplugin "procflow/plugins/http"
	"procflow/runtime"
	"procflow/runtime/engine"
	"procflow/runtime/store"
)

var (
	runInput   string
	runDir     string
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <process-id>",
	Short: "Execute one process to completion in-process and print the outcome",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOnce(cmd.Context(), args[0])
	},
}

func init() {
	runCmd.Flags().StringVarP(&runInput, "input", "i", "{}", "start payload as JSON")
	runCmd.Flags().StringVarP(&runDir, "dir", "d", "processes", "definitions directory")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", time.Minute, "completion timeout")
}

func runOnce(ctx context.Context, processID string) error {
	var payload map[string]any
	if err := json.Unmarshal([]byte(runInput), &payload); err != nil {
		return fmt.Errorf("parsing --input: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	defs, err := runtime.LoadDefinitions(runDir)
	if err != nil {
		return err
	}
	defList := make([]*runtime.ProcessDefinition, 0, len(defs))
	for _, def := range defs {
		defList = append(defList, def)
	}

	cfg := runtime.EngineConfig{}
	if err := runtime.ApplyDefaults(&cfg); err != nil {
		return err
	}

	registry := runtime.NewRegistry()
	if err := registry.RegisterPlugin("http", &httpplugin.Plugin{}); err != nil {
		return err
	}
	sinks := runtime.NewSinkRegistry()

	eng, err := engine.New(engine.Options{
		Config:      cfg,
		Definitions: defList,
		Instances:   store.NewMemoryInstanceStore(),
		Variables:   store.NewMemoryVariableStore(),
		Registry:    registry,
		Sinks:       sinks,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if err := eng.Initialize(ctx); err != nil {
		return err
	}
	defer func() { _ = eng.Shutdown(context.Background()) }()

	sinkID, outcomes := sinks.AwaitNamed()
	defer sinks.Unregister(sinkID)

	instanceID, err := eng.StartProcess(ctx, processID, payload, sinkID)
	if err != nil {
		return err
	}

	select {
	case outcome := <-outcomes:
		out, err := json.MarshalIndent(outcome, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		if !outcome.Success {
			return fmt.Errorf("process %s failed", processID)
		}
		return nil
	case <-time.After(runTimeout):
		return fmt.Errorf("process %s (instance %s) did not finish within %s", processID, instanceID, runTimeout)
	}
}
