package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	httpplugin "procflow/plugins/http"
	"procflow/runtime"
	"procflow/runtime/engine"
	"procflow/runtime/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine with its HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(ctx context.Context) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := runtime.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	if err := eng.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing engine: %w", err)
	}

	g := gin.Default()
	eng.RegisterRoutes(g)

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: g}
	errs := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errs <- srv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errs:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", "error", err)
	}
	return eng.Shutdown(shutdownCtx)
}

func buildEngine(cfg *runtime.Config, logger *slog.Logger) (*engine.Engine, error) {
	defs, err := runtime.LoadDefinitions(cfg.Engine.DefinitionsDir)
	if err != nil {
		return nil, fmt.Errorf("loading definitions: %w", err)
	}
	defList := make([]*runtime.ProcessDefinition, 0, len(defs))
	for _, def := range defs {
		defList = append(defList, def)
	}

	var instances store.InstanceStore
	var variables store.VariableStore
	switch cfg.Engine.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		instances = store.NewRedisInstanceStore(client)
		variables = store.NewRedisVariableStore(client)
	default:
		instances = store.NewMemoryInstanceStore()
		variables = store.NewMemoryVariableStore()
	}

	registry := runtime.NewRegistry()
	if err := registry.RegisterPlugin("http", &httpplugin.Plugin{}); err != nil {
		return nil, err
	}

	return engine.New(engine.Options{
		Config:      cfg.Engine,
		Properties:  cfg.Properties,
		Definitions: defList,
		Instances:   instances,
		Variables:   variables,
		Registry:    registry,
		Logger:      logger,
	})
}
