// Command parley runs the chat orchestration service.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/internal/chat"
	"github.com/parleyhq/parley/internal/config"
	"github.com/parleyhq/parley/internal/data"
	"github.com/parleyhq/parley/internal/llm"
	"github.com/parleyhq/parley/internal/logging"
	"github.com/parleyhq/parley/internal/retrieval"
	"github.com/parleyhq/parley/internal/server"
	"github.com/parleyhq/parley/internal/title"
	"github.com/parleyhq/parley/internal/webfetch"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:     "parley",
		Short:   "Parley chat orchestration service",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.parley/config.yaml)")

	root.AddCommand(newServeCmd(&configPath))
	return root
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func serve(cfg *config.Config) error {
	if err := logging.Setup(logging.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
	}); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	store, err := data.NewDB(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("open data store: %w", err)
	}
	defer store.Close()

	fetcher := webfetch.NewFetcher(30 * time.Second)
	registry := llm.NewRegistryFromConfig(cfg, fetcher)

	var titles chat.TitleGenerator
	if adapter, err := registry.Resolve(cfg.LLM.DefaultProvider); err != nil {
		log.Warn().Str("provider", cfg.LLM.DefaultProvider).
			Msg("default provider not configured, title generation disabled")
	} else {
		titles = title.NewGenerator(adapter)
	}

	augmenter := retrieval.NewAugmenter(
		cfg.VectorStore.Endpoint,
		cfg.VectorStore.APIKey,
		time.Duration(cfg.VectorStore.TimeoutSec)*time.Second,
	)

	orchestrator := chat.NewOrchestrator(store, registry, augmenter, titles)
	srv := server.New(cfg.Server, orchestrator, registry, store)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
