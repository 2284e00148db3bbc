// Command skiffd runs the agent session daemon: durable sessions over
// SQLite or Postgres, streaming provider adapters, and the HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/skiff-ai/skiff/internal/application"
	"github.com/skiff-ai/skiff/internal/domain/entity"
	"github.com/skiff-ai/skiff/internal/domain/repository"
	"github.com/skiff-ai/skiff/internal/domain/service"
	domaintool "github.com/skiff-ai/skiff/internal/domain/tool"
	"github.com/skiff-ai/skiff/internal/infrastructure/config"
	"github.com/skiff-ai/skiff/internal/infrastructure/httpstream"
	"github.com/skiff-ai/skiff/internal/infrastructure/llm"
	_ "github.com/skiff-ai/skiff/internal/infrastructure/llm/anthropic"
	_ "github.com/skiff-ai/skiff/internal/infrastructure/llm/openai"
	"github.com/skiff-ai/skiff/internal/infrastructure/logger"
	"github.com/skiff-ai/skiff/internal/infrastructure/monitoring"
	"github.com/skiff-ai/skiff/internal/infrastructure/persistence"
	builtintool "github.com/skiff-ai/skiff/internal/infrastructure/tool"
	"github.com/skiff-ai/skiff/internal/infrastructure/toolrunner"
	httpiface "github.com/skiff-ai/skiff/internal/interfaces/http"
)

const (
	appName    = "skiffd"
	appVersion = "0.1.0"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   appName,
		Short: "skiffd — durable LLM agent session daemon",
		RunE:  func(cmd *cobra.Command, args []string) error { return runServe(configPath) },
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the session daemon",
		RunE:  func(cmd *cobra.Command, args []string) error { return runServe(configPath) },
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, appVersion)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check configuration and environment",
		RunE:  func(cmd *cobra.Command, args []string) error { return runDoctor(configPath) },
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: cfg.Log.OutputPath,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	log.Info("Starting skiffd",
		zap.String("version", appVersion),
		zap.String("model", cfg.Model.ID),
		zap.String("provider", cfg.Model.Provider),
	)

	// With an explicit config file, watch it and surface edits. Settings
	// are bound at construction, so a restart is still needed to apply.
	if configPath != "" {
		watcher, err := config.NewWatcher(configPath, log, func(updated *config.Config) {
			log.Info("Config file changed; restart to apply",
				zap.String("model", updated.Model.ID),
			)
		})
		if err != nil {
			log.Warn("Config watch unavailable", zap.Error(err))
		} else {
			defer watcher.Close()
		}
	}

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := domaintool.NewInMemoryRegistry()
	if err := builtintool.RegisterBuiltins(registry, cfg.Agent.Workspace); err != nil {
		return fmt.Errorf("register builtin tools: %w", err)
	}

	var runner *toolrunner.Runner
	if cfg.Runner.Enabled {
		runner = toolrunner.NewRunner(cfg.Runner.URL, log)
		if err := runner.Connect(ctx); err != nil {
			return fmt.Errorf("connect tool runner: %w", err)
		}
		defer runner.Close()
		if cfg.Runner.ManifestPath != "" {
			manifest, err := toolrunner.ParseManifest(cfg.Runner.ManifestPath)
			if err != nil {
				return fmt.Errorf("load runner manifest: %w", err)
			}
			if err := toolrunner.RegisterManifest(registry, runner, manifest); err != nil {
				return fmt.Errorf("register runner tools: %w", err)
			}
			log.Info("Runner tools registered",
				zap.String("manifest", cfg.Runner.ManifestPath),
				zap.Int("tools", len(manifest.Tools)),
			)
		}
	}

	model, err := cfg.Model.Entity()
	if err != nil {
		return err
	}
	opts := llm.StreamOptions{
		MaxTokens:       cfg.Model.MaxTokens,
		ReasoningEffort: cfg.Model.ReasoningEffort,
	}
	if cfg.Model.Temperature != 0 {
		temp := cfg.Model.Temperature
		opts.Temperature = &temp
	}
	if provider, ok := cfg.Providers[cfg.Model.Provider]; ok {
		opts.APIKey = provider.APIKey
		if model.BaseURL == "" {
			model.BaseURL = provider.BaseURL
		}
	}

	monitor := monitoring.NewMonitor(log)
	llmRegistry := llm.NewRegistry(llm.Deps{
		Client: httpstream.NewClient(log),
		Logger: log,
	})

	manager := application.NewManager(store, registry, llmRegistry, application.ManagerConfig{
		Model:         model,
		StreamOptions: opts,
		Agent: service.AgentConfig{
			SystemPrompt:  cfg.Agent.SystemPrompt,
			MaxTurns:      cfg.Agent.MaxTurns,
			ParallelTools: cfg.Agent.ParallelTools,
			Compaction: service.CompactionPolicy{
				ContextLimit: cfg.Agent.Compaction.ContextLimit,
				TriggerRatio: cfg.Agent.Compaction.TriggerRatio,
				KeepRecent:   cfg.Agent.Compaction.KeepRecent,
			},
		},
		EventBusBuffer: cfg.EventBus.Buffer,
	}, monitor, log)

	server := httpiface.NewServer(httpiface.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
		Mode: cfg.Server.Mode,
	}, manager, monitor, log)
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("start http server: %w", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Stop(shutdownCtx); err != nil {
		log.Error("HTTP shutdown failed", zap.Error(err))
	}
	manager.Stop()
	log.Info("skiffd stopped")
	return nil
}

func newStore(cfg *config.Config) (repository.SessionStore, error) {
	if cfg.Database.Type == "memory" {
		return persistence.NewMemoryStore(), nil
	}
	db, err := persistence.NewDBConnection(&cfg.Database)
	if err != nil {
		return nil, err
	}
	return persistence.NewGormStore(db), nil
}

func runDoctor(configPath string) error {
	fmt.Printf("%s v%s\n\n", appName, appVersion)

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Printf("✗ config: %v\n", err)
		return err
	}
	fmt.Printf("✓ config loaded (model %s on %s)\n", cfg.Model.ID, cfg.Model.Provider)

	if cfg.Database.Type == "memory" {
		fmt.Println("✓ store: in-memory (transcripts are not durable)")
	} else if _, err := newStore(cfg); err != nil {
		fmt.Printf("✗ store: %v\n", err)
		return err
	} else {
		fmt.Printf("✓ store: %s\n", cfg.Database.Type)
	}

	provider, err := entity.ParseProvider(cfg.Model.Provider)
	if err != nil {
		fmt.Printf("✗ provider: %v\n", err)
		return err
	}
	if cfg.Providers[cfg.Model.Provider].APIKey != "" {
		fmt.Println("✓ provider key: from config")
	} else if env := llm.ProviderEnvVar(provider); env != "" && os.Getenv(env) != "" {
		fmt.Printf("✓ provider key: from %s\n", env)
	} else {
		fmt.Println("! provider key: not configured; requests will fail")
	}

	if cfg.Runner.Enabled {
		fmt.Printf("✓ tool runner: %s\n", cfg.Runner.URL)
	}
	return nil
}
