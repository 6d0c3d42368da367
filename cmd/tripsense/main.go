package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/tripsense/ai"
	"github.com/hrygo/tripsense/ai/index"
	"github.com/hrygo/tripsense/ai/memory"
	"github.com/hrygo/tripsense/ai/metrics"
	"github.com/hrygo/tripsense/ai/retrieval"
	"github.com/hrygo/tripsense/internal/profile"
	"github.com/hrygo/tripsense/internal/version"
	"github.com/hrygo/tripsense/server"
	"github.com/hrygo/tripsense/store"
	"github.com/hrygo/tripsense/store/db"
)

var rootCmd = &cobra.Command{
	Use:   "tripsense",
	Short: `Retrieval backend for a travel discovery assistant: semantic search over locations, festivals and cultural items, with per-user memory.`,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		// Try to load .env from the current directory (ignore error if
		// the file doesn't exist).
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Mode:    viper.GetString("mode"),
			Addr:    viper.GetString("addr"),
			Port:    viper.GetInt("port"),
			Data:    viper.GetString("data"),
			Driver:  viper.GetString("driver"),
			DSN:     viper.GetString("dsn"),
			Version: version.GetCurrentVersion(viper.GetString("mode")),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			panic(err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		dbDriver, err := db.NewDBDriver(instanceProfile)
		if err != nil {
			slog.Error("failed to create db driver", "error", err)
			return
		}

		storeInstance := store.New(dbDriver, instanceProfile)
		defer storeInstance.Close()
		if err := storeInstance.Migrate(ctx); err != nil {
			slog.Error("failed to migrate", "error", err)
			return
		}

		if !instanceProfile.IsAIEnabled() {
			slog.Error("embedding api key not configured, cannot serve retrieval")
			return
		}

		metricsRegistry := metrics.NewRegistry(metrics.DefaultConfig())

		embedder, err := ai.NewEmbeddingService(ai.NewEmbeddingConfigFromProfile(instanceProfile), metricsRegistry)
		if err != nil {
			slog.Error("failed to create embedding service", "error", err)
			return
		}
		cachedEmbedder := ai.NewCachedEmbeddingService(embedder, 1000, 10*time.Minute, metricsRegistry)

		memoryService := memory.NewService(storeInstance)
		indexManager := index.NewManager(storeInstance, cachedEmbedder, metricsRegistry, index.Config{
			Dir: instanceProfile.IndexDir,
		})
		assembler := retrieval.NewAssembler(cachedEmbedder, indexManager, memoryService, metricsRegistry)

		// The server starts immediately and reports not-ready until the
		// index load/rebuild completes.
		go func() {
			if err := indexManager.Start(ctx); err != nil {
				slog.Error("index startup failed, serving not-ready", "error", err)
			}
		}()

		s := server.NewServer(instanceProfile, assembler, cachedEmbedder, indexManager, memoryService, metricsRegistry)

		c := make(chan os.Signal, 1)
		// Trigger graceful shutdown on SIGINT or SIGTERM. The default
		// signal sent by `kill` is SIGTERM, which is taken as the graceful
		// shutdown signal by most systems, e.g. Kubernetes.
		signal.Notify(c, terminationSignals...)

		go func() {
			<-c
			s.Shutdown(ctx)
			cancel()
		}()

		printGreetings(instanceProfile)

		if err := s.Start(ctx); err != nil {
			if !errors.Is(err, http.ErrServerClosed) {
				slog.Error("failed to start server", "error", err)
				cancel()
			}
		}

		<-ctx.Done()
	},
}

func init() {
	viper.SetDefault("mode", "dev")
	viper.SetDefault("driver", "sqlite")
	viper.SetDefault("port", 28090)

	rootCmd.PersistentFlags().String("mode", "dev", `mode of server, can be "prod" or "dev" or "demo"`)
	rootCmd.PersistentFlags().String("addr", "", "address of server")
	rootCmd.PersistentFlags().Int("port", 28090, "port of server")
	rootCmd.PersistentFlags().String("data", "", "data directory")
	rootCmd.PersistentFlags().String("driver", "sqlite", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().String("dsn", "", "database source name (aka. DSN)")

	for _, flag := range []string{"mode", "addr", "port", "data", "driver", "dsn"} {
		if err := viper.BindPFlag(flag, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	viper.SetEnvPrefix("tripsense")
	viper.AutomaticEnv()
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("tripsense %s, mode %s, driver %s\n", p.Version, p.Mode, p.Driver)
	fmt.Printf("listening on %s:%d\n", p.Addr, p.Port)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		panic(err)
	}
}
