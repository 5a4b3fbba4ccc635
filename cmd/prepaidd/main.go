// Command prepaidd runs the prepaid water ledger daemon: it wires a
// storage backend, the ledger engine, and the HTTP API from a TOML
// configuration file.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/aquastack/prepaid"
	"github.com/aquastack/prepaid/api"
	"github.com/aquastack/prepaid/audit"
	"github.com/aquastack/prepaid/config"
	"github.com/aquastack/prepaid/observability"
	"github.com/aquastack/prepaid/store"
	"github.com/aquastack/prepaid/store/memory"
	"github.com/aquastack/prepaid/store/mongo"
	"github.com/aquastack/prepaid/store/postgres"
	"github.com/aquastack/prepaid/store/sqlite"
	"github.com/aquastack/prepaid/types"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "prepaidd",
	Short: "Prepaid water ledger daemon",
	Long: `prepaidd serves the prepaid water billing ledger over HTTP:
rate schedules, properties, payment-backed credit tokens, and metered
consumption against prepaid balances.`,
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	RunE:  runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "prepaid.toml", "path to TOML configuration file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	metrics := observability.NewMetricsPlugin(prometheus.DefaultRegisterer)
	auditHook := audit.New(audit.SlogRecorder(logger), audit.WithLogger(logger))

	ledger := prepaid.New(st,
		prepaid.WithLogger(logger),
		prepaid.WithLowBalanceThreshold(types.Units(cfg.Ledger.LowBalanceThreshold)),
		prepaid.WithTokenValidity(cfg.Ledger.TokenValidity.Std()),
		prepaid.WithPlugin(metrics),
		prepaid.WithPlugin(auditHook),
	)
	if err := ledger.Start(ctx); err != nil {
		return fmt.Errorf("start ledger: %w", err)
	}
	defer ledger.Stop()

	srv := api.NewServer(ledger, func() error {
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return st.Ping(pingCtx)
	})
	srv.EnableMetrics()

	httpSrv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout.Std(),
		WriteTimeout: cfg.Server.WriteTimeout.Std(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Std())
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
		}
	}()

	logger.Info("listening", "addr", cfg.Addr(), "store", cfg.Store.Backend)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply store migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		st, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return err
		}
		fmt.Println("migrations applied")
		return nil
	},
}

func openStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.New(cfg.Store.Path)
	case "postgres":
		return postgres.New(ctx, cfg.Store.DSN)
	case "mongo":
		return mongo.New(cfg.Store.DSN, cfg.Store.Database)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
