package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/quantbrief/alphapipe/config"
	"github.com/quantbrief/alphapipe/internal/budget"
	"github.com/quantbrief/alphapipe/internal/events"
	"github.com/quantbrief/alphapipe/internal/quarantine"
	srv "github.com/quantbrief/alphapipe/internal/server"
	"github.com/quantbrief/alphapipe/internal/store"
)

func main() {
	var root = &cobra.Command{Use: "alphapipe"}

	var cfgPath string
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path")

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run the governance daemon (ops API, quarantine sweeper)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			if serveAddr == "" {
				serveAddr = cfg.Server.Address
			}
			return runServe(cfg, serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.address)")

	var migDir string
	var direction string
	var steps int
	var migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			dsn, err := cfg.Storage.Postgres.DSN()
			if err != nil {
				return err
			}
			return srv.Migrate(migDir, dsn, direction, steps)
		},
	}
	migrateCmd.Flags().StringVar(&migDir, "dir", "file://migrations", "migrations source (file://migrations)")
	migrateCmd.Flags().StringVar(&direction, "direction", "up", "up or down")
	migrateCmd.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")

	root.AddCommand(serve, migrateCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runServe(cfg *config.Config, addr string) error {
	logger := log.New(log.Writer(), "[ALPHAPIPE] ", log.LstdFlags)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ledger := budget.NewLedger(budget.DefaultsFromConfig(cfg.Budget))

	var qopts []quarantine.Option
	if cfg.Storage.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		qopts = append(qopts, quarantine.WithNotifier(events.NewPublisher(client)))
	}
	qstore := quarantine.NewStore(quarantine.PolicyFromConfig(cfg.Quarantine),
		log.New(log.Writer(), "[QUARANTINE] ", log.LstdFlags), qopts...)

	ops := &srv.OpsHandler{Ledger: ledger, Quarantine: qstore}
	if dsn, err := cfg.Storage.Postgres.DSN(); err == nil {
		st, err := store.NewWithDSN(ctx, dsn)
		if err != nil {
			return err
		}
		ops.Store = st
		defer st.DB.Close()
	} else {
		logger.Printf("warn: postgres not configured, ideas and run snapshots will not persist")
	}

	if cfg.Quarantine.SweepIntervalSeconds > 0 {
		go qstore.RunSweeper(ctx, time.Duration(cfg.Quarantine.SweepIntervalSeconds)*time.Second)
	}

	httpSrv := srv.New(addr, []byte(cfg.Server.JWTSecret), ops,
		log.New(log.Writer(), "[HTTP] ", log.LstdFlags))

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Start() }()
	logger.Printf("listening on %s", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
