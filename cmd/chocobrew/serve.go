package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/franckalain/chocobrew/internal/auth"
	"github.com/franckalain/chocobrew/internal/batch"
	"github.com/franckalain/chocobrew/internal/config"
	"github.com/franckalain/chocobrew/internal/database"
	"github.com/franckalain/chocobrew/internal/logger"
	"github.com/franckalain/chocobrew/internal/lookupimage"
	"github.com/franckalain/chocobrew/internal/metrics"
	"github.com/franckalain/chocobrew/internal/ml"
	"github.com/franckalain/chocobrew/internal/server"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = config.GetConfigPath()
			}
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.New(cfg.Log.Env, cfg.Server.Debug)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()

	db, err := database.NewSQLiteDB(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loader, err := ml.NewLoader(cfg.ML.Type, cfg.ML.ModelPath)
	if err != nil {
		return fmt.Errorf("failed to create model loader: %w", err)
	}
	state := ml.LoadState(ctx, loader, log)

	m := metrics.New(prometheus.DefaultRegisterer)
	estimator := ml.NewEstimator(state, log, ml.WithObserver(m))

	batches := batch.NewService(batch.Config{
		Store:     db,
		Estimator: estimator,
		Images:    lookupimage.NewQRGenerator(lookupimage.DefaultSize),
		BaseURL:   cfg.Server.BaseURL,
		Log:       log,
		Recorder:  m,
	})

	var origins []string
	if origin := cfg.Origin(); origin != "" {
		origins = append(origins, origin)
	}

	srv := server.New(server.Options{
		Batches:      batches,
		Auth:         auth.NewService(db, cfg.Auth.JWTSecret, cfg.Auth.SessionTTL),
		DB:           db,
		Metrics:      m,
		Gatherer:     prometheus.DefaultGatherer,
		Log:          log,
		CookieName:   cfg.Auth.CookieName,
		StaticDir:    cfg.Server.StaticDir,
		SecureCookie: strings.HasPrefix(cfg.Server.BaseURL, "https://"),
		Debug:        cfg.Server.Debug,

		AllowedOrigins: origins,
	})

	log.Info("Configuration loaded",
		zap.String("database", cfg.Database.Path),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("ml_type", cfg.ML.Type),
	)
	if err := srv.Start(ctx, cfg.Server.Port); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}
