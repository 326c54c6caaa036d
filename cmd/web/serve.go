package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"studyquiz/internal/app"
	"studyquiz/internal/app/observability"
	"studyquiz/internal/db"
	"studyquiz/internal/llm"
	"studyquiz/internal/logger"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig(configPath)
	if err != nil {
		return err
	}

	log, err := logger.New(cfg.AppEnv)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	sqlDB, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	if cfg.DB.AutoMigrate {
		applied, err := db.Migrate(ctx, sqlDB)
		if err != nil {
			return err
		}
		if len(applied) > 0 {
			log.Info("migrations applied", "migrations", applied)
		}
	}

	shutdownTracing, err := observability.InitTracing(ctx, log, observability.TracingConfig{
		ServiceName: "studyquiz",
		Environment: cfg.AppEnv,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		Insecure:    cfg.Tracing.Insecure,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(shutdownCtx)
	}()

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, rate limits fail open until it recovers", "addr", cfg.Redis.Addr, "error", err)
		}
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		APIVersion:     cfg.LLM.APIVersion,
		Model:          cfg.LLM.Model,
		Timeout:        time.Duration(cfg.LLM.TimeoutSeconds) * time.Second,
		ConnectTimeout: time.Duration(cfg.LLM.ConnectTimeoutSeconds) * time.Second,
		Retry:          cfg.LLM.Retry,
	}, log)

	deps := app.Deps{
		DB:        sqlDB,
		Log:       log,
		LLM:       llmClient,
		Collector: observability.NewCollector(sqlDB, log),
	}
	if rdb != nil {
		deps.Redis = rdb
	}

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           app.NewRouter(cfg, deps),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      time.Duration(cfg.LLM.TimeoutSeconds*(cfg.LLM.Retry+1)+30) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("studyquiz listening", "addr", cfg.HTTPAddr, "env", cfg.AppEnv)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
		log.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
