// cmd/pipeline-server/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"research-pipeline/internal/common/config"
	"research-pipeline/internal/common/database"
	"research-pipeline/internal/common/logger"
	"research-pipeline/internal/common/observability"
	"research-pipeline/internal/pipeline"
	"research-pipeline/internal/pipeline/critic"
	"research-pipeline/internal/pipeline/drafter"
	"research-pipeline/internal/pipeline/researcher"
	"research-pipeline/internal/server"
	"research-pipeline/internal/store/archive"
	"research-pipeline/internal/store/history"
)

const historyTTL = 24 * time.Hour

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2 // Exponential backoff
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	// Wrap zap logger with our logger interface
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting research pipeline server...",
		zap.String("app", cfg.App.Name),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	defer obs.Shutdown()

	ctx := context.Background()

	// --- Init PostgreSQL with retry ---
	var pg *database.PostgresClient
	err = retryWithBackoff(func() error {
		var err error
		pg, err = database.NewPostgres(cfg.Database.Postgres)
		if err != nil {
			return err
		}
		return pg.Ping(ctx)
	}, 15, 2*time.Second, zapLog, "PostgreSQL connection")

	if err != nil {
		zapLog.Fatal("postgres failed after retries", zap.Error(err))
	}
	defer pg.Close()
	zapLog.Info("PostgreSQL connected successfully")

	// --- Init Redis with retry ---
	var redisClient *database.RedisClient
	err = retryWithBackoff(func() error {
		var err error
		redisClient, err = database.NewRedis(cfg.Database.Redis)
		if err != nil {
			return err
		}
		return redisClient.Ping(ctx)
	}, 10, 2*time.Second, zapLog, "Redis connection")

	if err != nil {
		zapLog.Fatal("redis failed after retries", zap.Error(err))
	}
	defer redisClient.Close()
	zapLog.Info("Redis connected successfully")

	// --- Stage Handlers ---
	researcherHandler := researcher.NewHandler(&researcher.Config{
		SearchAPIBaseURL: cfg.APIs.WebSearch.BaseURL,
		SearchAPIKey:     cfg.APIs.WebSearch.APIKey,
		SearchEngineID:   cfg.APIs.WebSearch.EngineID,
		GenAIBaseURL:     cfg.APIs.GenAI.BaseURL,
		GenAIAPIKey:      cfg.APIs.GenAI.APIKey,
		SearchTimeout:    config.GetDuration(cfg.Pipeline.SearchTimeout),
		SummaryTimeout:   config.GetDuration(cfg.Pipeline.GenerateTimeout),
		MaxRetries:       cfg.Pipeline.SearchRetries,
		RetryDelay:       2 * time.Second,
		MaxResults:       cfg.Pipeline.MaxResults,
		MaxQueryLength:   cfg.Pipeline.MaxQueryLength,
		MaxInputLength:   cfg.Pipeline.MaxInputLength,
	}, &researcherLoggerAdapter{log})

	drafterHandler, err := drafter.NewHandler(&drafter.Config{
		GenAIBaseURL:   cfg.APIs.GenAI.BaseURL,
		GenAIAPIKey:    cfg.APIs.GenAI.APIKey,
		Timeout:        config.GetDuration(cfg.Pipeline.GenerateTimeout),
		MaxRetries:     cfg.Pipeline.GenerateRetries,
		MaxTokens:      cfg.APIs.GenAI.MaxTokens,
		Temperature:    cfg.APIs.GenAI.Temperature,
		MaxInputLength: cfg.Pipeline.MaxInputLength,
	}, &drafterLoggerAdapter{log})
	if err != nil {
		zapLog.Fatal("drafter init failed", zap.Error(err))
	}

	criticHandler, err := critic.NewHandler(&critic.Config{
		GenAIBaseURL:   cfg.APIs.GenAI.BaseURL,
		GenAIAPIKey:    cfg.APIs.GenAI.APIKey,
		Timeout:        config.GetDuration(cfg.Pipeline.GenerateTimeout),
		MaxRetries:     cfg.Pipeline.GenerateRetries,
		MaxTokens:      1000,
		Temperature:    0.1,
		MaxInputLength: cfg.Pipeline.MaxInputLength,
	}, &criticLoggerAdapter{log})
	if err != nil {
		zapLog.Fatal("critic init failed", zap.Error(err))
	}

	// --- Stores ---
	historyStore := history.New(redisClient.GetClient(), cfg.Pipeline.HistorySize, historyTTL, &historyLoggerAdapter{log})
	archiveStore := archive.New(pg.GetDB(), &archiveLoggerAdapter{log})

	// --- Pipeline ---
	p := pipeline.New(
		&pipeline.Config{ScoreThreshold: cfg.Pipeline.ScoreThreshold},
		researcherHandler,
		drafterHandler,
		criticHandler,
		&pipelineLoggerAdapter{log},
	).
		WithHistory(historyStore).
		WithArchive(archiveStore).
		WithObservability(obs)

	// --- HTTP Server ---
	srv := server.New(&server.Config{
		Address:        cfg.Server.Address,
		RequestTimeout: config.GetDuration(cfg.Server.WriteTimeout),
	}, p, &serverLoggerAdapter{log})

	srv.AddHealthCheck("postgres", pg.Ping)
	srv.AddHealthCheck("redis", redisClient.Ping)

	go func() {
		if err := srv.Start(); err != nil {
			zapLog.Error("server stopped", zap.Error(err))
		}
	}()

	// --- Graceful shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zapLog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("server shutdown failed", zap.Error(err))
	}

	zapLog.Info("Research pipeline server stopped gracefully")
}

// Logger adapters for packages that have their own Logger interfaces
type researcherLoggerAdapter struct {
	logger.Logger
}

func (a *researcherLoggerAdapter) With(fields map[string]interface{}) researcher.Logger {
	return &researcherLoggerAdapter{a.Logger.With(fields)}
}

type drafterLoggerAdapter struct {
	logger.Logger
}

func (a *drafterLoggerAdapter) With(fields map[string]interface{}) drafter.Logger {
	return &drafterLoggerAdapter{a.Logger.With(fields)}
}

type criticLoggerAdapter struct {
	logger.Logger
}

func (a *criticLoggerAdapter) With(fields map[string]interface{}) critic.Logger {
	return &criticLoggerAdapter{a.Logger.With(fields)}
}

type pipelineLoggerAdapter struct {
	logger.Logger
}

func (a *pipelineLoggerAdapter) With(fields map[string]interface{}) pipeline.Logger {
	return &pipelineLoggerAdapter{a.Logger.With(fields)}
}

type historyLoggerAdapter struct {
	logger.Logger
}

func (a *historyLoggerAdapter) With(fields map[string]interface{}) history.Logger {
	return &historyLoggerAdapter{a.Logger.With(fields)}
}

type archiveLoggerAdapter struct {
	logger.Logger
}

func (a *archiveLoggerAdapter) With(fields map[string]interface{}) archive.Logger {
	return &archiveLoggerAdapter{a.Logger.With(fields)}
}

type serverLoggerAdapter struct {
	logger.Logger
}

func (a *serverLoggerAdapter) With(fields map[string]interface{}) server.Logger {
	return &serverLoggerAdapter{a.Logger.With(fields)}
}
