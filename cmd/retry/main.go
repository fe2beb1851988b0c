package main

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/tsaircargo/whatsapp-gateway/internal/config"
	gateway "github.com/tsaircargo/whatsapp-gateway/internal/gateways"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/internal/services"
	"github.com/tsaircargo/whatsapp-gateway/pkg/logger"
	"github.com/tsaircargo/whatsapp-gateway/pkg/pg"
	"github.com/tsaircargo/whatsapp-gateway/pkg/prom"
	"github.com/tsaircargo/whatsapp-gateway/pkg/redis"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// One-shot scheduler run. Cron (or an operator) invokes this binary; every
// mutation it performs is guarded by conditional updates, so overlapping
// invocations are harmless.
//
//	retry --env=.env [--max=N] [--dry-run] [--cleanup] [--cleanup-days=N]
func main() {

	err := config.Load(argValue("--env="))
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	readConf := pg.Config{
		User:     config.Get().PostgresReadUser,
		Host:     config.Get().PostgresReadHost,
		Port:     config.Get().PostgresReadPort,
		Password: config.Get().PostgresReadPassword,
		Database: config.Get().PostgresReadDatabase,
	}
	writeConf := pg.Config{
		User:     config.Get().PostgresWriteUser,
		Host:     config.Get().PostgresWriteHost,
		Port:     config.Get().PostgresWritePort,
		Password: config.Get().PostgresWritePassword,
		Database: config.Get().PostgresWriteDatabase,
	}

	pgDebug := false
	if config.Get().AppEnv == "dev" {
		pgDebug = true
	}
	db, err := pg.CreateReadWrite(readConf, writeConf, pgDebug)
	if err != nil {
		logger.Error("failed connecting to pg", "error", err)
		return
	}

	redisAdap, err := redis.NewRedisAdapter("default", config.Get().RedisUniversalKeyPrefix, &redis.Options{
		Addrs:      []string{config.Get().RedisAddr},
		ClientName: "default",
		DB:         config.Get().RedisDatabase,
		Username:   config.Get().RedisUsername,
		Password:   config.Get().RedisPassword,
	})
	if err != nil {
		logger.Error("failed connecting to redis", "error", err)
		return
	}

	client, err := gateway.NewClient(&gateway.Config{
		Regions: map[gateway.Region]gateway.RegionConfig{
			gateway.RegionMali: {
				BaseURL:     config.Get().WachapMaliUrl,
				AccessToken: config.Get().WachapMaliAccessToken,
				InstanceID:  config.Get().WachapMaliInstanceID,
			},
			gateway.RegionChine: {
				BaseURL:     config.Get().WachapChineUrl,
				AccessToken: config.Get().WachapChineAccessToken,
				InstanceID:  config.Get().WachapChineInstanceID,
			},
		},
		Timeout:                 config.Get().WachapTimeout,
		MaxConns:                config.Get().WachapMaxConns,
		ReadBufferSize:          1024 * 4,
		WriteBufferSize:         1024 * 4,
		CircuitBreakerThreshold: config.Get().WachapCircuitBreakerThreshold,
		CircuitBreakerTimeout:   config.Get().WachapCircuitBreakerTimeout,
	})
	if err != nil {
		logger.Error("failed to create wachap client", "error", err)
		return
	}

	var hostname string
	hostname, err = os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	err = prom.Create(hostname, config.Get().AppEnv, config.Get().PromNamespace)
	if err != nil {
		logger.Error("failed to create prometheus metrics", "error", err)
		return
	}

	attemptRepo := repository.NewAttemptRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)

	attemptService := services.NewAttemptService(attemptRepo, recipientRepo, client,
		services.RetryPolicy{
			MaxAttempts:        config.Get().RetryMaxAttempts,
			BaseDelay:          config.Get().RetryBaseDelay,
			ExponentialBackoff: config.Get().RetryExponentialBackoff,
		},
		services.RedirectPolicy{Phone: config.Get().DevRedirectPhone})
	retryService := services.NewRetryService(attemptRepo, attemptService,
		services.NewRedisRunLocker(redisAdap),
		services.RetryServiceConfig{
			BatchSize:  config.Get().RetryBatchSize,
			Workers:    config.Get().RetryWorkers,
			RunLockTTL: config.Get().RetryRunLockTTL,
		})

	ctx := context.Background()

	stats, err := retryService.ProcessPendingRetries(ctx, services.RunOptions{
		MaxPerRun: argIntValue("--max=", 0),
		DryRun:    argPresent("--dry-run"),
	})
	if err != nil {
		logger.Error("retry run failed", "error", err)
		os.Exit(1)
	}

	logger.Info("retry run complete",
		"run_id", stats.RunID,
		"dry_run", stats.DryRun,
		"processed", stats.Processed,
		"success", stats.Success,
		"failed", stats.Failed)
	for _, e := range stats.Errors {
		logger.Warn("retry run error", "detail", e)
	}

	if argPresent("--cleanup") {
		if argPresent("--dry-run") {
			logger.Info("cleanup skipped on dry run")
		} else {
			days := argIntValue("--cleanup-days=", config.Get().CleanupRetentionDays)
			deleted, err := retryService.Cleanup(ctx, days)
			if err != nil {
				logger.Error("cleanup failed", "error", err)
				os.Exit(1)
			}
			logger.Info("cleanup complete", "deleted", deleted, "retention_days", days)
		}
	}
}

func argValue(prefix string) string {
	for _, v := range os.Args {
		if strings.HasPrefix(v, prefix) {
			return strings.TrimPrefix(v, prefix)
		}
	}
	return ""
}

func argIntValue(prefix string, fallback int) int {
	raw := argValue(prefix)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		logger.Warn("ignoring unparsable flag value", "flag", prefix, "value", raw)
		return fallback
	}
	return n
}

func argPresent(flag string) bool {
	for _, v := range os.Args {
		if v == flag {
			return true
		}
	}
	return false
}
