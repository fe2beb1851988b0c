package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/tsaircargo/whatsapp-gateway/internal/config"
	gateway "github.com/tsaircargo/whatsapp-gateway/internal/gateways"
	"github.com/tsaircargo/whatsapp-gateway/internal/handlers"
	"github.com/tsaircargo/whatsapp-gateway/internal/repository"
	"github.com/tsaircargo/whatsapp-gateway/internal/services"
	xhttp "github.com/tsaircargo/whatsapp-gateway/pkg/http"
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

func main() {

	err := config.Load(argContainsEnvPath())
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return
	}

	// transport (tcp for now)
	s := xhttp.NewServer(xhttp.DefaultServerOption)
	s.Server.ReadBufferSize = 1024 * 16
	s.Server.WriteBufferSize = 1024 * 16
	s.Use(xhttp.CompressMiddleware(6))
	s.Use(xhttp.TimeoutMiddleware(time.Second * 5))
	s.Use(xhttp.RequestLoggerMiddleware)
	s.Use(xhttp.RecoverMiddleware)
	s.Router = xhttp.CreateDefaultRouter()

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

	attemptRepo := repository.NewAttemptRepository(db)
	recipientRepo := repository.NewRecipientRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	// services
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
	webhookService := services.NewWebhookService(webhookEventRepo, attemptRepo)
	healthService := services.NewHealthService(db)

	// v1 handlers
	attemptHandler := handlers.NewAttemptHandler(attemptService, retryService)
	webhookHandler := handlers.NewWebhookHandler(webhookService)
	healthHandler := handlers.NewHealthHandler(healthService)

	g := s.Router.Group("/api/v1")
	handlers.RegisterAttemptRoutes(g, attemptHandler)
	handlers.RegisterWebhookQueryRoutes(g, webhookHandler)
	handlers.RegisterHealthRoutes(g, healthHandler)

	// provider callbacks come in unversioned
	handlers.RegisterWebhookRoutes(s.Router, webhookHandler)

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

	go func() {
		prom.ListenAndServer(":9100", "/metrics")
	}()

	// Create new server
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Kill, os.Interrupt, syscall.SIGTERM)

	go func() {
		var err = s.ListenAndServe(config.Get().HttpListenAddr)
		if err != nil {
			logger.Error("error in running http-server", "error", err)
		}
	}()

	select {
	case <-c:
		s.Shutdown()
	}
}

func argContainsEnvPath() string {
	for _, v := range os.Args {
		if strings.Contains(v, "--env=") {
			s := strings.Split(v, "=")
			if _, err := os.Open(s[1]); err != nil {
				logger.Error("failed to open the passed env file, got error" + err.Error())
				return ""
			}
			return s[1]
		}
	}
	return ""
}
