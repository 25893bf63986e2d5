package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"affect-core/internal/config"
	apihttp "affect-core/internal/http"
	"affect-core/internal/llm"
	"affect-core/internal/repository"
	"affect-core/internal/service"
	"affect-core/internal/transport"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	params, err := config.LoadAffectParams(cfg.AffectConfig)
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	store, storeCorrupt, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("open affect store", zap.Error(err))
	}
	defer store.Close()
	if storeCorrupt {
		logger.Warn("affect store failed integrity check, attempting backup recovery")
	}

	clock := service.NewSystemClock()
	decay := service.NewDecayEngine(params)
	handler := service.NewInteractionHandler(params)
	modulator := service.NewModulator(params)
	persistence := service.NewPersistenceService(store, decay, clock, logger, params, cfg.RequireState)

	state, err := persistence.Restore(ctx, storeCorrupt)
	if err != nil {
		logger.Fatal("restore emotional state", zap.Error(err))
	}

	cooldowns := service.NewMemoryCooldownStore()
	if cfg.RedisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed, using in-memory cooldowns", zap.Error(err))
		} else if rc := service.NewRedisCooldownStore(redisClient, 48*time.Hour); rc != nil {
			cooldowns = rc
		}
		cancel()
	}

	var llmClient llm.LLMClient
	if cfg.LLMAPIKey == "" {
		logger.Warn("no LLM api key configured, running with mock generator")
		llmClient = &llm.MockClient{Response: "(modo offline) aca iria mi respuesta"}
	} else {
		llmClient = llm.NewHTTPClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, logger)
	}

	transports := []transport.Transport{transport.NewConsoleTransport(logger)}
	if cfg.WebhookURL != "" {
		transports = append(transports, transport.NewWebhookTransport(cfg.WebhookURL, params.SendTimeout()))
	}

	autonomy := service.NewAutonomyEvaluator(params, cooldowns)
	scheduler := service.NewScheduler(
		logger, clock, params,
		handler, decay, modulator, persistence, autonomy,
		llmClient, transports, state,
	)

	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Run(ctx)
		close(schedulerDone)
	}()

	affectHandler := apihttp.NewAffectHandler(logger, scheduler, persistence)
	router := apihttp.NewRouter(logger, affectHandler)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("starting server", zap.String("port", cfg.HTTPPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	// El scheduler drena el embudo y escribe el snapshot de shutdown.
	select {
	case <-schedulerDone:
	case <-shutdownCtx.Done():
		logger.Warn("scheduler did not stop before deadline")
	}
}

// openStore abre el backend configurado. Un chequeo de integridad fallido en
// SQLite no es fatal: devolvemos el store mas la señal de corrupcion para
// que el restore camine los backups.
func openStore(ctx context.Context, cfg *config.Config) (repository.AffectStore, bool, error) {
	switch cfg.StoreBackend {
	case "postgres":
		store, err := repository.NewPgStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, false, err
		}
		return store, false, nil
	case "sqlite", "":
		store, err := repository.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			if store != nil && errors.Is(err, repository.ErrCorruptStore) {
				return store, true, nil
			}
			return nil, false, err
		}
		return store, false, nil
	default:
		return nil, false, errors.New("unknown store backend: " + cfg.StoreBackend)
	}
}
