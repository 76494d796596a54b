package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/loschvladislav/ai-service/internal/gateway/cache"
	"github.com/loschvladislav/ai-service/internal/gateway/handlers"
	"github.com/loschvladislav/ai-service/internal/gateway/providers"
	"github.com/loschvladislav/ai-service/internal/shared/config"
	"github.com/loschvladislav/ai-service/internal/shared/database"
	"github.com/loschvladislav/ai-service/internal/shared/logging"
	"github.com/loschvladislav/ai-service/internal/shared/redis"
	"github.com/loschvladislav/ai-service/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logging.Setup(cfg.Env, cfg.LogLevel)

	log.WithFields(log.Fields{"port": cfg.Port, "env": cfg.Env}).Info("starting AI service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Info("connected to PostgreSQL")

	if err := migrations.Up(ctx, db.Conn()); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Redis is optional: without it the service runs with caching and
	// rate limiting disabled.
	var cacheStore cache.Store
	var limiter handlers.RateLimiter
	redisClient, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.WithError(err).Warn("Redis unavailable, caching and rate limiting disabled")
	} else {
		defer redisClient.Close()
		cacheStore = redisClient
		limiter = redisClient
		log.Info("connected to Redis")
	}

	provider, err := providers.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize AI provider: %v", err)
	}
	log.WithField("provider", cfg.AIProvider).Info("initialized AI provider")

	responseCache := cache.New(cacheStore, time.Duration(cfg.CacheTTLSeconds)*time.Second)

	chatHandler := handlers.NewChatHandler(provider, responseCache, db)
	summarizeHandler := handlers.NewSummarizeHandler(provider, responseCache, db)
	translateHandler := handlers.NewTranslateHandler(provider, responseCache, db)
	apiKeyHandler := handlers.NewAPIKeyHandler(db)
	usageHandler := handlers.NewUsageHandler(db)
	diagHandler := handlers.NewDiagnosticsHandler(db)
	mw := handlers.NewMiddleware(db, limiter, cfg.RateLimitPerMinute)

	r := chi.NewRouter()
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(mw.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		handlers.RespondHealth(w, responseCache.Enabled())
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Administrative surface, meant to sit behind a trusted network.
		r.Post("/api-keys", apiKeyHandler.HandleCreate)
		r.Get("/api-keys", apiKeyHandler.HandleList)
		r.Get("/api-keys/{id}", apiKeyHandler.HandleGet)
		r.Patch("/api-keys/{id}", apiKeyHandler.HandleUpdate)
		r.Delete("/api-keys/{id}", apiKeyHandler.HandleDelete)

		r.Get("/usage/{id}", usageHandler.HandleRecords)
		r.Get("/usage/{id}/summary", usageHandler.HandleSummary)

		r.Get("/diagnostics/explain/usage-records/{id}", diagHandler.HandleExplainUsageRecords)
		r.Get("/diagnostics/explain/usage-summary/{id}", diagHandler.HandleExplainUsageSummary)
		r.Get("/diagnostics/explain/api-key-lookup", diagHandler.HandleExplainAPIKeyLookup)

		r.Group(func(r chi.Router) {
			r.Use(mw.Auth)
			r.Use(mw.RateLimit)

			r.Post("/chat", chatHandler.HandleChat)
			r.Post("/chat/stream", chatHandler.HandleChatStream)
			r.Post("/summarize", summarizeHandler.HandleSummarize)
			r.Post("/translate", translateHandler.HandleTranslate)
		})
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("shutting down gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}

	log.Info("server stopped")
}
