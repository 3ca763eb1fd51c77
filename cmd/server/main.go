package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/ClareAI/astra-callbot-service/internal/config"
	"github.com/ClareAI/astra-callbot-service/internal/core/completion"
	"github.com/ClareAI/astra-callbot-service/internal/core/event"
	"github.com/ClareAI/astra-callbot-service/internal/handler"
	"github.com/ClareAI/astra-callbot-service/internal/observability"
	"github.com/ClareAI/astra-callbot-service/internal/services/call"
	"github.com/ClareAI/astra-callbot-service/internal/store"
	"github.com/ClareAI/astra-callbot-service/pkg/logger"
	"github.com/ClareAI/astra-callbot-service/pkg/redis"
	"github.com/ClareAI/astra-callbot-service/pkg/twilio"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Server represents the outbound call service
type Server struct {
	config         *config.CallConfig
	router         *mux.Router
	handlerManager *handler.HandlerManager
	eventBus       *event.DefaultEventBus
	service        *call.Service
	activity       *call.ActivityTracker
	memoryStore    *store.MemoryStore
	closers        []func() error
}

// NewServer wires the store, providers and handlers together
func NewServer(ctx context.Context, cfg *config.CallConfig) *Server {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)

	eventBus := event.NewEventBus()
	for _, middleware := range event.DefaultMiddlewareChain() {
		eventBus.Use(middleware)
	}

	server := &Server{
		config:   cfg,
		router:   mux.NewRouter(),
		eventBus: eventBus,
	}
	conversations := server.newStore(cfg)

	completer := completion.NewClient(ctx, completion.Config{
		APIKey:  cfg.GeminiAPIKey,
		BaseURL: cfg.GeminiBaseURL,
		Model:   cfg.GeminiModel,
		Timeout: cfg.CompletionTimeout,
	}, metrics)
	telephony := twilio.NewVoiceClient(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioPhoneNumber)

	server.service = call.NewService(call.NewConfig(cfg), conversations, telephony, completer, eventBus, metrics)
	server.activity = call.NewActivityTracker(metrics.ActiveConversations)
	if err := server.activity.Subscribe(eventBus); err != nil {
		logger.Base().Error("Failed to subscribe activity tracker", zap.Error(err))
	}

	server.handlerManager = handler.NewHandlerManager(server.service, metrics)
	server.handlerManager.SetupAllRoutes(server.router)

	return server
}

// newStore picks the conversation store. Redis failures fall back to memory
// so a missing cache never stops calls.
func (s *Server) newStore(cfg *config.CallConfig) store.Store {
	if cfg.StoreBackend == config.StoreBackendRedis {
		redisService, err := redis.NewRedisService(&redis.RedisConfig{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err == nil {
			logger.Base().Info("Using Redis conversation store",
				zap.String("host", cfg.RedisHost),
				zap.String("port", cfg.RedisPort))
			s.closers = append(s.closers, redisService.Close)
			return store.NewRedisStore(redisService, cfg.ConversationTTL)
		}
		logger.Base().Error("Failed to connect to Redis, falling back to in-memory store", zap.Error(err))
	}

	s.memoryStore = store.NewMemoryStore()
	logger.Base().Info("Using in-memory conversation store", zap.Duration("ttl", cfg.ConversationTTL))
	return s.memoryStore
}

// Start serves HTTP until ctx is cancelled, then drains in-flight requests
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	if s.memoryStore != nil {
		go s.memoryStore.StartCleanupRoutine(ctx, s.config.CleanupInterval, s.config.ConversationTTL, s.service.NotifyExpired)
	}
	go s.activity.StartPruneRoutine(ctx, s.config.CleanupInterval, s.config.ConversationTTL)

	server := &http.Server{
		Addr:        addr,
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
		// A voice turn may wait for the full completion timeout
		WriteTimeout: s.config.CompletionTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Base().Info("Starting server", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Base().Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// Close releases the event bus and store connections
func (s *Server) Close() {
	if err := s.eventBus.Close(); err != nil {
		logger.Base().Warn("Failed to close event bus", zap.Error(err))
	}
	for _, closeFn := range s.closers {
		if err := closeFn(); err != nil {
			logger.Base().Warn("Failed to close resource", zap.Error(err))
		}
	}
}

func main() {
	// 0. Load .env file for local development if it exists
	// This will not override environment variables set by Helm/Docker
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	// 1. Load configuration from environment
	cfg := config.LoadConfig()
	if _, err := logger.Init(cfg.LogEnv); err != nil {
		log.Printf("Failed to initialize zap logger, falling back to development logger: %v", err)
	}
	defer logger.Sync()

	if missing := cfg.Validate(); len(missing) > 0 {
		logger.Base().Warn("Missing required configuration, calls may fail",
			zap.String("missing", strings.Join(missing, ", ")))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Create the server
	server := NewServer(ctx, cfg)
	defer server.Close()
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("store_backend", cfg.StoreBackend))

	// 3. Start the server
	if err := server.Start(ctx); err != nil {
		logger.Base().Error("Server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Base().Info("Server stopped")
}
