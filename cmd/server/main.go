package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gorillahandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"codecollab/internal/backplane"
	"codecollab/internal/config"
	"codecollab/internal/handlers"
	"codecollab/internal/notify"
	"codecollab/internal/services"
	"codecollab/internal/store"
	ws "codecollab/internal/websocket"
	"codecollab/pkg/logger"
)

func main() {
	cfg := config.Load()

	// Select the session store backend
	sessionStore, err := newStore(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize session store: %v", err)
	}
	defer sessionStore.Close()

	// Scale-out backplane; absent REDIS_URL means single-process mode
	var bp backplane.Backplane
	if cfg.Store.RedisURL != "" {
		rbp, err := backplane.NewRedisBackplane(cfg.Store.RedisURL)
		if err != nil {
			logger.Fatal("Failed to connect backplane: %v", err)
		}
		defer rbp.Close()
		bp = rbp
		logger.Info("Scale-out backplane enabled")
	}

	// Initialize services
	sessionService := services.NewSessionService(
		sessionStore,
		cfg.Realtime.ChatHistoryLimit,
		cfg.Realtime.DocUpdateLogLimit,
		services.EmptySessionPolicy(cfg.Realtime.EmptySessionPolicy),
	)
	notifier := notify.New()

	// Initialize the realtime hub
	hub := ws.NewHub(sessionService, bp, notifier)
	go hub.Run()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if bp != nil {
		if err := bp.Subscribe(ctx, hub.HandleRemote); err != nil {
			logger.Fatal("Failed to subscribe to backplane: %v", err)
		}
	}

	// Initialize handlers
	wsHandlers := handlers.NewWebSocketHandlers(hub, notifier, cfg.Server.AllowedOrigin)
	sessionHandlers := handlers.NewSessionHandlers(sessionService)

	// Setup routes
	router := mux.NewRouter()
	router.HandleFunc("/ws", wsHandlers.HandleWebSocket)
	router.HandleFunc("/notifications", wsHandlers.HandleNotifications)
	router.HandleFunc("/health", sessionHandlers.Health).Methods(http.MethodGet)
	router.HandleFunc("/sessions", sessionHandlers.ListSessions).Methods(http.MethodGet)

	cors := gorillahandlers.CORS(
		gorillahandlers.AllowedOrigins([]string{cfg.Server.AllowedOrigin}),
		gorillahandlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		gorillahandlers.AllowedHeaders([]string{"Content-Type"}),
	)

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      cors(gorillahandlers.LoggingHandler(os.Stdout, router)),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("Realtime endpoint: ws://localhost%s/ws", cfg.Server.Port)

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Server shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Shutdown error: %v", err)
	}
	hub.Shutdown()
}

func newStore(cfg *config.Config) (store.SessionStore, error) {
	switch cfg.Store.Backend {
	case "redis":
		return store.NewRedisStore(cfg.Store.RedisURL, cfg.Store.SessionTTL)
	case "postgres":
		return store.NewPostgresStore(cfg.Store.DatabaseURL, cfg.Store.SessionTTL)
	default:
		logger.Info("Using in-memory session store")
		return store.NewMemoryStore(cfg.Store.SessionTTL), nil
	}
}
