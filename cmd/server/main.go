package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClareAI/astra-call-agent/internal/config"
	"github.com/ClareAI/astra-call-agent/internal/handler"
	"github.com/ClareAI/astra-call-agent/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server represents the call-agent server.
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
	httpServer     *http.Server
}

// NewServer creates a new call-agent server.
func NewServer(cfg *config.Config) *Server {
	// Initialize zap logger and redirect stdlib log to it.
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start starts the server and blocks until it exits.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
		// No global write timeout: media-stream WebSockets are long-lived.
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Base().Info("starting server", zap.String("addr", addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains the HTTP server and releases shared clients.
func (s *Server) Shutdown(ctx context.Context) {
	if s.httpServer != nil {
		_ = s.httpServer.Shutdown(ctx)
	}
	s.handlerManager.Close()
	logger.Sync()
}

func main() {
	// Load .env for local development if it exists. This does not override
	// environment variables set by the deployment.
	if err := godotenv.Load(); err != nil {
		log.Printf("info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.Load()

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("failed to create server")
	}
	logger.Base().Info("server initialized",
		zap.String("port", cfg.Port),
		zap.String("tts_engine", cfg.TTSEngine),
		zap.String("tts_voice", cfg.TTSVoice))

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-quit:
		logger.Base().Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		server.Shutdown(ctx)
		cancel()
	}
}
