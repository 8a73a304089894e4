// Package main is the entry point for the development thread API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/capitalize-ai/threadchat/internal/config"
	"github.com/capitalize-ai/threadchat/internal/events"
	"github.com/capitalize-ai/threadchat/internal/handler"
	"github.com/capitalize-ai/threadchat/internal/llm"
	"github.com/capitalize-ai/threadchat/internal/service"
	"github.com/capitalize-ai/threadchat/pkg/logger"
	"github.com/capitalize-ai/threadchat/pkg/tracing"
)

func main() {
	// Load configuration, letting a local .env fill in unset variables
	_ = godotenv.Load(".env")
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	log.Info("starting thread API server")

	ctx := context.Background()
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "threadchat-api", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(ctx, tp)
		}
	}

	// NATS is only needed for readiness when events are enabled.
	var eventsClient *events.Client
	if cfg.EventsEnabled {
		eventsClient, err = events.Connect(ctx, events.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			log.Error("failed to connect to NATS", zap.Error(err))
			os.Exit(1)
		}
		defer eventsClient.Close()

		if err := events.NewJetStreamSink(eventsClient).EnsureStream(ctx); err != nil {
			log.Error("failed to ensure stream", zap.Error(err))
			os.Exit(1)
		}
	}

	llmClient, err := newLLMClient(cfg)
	if err != nil {
		log.Error("failed to create LLM client", zap.String("provider", cfg.DefaultLLM), zap.Error(err))
		os.Exit(1)
	}
	log.Info("LLM provider ready", zap.String("provider", llmClient.Name()))

	// Initialize services
	threadSvc := service.NewThreadService(log)
	messageSvc := service.NewMessageService(threadSvc, llmClient, log)

	router := handler.NewRouter(handler.RouterConfig{
		Threads:           handler.NewThreadHandler(threadSvc, messageSvc, log, cfg.SSEKeepAlive),
		Health:            handler.NewHealthHandler(eventsClient),
		Logger:            log,
		JWTSecret:         cfg.JWTSecret,
		RateLimitRequests: cfg.RateLimitRequests,
		RateLimitWindow:   cfg.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}

	log.Info("server stopped")
}

// newLLMClient picks the configured provider, falling back to whichever
// key is present.
func newLLMClient(cfg *config.Config) (llm.Client, error) {
	switch llm.Provider(cfg.DefaultLLM) {
	case llm.ProviderAnthropic:
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	case llm.ProviderOpenAI:
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	case llm.ProviderEcho:
		return llm.NewEchoClient(), nil
	}

	if cfg.AnthropicAPIKey != "" {
		return llm.NewAnthropicClient(cfg.AnthropicAPIKey)
	}
	if cfg.OpenAIAPIKey != "" {
		return llm.NewOpenAIClient(cfg.OpenAIAPIKey)
	}
	return nil, fmt.Errorf("unknown LLM provider %q and no API key configured", cfg.DefaultLLM)
}
