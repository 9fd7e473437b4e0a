package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"voxscribe/internal/catalog"
	"voxscribe/internal/config"
	"voxscribe/internal/credentials"
	"voxscribe/internal/httpapi"
	"voxscribe/internal/observability"
	"voxscribe/internal/session"
	"voxscribe/internal/transcription"
	"voxscribe/internal/upstream/gemini"
	"voxscribe/internal/upstream/openai"
)

func main() {
	if err := loadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "env file error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	metrics := observability.NewMetrics()

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	upstreamHTTPClient := &http.Client{Timeout: cfg.RequestTimeout, Transport: transport}
	openaiClient := openai.New(cfg.OpenAIBaseURL, upstreamHTTPClient, openai.WithObserver(metrics.UpstreamObserver(string(catalog.ProviderOpenAI))))
	geminiClient := gemini.New(cfg.GeminiBaseURL, upstreamHTTPClient, gemini.WithObserver(metrics.UpstreamObserver(string(catalog.ProviderGemini))))

	transcriptionService := transcription.New(openaiClient, geminiClient, cfg.TranscriptionTimeout)
	store := credentials.NewJSONStore(cfg.CredentialsPath)

	controller := session.New(store, transcriptionService,
		session.WithLogger(logger),
		session.WithObserver(func(p catalog.Provider, state session.State, elapsed time.Duration) {
			metrics.ObserveAttempt(string(p), string(state), elapsed)
		}),
	)
	if err := controller.Load(); err != nil {
		logger.Error("credentials unreadable", "path", store.Path(), "error", err)
		os.Exit(1)
	}
	logger.Info("credentials loaded", "path", store.Path(), "selected_provider", controller.Settings().SelectedProvider)

	handler := httpapi.NewServer(cfg, logger, httpapi.Dependencies{
		Session:     controller,
		Credentials: store,
		KeyCheckers: map[catalog.Provider]httpapi.KeyChecker{
			catalog.ProviderOpenAI: openaiClient,
			catalog.ProviderGemini: geminiClient,
		},
		Metrics:        metrics,
		MetricsHandler: metrics.Handler(),
	})

	// Uploads and provider round trips both happen inside one request.
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      cfg.TranscriptionTimeout + 30*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server exited", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// loadDotEnv reads .env files into the environment. A missing file is fine,
// a malformed one is not.
func loadDotEnv(filenames ...string) error {
	err := godotenv.Load(filenames...)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func newLogger(level string) *slog.Logger {
	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn", "warning":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slogLevel}))
}
