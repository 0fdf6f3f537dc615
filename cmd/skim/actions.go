package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	httpAdapter "github.com/cwygoda/skim/internal/adapter/http"
	"github.com/cwygoda/skim/internal/adapter/llm"
	"github.com/cwygoda/skim/internal/adapter/sqlite"
	"github.com/cwygoda/skim/internal/adapter/ws"
	"github.com/cwygoda/skim/internal/auth"
	"github.com/cwygoda/skim/internal/config"
	"github.com/cwygoda/skim/internal/domain"
	"github.com/cwygoda/skim/internal/lang"
	"github.com/cwygoda/skim/internal/logging"
	"github.com/cwygoda/skim/internal/queue"
	"github.com/cwygoda/skim/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// loadConfig reads the config file named by --config and applies the flags
// that were set on the command line.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("log-format") {
		cfg.Log.Format = c.String("log-format")
	}
	return cfg, nil
}

func ServeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("port") {
		cfg.Port = c.Int("port")
	}
	if c.IsSet("db") {
		cfg.DBPath = config.ExpandPath(c.String("db"))
	}
	if c.IsSet("static-dir") {
		cfg.StaticDir = config.ExpandPath(c.String("static-dir"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting skim", "port", cfg.Port, "db", cfg.DBPath, "engine", cfg.Engine.Kind)

	repo, err := sqlite.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer repo.Close()

	authSvc, err := auth.New(repo, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("initialize auth: %w", err)
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("no jwt secret configured, tokens will not survive a restart")
	}

	summarizer, err := llm.New(cfg.Engine, logger.With("component", "engine"))
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	var detector domain.LanguageDetector
	if cfg.Language.Enabled {
		d, err := lang.New(cfg.Language.Languages)
		if err != nil {
			return fmt.Errorf("initialize language detector: %w", err)
		}
		detector = d
	}

	hub := ws.NewHub(logger.With("component", "hub"))

	w := worker.New(worker.Deps{
		Queue:      queue.New(),
		Summarizer: summarizer,
		Items:      repo,
		Notifier:   hub,
		Detector:   detector,
		Logger:     logger.With("component", "worker"),
	}, worker.Options{
		MinTextLength: cfg.Queue.MinTextLength,
		SnippetLength: cfg.Queue.SnippetLength,
		JobTimeout:    cfg.Queue.JobTimeout,
	})

	live := ws.NewHandler(hub, ws.HandlerOptions{
		Status: func() domain.Event {
			st := w.Status()
			return domain.StatusEvent(st.Processing, st.QueueLength)
		},
		Verifier:     authSvc,
		RequireToken: cfg.Auth.RequireWSToken,
		Logger:       logger.With("component", "ws"),
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := httpAdapter.NewServer(httpAdapter.Deps{
		Jobs:      w,
		Items:     repo,
		Users:     repo,
		Auth:      authSvc,
		Live:      live,
		StaticDir: cfg.StaticDir,
		Logger:    logger.With("component", "http"),
	}, addr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.Run(ctx)

	return serveUntilSignal(logger, addr, srv, cancel)
}

func AIServerAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	port := cfg.Engine.ServePort
	if c.IsSet("port") {
		port = c.Int("port")
	}

	logger := logging.New(cfg.Log.Level, cfg.Log.Format)

	engine, err := llm.NewLlama(cfg.Engine, logger.With("component", "engine"))
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	addr := fmt.Sprintf(":%d", port)
	srv := httpAdapter.NewEngineServer(engine, addr, cfg.Engine.APIKey, logger.With("component", "http"))
	logger.Info("starting engine server", "port", port, "command", cfg.Engine.Command, "model", cfg.Engine.Model)

	return serveUntilSignal(logger, addr, srv, func() {})
}

func SummarizeAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// stdout carries the summary only
	logger := logging.NewWithWriter(c.App.ErrWriter, cfg.Log.Level, cfg.Log.Format)

	var in io.Reader = c.App.Reader
	if path := c.String("file"); path != "" {
		f, err := os.Open(config.ExpandPath(path))
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	raw, err := io.ReadAll(in)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return fmt.Errorf("%w: no input text", domain.ErrValidation)
	}

	summarizer, err := llm.New(cfg.Engine, logger)
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if cfg.Queue.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Queue.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	summary, err := summarizer.Summarize(ctx, text, func(percent int) {
		logger.Debug("progress", "percent", percent)
	})
	if err != nil {
		return err
	}
	logger.Info("summarized", "chars", len(text), "duration", time.Since(start))

	_, err = fmt.Fprintln(c.App.Writer, summary)
	return err
}

type server interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// serveUntilSignal runs srv until SIGINT or SIGTERM, then calls stop and
// shuts the server down.
func serveUntilSignal(logger *slog.Logger, addr string, srv server, stop func()) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		stop()
		return fmt.Errorf("http server: %w", err)
	}

	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}
