package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"tanav.me/pong/internal/config"
	"tanav.me/pong/internal/roster"
	"tanav.me/pong/internal/sink"
	"tanav.me/pong/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, closeStore, err := newLeaderboardStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	events, closeEvents, err := newEventPublisher(cfg, logger)
	if err != nil {
		return err
	}
	defer closeEvents()

	dispatcher := sink.NewDispatcher(store, events, cfg.Sink.QueueSize, cfg.Sink.Timeout, logger.With("component", "sink"))

	r := roster.New()
	r.OnLeaderboardChange(dispatcher.EnqueueLeaderboard)

	sup := supervisor.New(r, supervisor.Options{
		Match:  cfg.Match(),
		Logger: logger,
		Events: dispatcher,
	})
	defer sup.Close()

	ws := newWSServer(sup, cfg, logger)
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      routes(sup, ws),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("pong server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		ws.closeAll()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			_ = srv.Close()
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func routes(sup *supervisor.Supervisor, ws *wsServer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", handleHealthz)
	mux.HandleFunc("GET /api/leaderboard", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sup.Leaderboard())
	})
	mux.HandleFunc("/ws", ws.handleWS)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func newLeaderboardStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (sink.LeaderboardStore, func(), error) {
	if !cfg.Redis.Enabled {
		return sink.Noop{}, func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info("mirroring leaderboard to redis", "addr", cfg.Redis.Addr, "key", cfg.Redis.Key)
	return sink.NewRedisLeaderboard(client, cfg.Redis.Key), func() { _ = client.Close() }, nil
}

func newEventPublisher(cfg *config.Config, logger *slog.Logger) (sink.EventPublisher, func(), error) {
	if !cfg.NATS.Enabled {
		return sink.Noop{}, func() {}, nil
	}
	conn, err := nats.Connect(
		cfg.NATS.URL,
		nats.Name("pong-server"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to nats: %w", err)
	}
	logger.Info("publishing match events to nats", "url", cfg.NATS.URL, "subject", cfg.NATS.Subject)
	return sink.NewNATSEvents(conn, cfg.NATS.Subject), func() {
		if err := conn.Drain(); err != nil {
			logger.Warn("drain nats", "error", err)
		}
	}, nil
}

func setupLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
