package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/danielhkuo/bookclub-vote/cliparse"
	"github.com/danielhkuo/bookclub-vote/db"
	"github.com/danielhkuo/bookclub-vote/metrics"
	"github.com/danielhkuo/bookclub-vote/middleware"
	"github.com/danielhkuo/bookclub-vote/realtime"
	"github.com/danielhkuo/bookclub-vote/router"
)

func main() {
	var err error

	// Parse configuration
	cfg, err := cliparse.ParseFlags(os.Args[1:])
	if err != nil {
		slog.Error("Error parsing flags", "error", err)
		os.Exit(1)
	}

	// Connect to the database
	dbConn, err := db.Open(cfg.DatabaseType, cfg.DatabaseURL)
	if err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	// Create schema (tables)
	if err := db.CreateSchema(dbConn); err != nil {
		slog.Error("schema creation failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database schema ready", "type", cfg.DatabaseType)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	hub := realtime.NewHub(m)
	go hub.Run(ctx)

	// With Redis, events go through the channel so every instance's hub
	// sees them; otherwise they go straight to the local hub.
	var pub realtime.Publisher = hub
	if cfg.RedisURL != "" {
		rp, err := realtime.NewRedisPublisher(ctx, cfg.RedisURL, hub)
		if err != nil {
			slog.Warn("redis unavailable, using local event hub only", "error", err)
		} else {
			defer rp.Close()
			pub = rp
			go func() {
				if err := rp.Relay(ctx); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, realtime.ErrHubStopped) {
					slog.Error("redis relay stopped", "error", err)
				}
			}()
			slog.Info("Realtime events relayed through redis", "channel", realtime.EventChannel)
		}
	}

	// Create router
	mux := router.NewRouter(dbConn, cfg, hub, pub, m)

	// Create server
	server := http.Server{
		Handler:           middleware.CORS(mux),
		Addr:              ":" + strconv.Itoa(cfg.Port),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		// Wait for Ctrl-C signal
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	// Start server
	slog.Info("Listening", "port", cfg.Port)
	err = server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		slog.Error("Server closed", "error", err)
	} else {
		slog.Info("Server closed", "error", err)
	}
}
