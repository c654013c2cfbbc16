// Command weightsync-agent runs the on-device sync agent: it owns the
// durable operation queue, drains it against the remote service on a
// timer, and serves the local status API consumed by the capture UI.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	weightsync "github.com/carnedata/weightsync"
	"github.com/carnedata/weightsync/api"
	"github.com/carnedata/weightsync/logging"
	"github.com/carnedata/weightsync/notify"
	"github.com/carnedata/weightsync/queue"
	"github.com/carnedata/weightsync/secrets"
	"github.com/carnedata/weightsync/storage/sqlite"
	"github.com/carnedata/weightsync/transport/httpapi"
)

// envAuth reads the device session role from the environment. A real
// deployment replaces this with the terminal's login session.
type envAuth struct{}

func (envAuth) IsSupervisor() bool {
	return os.Getenv("WEIGHTSYNC_ROLE") == "supervisor"
}

func (envAuth) CurrentUserID() (string, bool) {
	id := os.Getenv("WEIGHTSYNC_USER_ID")
	return id, id != ""
}

func main() {
	logging.Init(logging.GetConfigFromEnv())
	logger := logging.Default()

	if err := run(logger); err != nil {
		logger.Error("agent terminated", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *logging.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := envOr("WEIGHTSYNC_DB", "weightsync.db")
	baseURL := envOr("WEIGHTSYNC_API_URL", "http://localhost:5000")
	listenAddr := envOr("WEIGHTSYNC_LISTEN", "127.0.0.1:8764")
	drainInterval := durationOr("WEIGHTSYNC_DRAIN_INTERVAL", 30*time.Second)

	storeConfig := sqlite.DefaultConfig(dbPath)
	if keyHex := os.Getenv("WEIGHTSYNC_PAYLOAD_KEY"); keyHex != "" {
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return fmt.Errorf("WEIGHTSYNC_PAYLOAD_KEY is not valid hex: %w", err)
		}
		cipher, err := secrets.NewAEADCipher(key)
		if err != nil {
			return fmt.Errorf("invalid payload key: %w", err)
		}
		storeConfig.Cipher = cipher
	}

	store, err := sqlite.New(storeConfig)
	if err != nil {
		return fmt.Errorf("failed to open local store: %w", err)
	}
	defer store.Close()

	transport := httpapi.NewClient(baseURL,
		httpapi.WithToken(os.Getenv("WEIGHTSYNC_API_TOKEN")))
	defer transport.Close()

	hub := notify.NewHub()
	defer hub.Close()
	unsubscribe := hub.Subscribe(func(ev notify.Event) {
		logger.Info("sync event",
			slog.String("type", string(ev.Type)),
			slog.String("title", ev.Title),
			slog.String("message", ev.Message),
		)
	})
	defer unsubscribe()

	q := queue.New(store, queue.WithFailedCounter(store))
	orchestrator := weightsync.NewOrchestrator(q, transport, store, store, envAuth{},
		weightsync.WithNotificationHub(hub))

	server := &http.Server{
		Addr:              listenAddr,
		Handler:           api.NewServer(orchestrator).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("status API listening", slog.String("addr", listenAddr))
		serveErr <- server.ListenAndServe()
	}()

	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()

	logger.Info("agent started",
		slog.String("db", dbPath),
		slog.String("remote", baseURL),
		slog.Duration("drain_interval", drainInterval),
	)

	for {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		case err := <-serveErr:
			if err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("status API failed: %w", err)
			}
			return nil
		case <-ticker.C:
			if err := orchestrator.ProcessQueue(ctx); err != nil && ctx.Err() == nil {
				logger.Error("drain pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
