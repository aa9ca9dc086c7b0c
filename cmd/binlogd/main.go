// Command binlogd is the binlog decode job server. It loads a YAML
// configuration file, opens the SQLite job ledger and optional PostgreSQL
// bulk sink, starts the hash-chained audit log, exposes a JWT-protected REST
// API for submitting and polling decode jobs, serves per-job progress over
// WebSocket, and shuts down gracefully on SIGTERM or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tripwire/binlog/internal/api/rest"
	"github.com/tripwire/binlog/internal/api/websocket"
	"github.com/tripwire/binlog/internal/audit"
	"github.com/tripwire/binlog/internal/config"
	"github.com/tripwire/binlog/internal/sink/postgres"
	"github.com/tripwire/binlog/internal/sink/sqlite"
)

func main() {
	configPath := flag.String("config", "binlogd.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		// config.Load wraps parse and validation errors; the logger is not
		// yet configured at this point, so fall back to the default level.
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("binlogd starting", slog.String("listen_addr", cfg.ListenAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Job ledger ───────────────────────────────────────────────────────────
	store, err := sqlite.Open(cfg.SQLite.Path)
	if err != nil {
		logger.Error("failed to open job ledger", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()

	// ── Optional PostgreSQL bulk record sink ────────────────────────────────
	// The job ledger always holds job status; when a DSN is configured,
	// decoded records are written to and read back from PostgreSQL instead
	// of the SQLite fallback records table.
	var pgSink *postgres.Sink
	if cfg.Postgres.DSN != "" {
		pgSink, err = postgres.New(ctx, cfg.Postgres.DSN, cfg.Postgres.BatchSize, cfg.Postgres.FlushInterval)
		if err != nil {
			logger.Error("failed to open PostgreSQL sink", slog.Any("error", err))
			os.Exit(1)
		}
		defer pgSink.Close(context.Background())
		logger.Info("PostgreSQL bulk record sink connected")
	} else {
		logger.Warn("no postgres.dsn configured; decoded records are stored only in the SQLite fallback table")
	}

	// ── Audit log ────────────────────────────────────────────────────────────
	auditLog, err := audit.Open(cfg.Audit.Path)
	if err != nil {
		logger.Error("failed to open audit log", slog.Any("error", err))
		os.Exit(1)
	}

	// ── WebSocket progress broadcaster ───────────────────────────────────────
	broadcaster := websocket.NewBroadcaster(logger, 32)
	defer broadcaster.Close()
	wsHandler := websocket.NewHandler(broadcaster, logger, 10*time.Second)

	// ── JWT authentication ───────────────────────────────────────────────────
	var pubKey *rsa.PublicKey
	if cfg.Auth.PublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.Auth.PublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = rest.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("JWT validation enabled")
	} else {
		logger.Warn("auth.public_key_path not configured; REST API authentication disabled (dev mode)")
	}

	// ── Job defaults ─────────────────────────────────────────────────────────
	workerBinary := cfg.WorkerBinary
	if workerBinary == "" {
		workerBinary, err = os.Executable()
		if err != nil {
			logger.Error("failed to resolve own executable path for parallel-mode jobs", slog.Any("error", err))
			os.Exit(1)
		}
	}
	defaults := rest.Defaults{
		Mode:         string(cfg.DefaultMode),
		Workers:      cfg.DefaultWorkers,
		WorkerBinary: workerBinary,
	}

	// recordSink is left as a nil rest.RecordSink when no PostgreSQL DSN is
	// configured; a nil *postgres.Sink wrapped directly would produce a
	// non-nil interface holding a nil pointer, so the assignment is guarded.
	var recordSink rest.RecordSink
	if pgSink != nil {
		recordSink = pgSink
	}

	// ── REST API ─────────────────────────────────────────────────────────────
	notifier := broadcasterNotifier{b: broadcaster}
	runner := rest.NewRunner(store, recordSink, auditLog, notifier, defaults, logger)
	restSrv := rest.NewServer(store, recordSink, runner, logger)
	httpHandler := rest.NewRouter(restSrv, pubKey, wsHandler)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      httpHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── Start server ─────────────────────────────────────────────────────────
	httpErrCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening", slog.String("addr", cfg.ListenAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			httpErrCh <- err
		}
		close(httpErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ─────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-httpErrCh:
		if err != nil {
			logger.Error("HTTP server error", slog.Any("error", err))
		}
	}

	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", slog.Any("error", err))
	}

	logger.Info("binlogd exited cleanly")
}

// broadcasterNotifier adapts a *websocket.Broadcaster to rest.Notifier so the
// rest package never needs to import websocket directly.
type broadcasterNotifier struct {
	b *websocket.Broadcaster
}

func (n broadcasterNotifier) Publish(jobID string, recordsDecoded int, stats any, jobErr string, done bool) {
	msgType := "progress"
	if done {
		msgType = "done"
	}
	n.b.Publish(websocket.ProgressMessage{
		Type:           msgType,
		JobID:          jobID,
		RecordsDecoded: recordsDecoded,
		Stats:          stats,
		Error:          jobErr,
	})
}

// newLogger constructs a *slog.Logger that writes JSON-structured log
// records to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}
