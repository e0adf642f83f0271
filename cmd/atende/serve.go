package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "modernc.org/sqlite"

	"github.com/atendelabs/atende/internal/audit"
	"github.com/atendelabs/atende/internal/budget"
	"github.com/atendelabs/atende/internal/config"
	"github.com/atendelabs/atende/internal/directory"
	"github.com/atendelabs/atende/internal/ingest"
	"github.com/atendelabs/atende/internal/knowledge"
	"github.com/atendelabs/atende/internal/messaging"
	"github.com/atendelabs/atende/internal/orchestrator"
	"github.com/atendelabs/atende/internal/provider"
	"github.com/atendelabs/atende/internal/queue"
	"github.com/atendelabs/atende/internal/state"
	"github.com/atendelabs/atende/internal/tools"
)

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Logging)
	slog.SetDefault(logger)

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	auditStore, err := newAuditStore(cfg.Database, db)
	if err != nil {
		return err
	}
	var fileSink *audit.FileSink
	if cfg.Audit.FileDir != "" {
		fileSink, err = audit.NewFileSink(cfg.Audit.FileDir)
		if err != nil {
			return err
		}
	}
	auditLogger := audit.NewLogger(auditStore, fileSink, logger)

	mappingStore, err := newMappingStore(cfg.Database, db)
	if err != nil {
		return err
	}
	idempStore, err := newIdempotencyStore(cfg.Database, db)
	if err != nil {
		return err
	}

	// Directory and state collaborators live outside this core; the
	// in-memory implementations back single-node runs.
	dir := directory.NewMemoryDirectory()
	states := state.NewMemoryStore()

	registry := tools.NewRegistry(logger)
	registry.Register(tools.EndChatSpec())
	registry.RegisterFactory(tools.TransferFactory(dir))

	q, err := newQueue(cfg.Queue, logger)
	if err != nil {
		return err
	}
	defer q.Close()

	port := messaging.NewLogPort(logger)

	responder := orchestrator.NewResponder(orchestrator.Config{
		Clients: provider.NewOpenAIFactory(provider.OpenAIOptions{
			BaseURL:    cfg.Provider.BaseURL,
			HTTPClient: &http.Client{Timeout: cfg.Provider.Timeout},
		}),
		Tenants:   dir,
		Customers: dir,
		Employees: directory.EmployeeView{Dir: dir},
		Budget:    budget.NewManager(budget.DefaultOptions()),
		Registry:  registry,
		Knowledge: knowledge.NewManager(mappingStore, provider.IsNotFound, logger),
		Audit:     auditLogger,
		States:    states,
		Intents:   ingest.IntentEnqueuer{Queue: q},
		Model:     cfg.Provider.Model,
		Logger:    logger,
	})

	consumer := ingest.NewConsumer(responder, states, idempStore, port, directory.EmployeeView{Dir: dir}, logger)
	if err := q.StartConsumer(ctx, consumer.Handle, queue.Options{Concurrency: cfg.Queue.Concurrency}); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}

	gates := ingest.NewGates(ingest.GatesConfig{
		Maintenance:       cfg.Gates.Maintenance,
		MaintenanceNotice: cfg.Gates.MaintenanceNotice,
		AllowList:         cfg.Gates.AllowList,
		Hosted:            cfg.Gates.Hosted,
		Testing:           cfg.Gates.Testing,
		ForwardURL:        cfg.Gates.ForwardURL,
	})
	webhook := ingest.NewWebhookHandler(dir, q, gates, port, logger)

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("http server listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	go func() {
		logger.Info("metrics listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		logger.Error("server failed", "error", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	return nil
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

func openDatabase(cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := "sqlite"
	if cfg.Driver == "postgres" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

func newAuditStore(cfg config.DatabaseConfig, db *sql.DB) (audit.Store, error) {
	if cfg.Driver == "postgres" {
		return audit.NewPostgresStore(db)
	}
	return audit.NewSQLiteStore(db)
}

func newMappingStore(cfg config.DatabaseConfig, db *sql.DB) (knowledge.MappingStore, error) {
	if cfg.Driver == "postgres" {
		return knowledge.NewPostgresMappingStore(db)
	}
	return knowledge.NewSQLiteMappingStore(db)
}

func newIdempotencyStore(cfg config.DatabaseConfig, db *sql.DB) (ingest.IdempotencyStore, error) {
	if cfg.Driver == "postgres" {
		return ingest.NewPostgresIdempotencyStore(db)
	}
	return ingest.NewSQLiteIdempotencyStore(db)
}

func newQueue(cfg config.QueueConfig, logger *slog.Logger) (queue.Queue, error) {
	if cfg.Backend == "amqp" {
		return queue.NewAMQPQueue(queue.AMQPOptions{
			URL:        cfg.URL,
			Exchange:   cfg.Exchange,
			QueueName:  cfg.QueueName,
			RoutingKey: cfg.RoutingKey,
			Logger:     logger,
		})
	}
	return queue.NewMemoryQueue(cfg.Buffer, logger), nil
}
