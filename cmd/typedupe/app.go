package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/catalog"
	"github.com/mehmetymw/typedupe/internal/config"
	"github.com/mehmetymw/typedupe/internal/db"
	"github.com/mehmetymw/typedupe/internal/destination"
	"github.com/mehmetymw/typedupe/internal/dialect"
	"github.com/mehmetymw/typedupe/internal/pipeline"
	"github.com/mehmetymw/typedupe/internal/sink/kafka"
	"github.com/mehmetymw/typedupe/internal/sink/logsink"
	"github.com/mehmetymw/typedupe/internal/state"
	"github.com/mehmetymw/typedupe/internal/types"
)

// app holds everything a command needs, built once from configuration.
type app struct {
	cfg      config.Config
	logger   *zap.Logger
	conn     *db.DB
	pipeline *pipeline.Pipeline
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = lvl
	return zapConfig.Build()
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logger.Info("Configuration loaded successfully",
		zap.String("dialect", cfg.Destination.Dialect),
		zap.String("catalog", cfg.CatalogPath),
		zap.String("state", cfg.State.Type),
		zap.String("report", cfg.Report.Type),
		zap.Int("parallelism", cfg.Sync.Parallelism))

	d, err := dialect.ByName(cfg.Destination.Dialect)
	if err != nil {
		return nil, err
	}
	streams, err := catalog.Load(cfg.CatalogPath, cfg.Namer(d))
	if err != nil {
		return nil, err
	}

	conn, err := db.Open(ctx, d, cfg.Destination.DSN, logger)
	if err != nil {
		return nil, err
	}

	var store state.Store
	switch cfg.State.Type {
	case "file":
		store, err = state.NewFileStore(cfg.State.Dir, logger)
	case "memory":
		store = state.NewMemoryStore()
	default:
		store = state.NewSQLStore(conn, d, cfg.Namer(d).Identifier(cfg.Destination.RawTableDatabase), logger)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	var sink types.ReportSink
	switch cfg.Report.Type {
	case "kafka":
		sink, err = kafka.New(cfg.Report.Kafka.Brokers, cfg.Report.Kafka.Topic, logger)
	default:
		sink = logsink.New(logger)
	}
	if err != nil {
		conn.Close()
		return nil, err
	}

	handler := destination.NewHandler(conn, d, store, handlerOptions(cfg.Sync), logger)
	pl := pipeline.NewPipeline(handler, sink, streams, cfg.Sync.Parallelism, logger)
	return &app{cfg: cfg, logger: logger, conn: conn, pipeline: pl}, nil
}

func handlerOptions(s config.SyncConfig) destination.Options {
	return destination.Options{
		ForceSoftReset:           s.ForceSoftReset,
		RequestSoftResetNextSync: s.RequestSoftReset,
	}
}

func (a *app) Close() {
	if err := a.pipeline.Close(); err != nil {
		a.logger.Error("Failed to close pipeline", zap.Error(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("Failed to close destination connection", zap.Error(err))
	}
	_ = a.logger.Sync()
}
