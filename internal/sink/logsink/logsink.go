// Package logsink writes sync reports to the application log.
package logsink

import (
	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/types"
)

type Sink struct {
	logger *zap.Logger
}

func New(logger *zap.Logger) *Sink {
	return &Sink{logger: logger}
}

func (s *Sink) Publish(r types.SyncReport) error {
	fields := []zap.Field{
		zap.String("run_id", r.RunID),
		zap.String("stream", r.Namespace+"."+r.Stream),
		zap.String("status", r.Status),
		zap.String("phase", r.Phase),
		zap.Bool("soft_reset", r.SoftReset),
		zap.Int64("records", r.RecordsMerged),
		zap.Timep("boundary", r.Boundary),
		zap.Int64("duration_ms", r.DurationMs),
	}
	if r.Error != "" {
		fields = append(fields,
			zap.String("step", r.FailedStep),
			zap.String("error_kind", r.ErrorKind),
			zap.String("error", r.Error),
			zap.Bool("reprocessing_risk", r.ReprocessingRisk))
	}
	switch r.Status {
	case "succeeded":
		s.logger.Info("Sync report", fields...)
	case "warning":
		s.logger.Warn("Sync report", fields...)
	default:
		s.logger.Error("Sync report", fields...)
	}
	return nil
}

func (s *Sink) Close() error { return nil }
