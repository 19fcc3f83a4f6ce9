package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mehmetymw/typedupe/internal/destination"
	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

// Syncer runs one pass for one stream. Prepare runs once per run before any pass.
type Syncer interface {
	Prepare(ctx context.Context, cfgs []stream.Config) error
	Sync(ctx context.Context, cfg stream.Config) (destination.Result, error)
}

// Pipeline runs a pass over every configured stream. Streams are independent and run in
// parallel up to the configured limit; a failing stream does not stop the others.
type Pipeline struct {
	syncer      Syncer
	sink        types.ReportSink
	streams     []stream.Config
	parallelism int
	logger      *zap.Logger

	mu     sync.Mutex
	status RunStatus
}

func NewPipeline(syncer Syncer, sink types.ReportSink, streams []stream.Config, parallelism int, logger *zap.Logger) *Pipeline {
	if parallelism <= 0 {
		parallelism = 1
	}
	logger.Info("Creating new pipeline",
		zap.Int("streams", len(streams)),
		zap.Int("parallelism", parallelism))
	for _, s := range streams {
		logger.Debug("Added stream",
			zap.String("stream", s.ID.String()),
			zap.String("raw_table", s.ID.RawNamespace+"."+s.ID.RawName),
			zap.String("final_table", s.ID.FinalNamespace+"."+s.ID.FinalName),
			zap.Strings("primary_key", s.PrimaryKey),
			zap.Bool("dedup", s.Dedup))
	}
	return &Pipeline{syncer: syncer, sink: sink, streams: streams, parallelism: parallelism, logger: logger}
}

// Run performs one pass over every stream and returns the results in stream order.
// Streams not started before ctx is cancelled are reported as failed.
func (p *Pipeline) Run(ctx context.Context) []destination.Result {
	runID := uuid.NewString()
	log := p.logger.With(zap.String("run_id", runID))
	log.Info("Starting sync run", zap.Int("streams", len(p.streams)))

	p.mu.Lock()
	p.status.Running = true
	p.status.LastRunID = runID
	p.mu.Unlock()

	start := time.Now()
	results := make([]destination.Result, len(p.streams))
	errs := make([]error, len(p.streams))

	if err := p.syncer.Prepare(ctx, p.streams); err != nil {
		log.Error("Failed to prepare destination, skipping every stream", zap.Error(err))
		for i, cfg := range p.streams {
			results[i] = destination.Result{Stream: cfg.ID, Phase: destination.PhaseFailed, FailedStep: destination.StepReconcileSchema}
			errs[i] = err
		}
		return p.finish(log, runID, start, results, errs)
	}

	g := new(errgroup.Group)
	g.SetLimit(p.parallelism)
	for i, cfg := range p.streams {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = destination.Result{Stream: cfg.ID, Phase: destination.PhaseStart}
				errs[i] = err
				return nil
			}
			results[i], errs[i] = p.syncer.Sync(ctx, cfg)
			return nil
		})
	}
	_ = g.Wait()
	return p.finish(log, runID, start, results, errs)
}

// finish publishes one report per stream and records the run's status.
func (p *Pipeline) finish(log *zap.Logger, runID string, start time.Time, results []destination.Result, errs []error) []destination.Result {
	var succeeded, warnings, failed, retryable int
	for i, res := range results {
		report := res.Report(runID, errs[i])
		switch report.Status {
		case destination.StatusSucceeded:
			succeeded++
		case destination.StatusWarning:
			warnings++
		default:
			failed++
			if typerr.Retryable(typerr.KindOf(errs[i])) {
				retryable++
			}
		}
		if err := p.sink.Publish(report); err != nil {
			log.Error("Failed to publish sync report", zap.String("stream", res.Stream.String()), zap.Error(err))
		}
	}

	duration := time.Since(start)
	log.Info("Sync run completed",
		zap.Int("succeeded", succeeded),
		zap.Int("warnings", warnings),
		zap.Int("failed", failed),
		zap.Int("retryable", retryable),
		zap.Duration("duration", duration))

	p.mu.Lock()
	p.status = RunStatus{
		LastRunID:  runID,
		LastRunAt:  start,
		Succeeded:  succeeded,
		Warnings:   warnings,
		Failed:     failed,
		Retryable:  retryable,
		LastRunDur: duration,
	}
	p.mu.Unlock()
	return results
}

func (p *Pipeline) Close() error {
	p.logger.Info("Closing pipeline")
	if p.sink != nil {
		p.logger.Debug("Closing report sink")
		return p.sink.Close()
	}
	return nil
}

// RunStatus summarises the latest run.
type RunStatus struct {
	Running    bool
	LastRunID  string
	LastRunAt  time.Time
	LastRunDur time.Duration
	Succeeded  int
	Warnings   int
	Failed     int
	// Retryable counts the failures whose kind a later run may clear.
	Retryable int
}

func (p *Pipeline) Status() RunStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}
