// Package destination runs one typing and deduping pass for a stream.
//
// A pass moves through Start, RawStateResolved, SchemaReconciled, Merged and
// StatePersisted, or stops in Failed. It may be aborted between any two steps;
// the next pass resumes from whatever the raw table and the destination state say.
package destination

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mehmetymw/typedupe/internal/dialect"
	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/rawstate"
	"github.com/mehmetymw/typedupe/internal/sqlgen"
	"github.com/mehmetymw/typedupe/internal/state"
	"github.com/mehmetymw/typedupe/internal/stream"
	"github.com/mehmetymw/typedupe/internal/types"
)

type Phase string

const (
	PhaseStart            Phase = "start"
	PhaseRawStateResolved Phase = "raw_state_resolved"
	PhaseSchemaReconciled Phase = "schema_reconciled"
	PhaseMerged           Phase = "merged"
	PhaseStatePersisted   Phase = "state_persisted"
	PhaseFailed           Phase = "failed"
)

// Step names the step a failed pass stopped in.
type Step string

const (
	StepResolveRawState Step = "resolve_raw_state"
	StepReconcileSchema Step = "reconcile_schema"
	StepMerge           Step = "merge"
	StepPersistState    Step = "persist_state"
)

// Conn is the destination connection a handler executes against.
type Conn interface {
	rawstate.Querier
	ExecTx(ctx context.Context, stmts []types.Statement) ([]int64, error)
}

type Options struct {
	// ForceSoftReset rebuilds every final table from its raw table on this pass.
	ForceSoftReset bool
	// RequestSoftResetNextSync leaves needsSoftReset set after a successful pass.
	RequestSoftResetNextSync bool
}

// Result describes how far a pass got.
type Result struct {
	Stream        stream.ID
	Phase         Phase
	FailedStep    Step
	RawState      rawstate.RawTableState
	SoftReset     bool
	RecordsMerged int64
	// ReprocessingRisk is set when the merge committed but the state could not be saved.
	// Raw data is never lost; the next pass may redo work.
	ReprocessingRisk bool
	Duration         time.Duration
}

// Handler is safe for concurrent use by passes over different streams.
// Passes over the same stream must be serialised by the caller.
type Handler struct {
	conn     Conn
	gen      *sqlgen.Generator
	resolver *rawstate.Resolver
	store    state.Store
	opts     Options
	logger   *zap.Logger
	now      func() time.Time

	mu        sync.Mutex
	lastBatch time.Time

	// nsMu serialises namespace DDL; PostgreSQL's CREATE SCHEMA IF NOT EXISTS fails under concurrency.
	nsMu       sync.Mutex
	namespaces map[string]bool
}

func NewHandler(conn Conn, d dialect.Dialect, store state.Store, opts Options, logger *zap.Logger) *Handler {
	return &Handler{
		conn:       conn,
		gen:        sqlgen.New(d),
		resolver:   rawstate.NewResolver(conn, d, logger),
		store:      store,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
		namespaces: make(map[string]bool),
	}
}

// Prepare creates the namespaces of every stream. Running it before passes start in parallel
// keeps them from contending on namespace creation.
func (h *Handler) Prepare(ctx context.Context, cfgs []stream.Config) error {
	if err := h.ensureNamespaces(ctx, cfgs...); err != nil {
		return typerr.Wrap(typerr.SchemaMigration, "create namespaces", err)
	}
	return nil
}

// ensureNamespaces creates the namespaces of cfgs this handler has not created yet.
func (h *Handler) ensureNamespaces(ctx context.Context, cfgs ...stream.Config) error {
	h.nsMu.Lock()
	defer h.nsMu.Unlock()
	var (
		stmts   []types.Statement
		pending []string
	)
	for _, ns := range sqlgen.Namespaces(cfgs...) {
		if h.namespaces[ns] {
			continue
		}
		stmts = append(stmts, h.gen.CreateNamespace(ns)...)
		pending = append(pending, ns)
	}
	if len(stmts) > 0 {
		if _, err := h.conn.ExecTx(ctx, stmts); err != nil {
			return err
		}
		h.logger.Info("Created namespaces", zap.Strings("namespaces", pending))
	}
	for _, ns := range pending {
		h.namespaces[ns] = true
	}
	return nil
}

// Sync runs one pass. The returned error carries an errors.Kind naming the failure.
func (h *Handler) Sync(ctx context.Context, cfg stream.Config) (Result, error) {
	start := h.now()
	res := Result{Stream: cfg.ID, Phase: PhaseStart}
	log := h.logger.With(zap.String("stream", cfg.ID.String()))

	fail := func(step Step, err error) (Result, error) {
		res.Phase = PhaseFailed
		res.FailedStep = step
		res.Duration = h.now().Sub(start)
		fields := []zap.Field{zap.String("step", string(step)), zap.Duration("duration", res.Duration), zap.Error(err)}
		if typerr.Is(err, typerr.StatePersist) {
			log.Warn("State not saved after merge, next pass may reprocess records", fields...)
		} else {
			log.Error("Typing and deduping pass failed", fields...)
		}
		return res, err
	}

	raw, err := h.resolver.Resolve(ctx, cfg.ID)
	if err != nil {
		return fail(StepResolveRawState, typerr.Wrap(typerr.RawTableAccess, "resolve raw table state", err))
	}
	res.RawState = raw
	res.Phase = PhaseRawStateResolved
	log.Debug("Resolved raw table state",
		zap.Bool("unprocessed", raw.HasUnprocessedRecords),
		zap.Timep("boundary", raw.Boundary))

	softReset, err := h.reconcile(ctx, cfg, log)
	if err != nil {
		return fail(StepReconcileSchema, err)
	}
	res.SoftReset = softReset
	res.Phase = PhaseSchemaReconciled

	if softReset || raw.HasUnprocessedRecords {
		boundary := raw.Boundary
		if softReset {
			boundary = nil
		}
		merged, err := h.merge(ctx, cfg, boundary)
		if err != nil {
			return fail(StepMerge, typerr.Wrap(typerr.Merge, "merge raw records into final table", err))
		}
		res.RecordsMerged = merged
		log.Info("Merged raw records",
			zap.Int64("records", merged),
			zap.Bool("soft_reset", softReset),
			zap.Timep("boundary", boundary))
	} else {
		log.Info("No unprocessed raw records, skipping merge")
	}
	res.Phase = PhaseMerged

	final := state.DestinationState{
		NeedsSoftReset: h.opts.RequestSoftResetNextSync,
		SchemaVersion:  state.CurrentSchemaVersion,
	}
	if err := h.store.Save(ctx, cfg.ID, final); err != nil {
		res.ReprocessingRisk = true
		return fail(StepPersistState, typerr.Wrap(typerr.StatePersist, "save destination state", err))
	}
	res.Phase = PhaseStatePersisted
	res.Duration = h.now().Sub(start)
	log.Info("Typing and deduping pass complete", zap.Duration("duration", res.Duration))
	return res, nil
}

// reconcile brings the raw and final tables to cfg and reports whether it soft reset.
// needsSoftReset is saved before a soft reset starts and after any failed DDL, so an
// interrupted migration is finished by a soft reset on the next pass.
func (h *Handler) reconcile(ctx context.Context, cfg stream.Config, log *zap.Logger) (bool, error) {
	if err := h.ensureNamespaces(ctx, cfg); err != nil {
		return false, typerr.Wrap(typerr.SchemaMigration, "create namespaces", err)
	}
	st, err := h.store.Load(ctx, cfg.ID)
	if err != nil {
		return false, typerr.Wrap(typerr.SchemaMigration, "load destination state", err)
	}
	if h.opts.ForceSoftReset {
		st.NeedsSoftReset = true
	}
	existing, err := h.conn.TableColumns(ctx, cfg.ID.FinalNamespace, cfg.ID.FinalName)
	if err != nil {
		return false, typerr.Wrap(typerr.SchemaMigration, "inspect final table", err)
	}

	plan, err := h.gen.Reconcile(cfg, st, existing)
	if err != nil {
		if typerr.Is(err, typerr.UnsupportedType) {
			return false, err
		}
		return false, typerr.Wrap(typerr.SchemaMigration, "plan schema migration", err)
	}
	if plan.SoftReset {
		log.Info("Soft resetting final table", zap.Strings("reasons", plan.Reasons))
		if err := h.store.Save(ctx, cfg.ID, state.DestinationState{NeedsSoftReset: true, SchemaVersion: state.CurrentSchemaVersion}); err != nil {
			return false, typerr.Wrap(typerr.SchemaMigration, "record pending soft reset", err)
		}
	}

	if _, err := h.conn.ExecTx(ctx, plan.Statements); err != nil {
		if !plan.SoftReset {
			if saveErr := h.store.Save(ctx, cfg.ID, state.DestinationState{NeedsSoftReset: true, SchemaVersion: state.CurrentSchemaVersion}); saveErr != nil {
				log.Error("Could not record soft reset after failed migration", zap.Error(saveErr))
			}
		}
		return false, typerr.Wrap(typerr.SchemaMigration, "apply schema migration", err)
	}
	return plan.SoftReset, nil
}

func (h *Handler) merge(ctx context.Context, cfg stream.Config, boundary *time.Time) (int64, error) {
	stmts, err := h.gen.MergeDedupRawIntoFinal(cfg, boundary, h.nextBatch())
	if err != nil {
		return 0, err
	}
	affected, err := h.conn.ExecTx(ctx, stmts)
	if err != nil {
		return 0, err
	}
	return affected[sqlgen.MergeInsertStatement], nil
}

// nextBatch returns a load timestamp at the destination's microsecond precision,
// strictly later than any batch this handler issued before.
func (h *Handler) nextBatch() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	batch := h.now().UTC().Truncate(time.Microsecond)
	if !batch.After(h.lastBatch) {
		batch = h.lastBatch.Add(time.Microsecond)
	}
	h.lastBatch = batch
	return batch
}
