package destination

import (
	typerr "github.com/mehmetymw/typedupe/internal/errors"
	"github.com/mehmetymw/typedupe/internal/types"
)

const (
	StatusSucceeded = "succeeded"
	// StatusWarning means the data was merged but the state was not saved.
	StatusWarning = "warning"
	StatusFailed  = "failed"
)

// Status summarises a pass for reports and health checks.
func (r Result) Status(err error) string {
	switch {
	case err == nil:
		return StatusSucceeded
	case typerr.Is(err, typerr.StatePersist):
		return StatusWarning
	default:
		return StatusFailed
	}
}

// Report converts the result of a pass into the report published to sinks.
func (r Result) Report(runID string, err error) types.SyncReport {
	rep := types.SyncReport{
		RunID:            runID,
		Namespace:        r.Stream.OriginalNamespace,
		Stream:           r.Stream.OriginalName,
		Status:           r.Status(err),
		Phase:            string(r.Phase),
		FailedStep:       string(r.FailedStep),
		SoftReset:        r.SoftReset,
		RecordsMerged:    r.RecordsMerged,
		Boundary:         r.RawState.Boundary,
		ReprocessingRisk: r.ReprocessingRisk,
		DurationMs:       r.Duration.Milliseconds(),
	}
	if err != nil {
		rep.ErrorKind = string(typerr.KindOf(err))
		rep.Error = err.Error()
	}
	return rep
}
