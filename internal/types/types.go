package types

import "time"

// Operation names a step of the typing and deduping plan.
type Operation string

const (
	OpCreateNamespace Operation = "create_namespace"
	OpCreateRawTable  Operation = "create_raw_table"
	OpCreateFinal     Operation = "create_final_table"
	OpSoftReset       Operation = "soft_reset_final_table"
	OpAlterFinal      Operation = "alter_final_table"
	OpMerge           Operation = "merge_dedup_raw_into_final"
	OpSaveState       Operation = "save_destination_state"
)

// Statement is one rendered SQL statement with its bound arguments.
type Statement struct {
	Op   Operation
	SQL  string
	Args []any
}

// SyncReport summarises one stream pass for external consumers.
type SyncReport struct {
	RunID            string     `json:"run_id"`
	Namespace        string     `json:"namespace"`
	Stream           string     `json:"stream"`
	Status           string     `json:"status"`
	Phase            string     `json:"phase"`
	FailedStep       string     `json:"failed_step,omitempty"`
	ErrorKind        string     `json:"error_kind,omitempty"`
	Error            string     `json:"error,omitempty"`
	SoftReset        bool       `json:"soft_reset"`
	RecordsMerged    int64      `json:"records_merged"`
	Boundary         *time.Time `json:"boundary,omitempty"`
	ReprocessingRisk bool       `json:"reprocessing_risk"`
	DurationMs       int64      `json:"duration_ms"`
}

// ReportSink receives a report after every stream pass.
type ReportSink interface {
	Publish(report SyncReport) error
	Close() error
}
