package orchestrator

import "time"

// Kind enumerates the task kinds: plan, download and persist, plus
// maintenance for MAINT. Each kind is only ever admitted onto one queue (see
// queueName).
type Kind string

const (
	KindPlan        Kind = "plan"
	KindDownload    Kind = "download"
	KindPersist     Kind = "persist"
	KindMaintenance Kind = "maintenance"
)

// MaintOp names the specific housekeeping operation a maintenance task
// performs; spec.md's MAINT row lists these as "manifest rebuild,
// compaction, full-replace housekeeping".
type MaintOp string

const (
	MaintRebuildManifest MaintOp = "rebuild_manifest"
	MaintCompact         MaintOp = "compact"
)

// Task is the unit of work moving through the FAST/SLOW/MAINT queues.
// Params carries the vendor call's bound parameters for download tasks;
// Group carries the plan's group name for plan tasks; Payload carries the
// fetched table for persist tasks.
type Task struct {
	ID            uint64            `json:"id"`
	Kind          Kind              `json:"kind"`
	TaskName      string            `json:"task_name,omitempty"` // dataset name, empty for plan(group)
	Group         string            `json:"group,omitempty"`
	MaintOp       MaintOp           `json:"maint_op,omitempty"`
	Params        map[string]string `json:"params,omitempty"`
	Payload       []byte            `json:"payload,omitempty"` // model.EncodeRows([]model.Row), set on persist tasks
	CorrelationID string            `json:"correlation_id"`
	Attempt       int               `json:"attempt"`
	CreatedAt     time.Time         `json:"created_at"`
	NotBefore     time.Time         `json:"not_before"`
}

// queueName reports which of the three durable queues admits this kind, per
// the table in spec.md §4.5.
func queueName(k Kind) string {
	switch k {
	case KindDownload:
		return "fast"
	case KindPersist, KindPlan:
		return "slow"
	case KindMaintenance:
		return "maint"
	default:
		return "slow"
	}
}
