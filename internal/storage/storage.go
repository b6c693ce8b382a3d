// internal/storage/storage.go
package storage

import (
	"context"
	"time"
)

// Journal хранит итоги workflow и реакции монитора для последующего ручного
// повтора неразрешенных аккаунтов.
type Journal interface {
	SaveWorkflow(ctx context.Context, rec *WorkflowRecord) error
	SaveMonitor(ctx context.Context, rec *MonitorRecord) error
	ListWorkflows(ctx context.Context, filter Filter) ([]*WorkflowRecord, error)
	ListMonitor(ctx context.Context, filter Filter) ([]*MonitorRecord, error)
	Close() error
}

// Filter narrows a listing. Zero values match everything.
type Filter struct {
	Pool  string
	Since time.Time
	// OnlyUnresolved keeps workflow records that left accounts behind.
	OnlyUnresolved bool
	// Limit keeps the newest n records.
	Limit int
}

// WorkflowRecord is the terminal summary of one batch workflow.
type WorkflowRecord struct {
	ID            uint64        `json:"id"`
	Workflow      string        `json:"workflow"`
	Pool          string        `json:"pool"`
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Unresolved    []string      `json:"unresolved,omitempty"`
	CloseFailures []string      `json:"close_failures,omitempty"`
	Rounds        int           `json:"rounds"`
	Duration      time.Duration `json:"duration"`
	FinishedAt    time.Time     `json:"finished_at"`
}

// MonitorKind is the kind of monitor record.
type MonitorKind string

const (
	MonitorRangeExit  MonitorKind = "range_exit"
	MonitorReaction   MonitorKind = "reaction"
	MonitorTerminated MonitorKind = "terminated"
)

// MonitorRecord is one range exit, reaction or termination of the monitor.
type MonitorRecord struct {
	ID       uint64      `json:"id"`
	Kind     MonitorKind `json:"kind"`
	Pool     string      `json:"pool"`
	Strategy string      `json:"strategy,omitempty"`
	Accounts []string    `json:"accounts,omitempty"`
	Failed   []string    `json:"failed,omitempty"`
	Reason   string      `json:"reason,omitempty"`
	At       time.Time   `json:"at"`
}

func (f Filter) matches(pool string, at time.Time) bool {
	if f.Pool != "" && f.Pool != pool {
		return false
	}
	return f.Since.IsZero() || !at.Before(f.Since)
}
