package domain

import (
	"context"
	"encoding/json"
	"time"
)

// WorkFunc performs one run of a task. A nil return means the run
// succeeded; an error is logged by the owning worker and never
// propagated further.
type WorkFunc func(ctx context.Context) error

// Handler turns a JSON payload into task work. Handlers are registered
// by name and bound to a payload when a worker is constructed.
type Handler interface {
	Handle(ctx context.Context, payload json.RawMessage) error
}

// TaskRecord mirrors one row of the shared task_records table.
type TaskRecord struct {
	ID               string
	SettingsJSON     []byte
	NextRunStartAt   time.Time
	CurrentRunTicket *string
	ClaimedAt        *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Claimed reports whether some worker currently holds the run ticket.
func (r TaskRecord) Claimed() bool { return r.CurrentRunTicket != nil }
