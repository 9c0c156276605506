package api

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"cardshift/backend/internal/pipefy"
	"cardshift/backend/internal/transfer"
	"cardshift/backend/pkg/models"
)

// RunKind distinguishes what an async run is doing.
type RunKind string

const (
	KindSearch   RunKind = "search"
	KindTransfer RunKind = "transfer"
	KindVerify   RunKind = "verify"
)

// RunState is the lifecycle of an async run.
type RunState string

const (
	StateRunning RunState = "running"
	StateDone    RunState = "done"
	StateFailed  RunState = "failed"
)

// Run is one async operation the console can poll. Progress events from the
// core are drained into the snapshot as they arrive, so a poll never blocks
// the operation.
type Run struct {
	ID        string              `json:"id"`
	Kind      RunKind             `json:"kind"`
	State     RunState            `json:"state"`
	Error     string              `json:"error,omitempty"`
	Progress  []transfer.Progress `json:"progress"`
	StartedAt time.Time           `json:"started_at"`
	EndedAt   *time.Time          `json:"ended_at,omitempty"`

	Cards        []pipefy.Card               `json:"cards,omitempty"`
	Result       *transfer.BatchResult       `json:"result,omitempty"`
	Verification []transfer.VerificationItem `json:"verification,omitempty"`
	HistoryRun   *models.TransferRun         `json:"history_run,omitempty"`

	// pipes are kept server-side for the follow-up transfer; the console
	// does not need the full schemas back.
	pipes  []pipefy.Pipe
	source *pipefy.Member
	dest   *pipefy.Member
}

// RunRegistry keeps in-flight and recently finished runs in memory. History
// of completed transfers lives in Postgres; this registry only exists so the
// console can poll long-running operations.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

// NewRunRegistry creates a new RunRegistry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*Run)}
}

// Create registers a new running entry and returns it.
func (r *RunRegistry) Create(kind RunKind) *Run {
	run := &Run{
		ID:        uuid.New().String(),
		Kind:      kind,
		State:     StateRunning,
		StartedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()
	return run
}

// Snapshot returns a shallow copy of the run under the lock so handlers can
// serialize it without racing the drainer.
func (r *RunRegistry) Snapshot(id string) (Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	if !ok {
		return Run{}, false
	}
	snap := *run
	snap.Progress = append([]transfer.Progress(nil), run.Progress...)
	return snap, true
}

// AppendProgress records one progress event.
func (r *RunRegistry) AppendProgress(id string, p transfer.Progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run, ok := r.runs[id]; ok {
		run.Progress = append(run.Progress, p)
	}
}

// Finish marks the run done or failed and stores its outputs.
func (r *RunRegistry) Finish(id string, mutate func(*Run)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[id]
	if !ok {
		return
	}
	mutate(run)
	now := time.Now().UTC()
	run.EndedAt = &now
}

// Drain consumes progress events into the run until the channel closes.
func (r *RunRegistry) Drain(id string, events <-chan transfer.Progress) {
	for p := range events {
		r.AppendProgress(id, p)
	}
}
