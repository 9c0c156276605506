// Package transfer implements the bulk reassignment core: locating cards
// across pipes and phases, resolving the responsible field per phase,
// rewriting the field in aliased batches, and verifying the outcome against
// the upstream afterwards.
package transfer

import "context"

// EventKind discriminates progress events on the run's event stream.
type EventKind string

const (
	EventPhaseDone       EventKind = "phase_done"
	EventPipeDone        EventKind = "pipe_done"
	EventChunkDone       EventKind = "chunk_done"
	EventVerifyBatchDone EventKind = "verify_batch_done"
)

// Progress is one progress event. Consumers receive events in order on a
// channel; a nil channel disables reporting.
type Progress struct {
	Kind EventKind `json:"kind"`

	PhaseIndex int    `json:"phase_index,omitempty"`
	PhaseTotal int    `json:"phase_total,omitempty"`
	PhaseName  string `json:"phase_name,omitempty"`

	PipeIndex int    `json:"pipe_index,omitempty"`
	PipeTotal int    `json:"pipe_total,omitempty"`
	PipeName  string `json:"pipe_name,omitempty"`

	CardsFound int `json:"cards_found,omitempty"`

	ChunksDone int `json:"chunks_done,omitempty"`
	ChunkTotal int `json:"chunk_total,omitempty"`

	ChunkSucceeded []string `json:"chunk_succeeded,omitempty"`
	ChunkFailed    []string `json:"chunk_failed,omitempty"`
	AccessGranted  bool     `json:"access_granted,omitempty"`

	Verified int `json:"verified,omitempty"`
	ToVerify int `json:"to_verify,omitempty"`
}

// emit sends a progress event, giving up when the run is canceled so a slow
// or absent consumer cannot wedge the producer.
func emit(ctx context.Context, events chan<- Progress, p Progress) {
	if events == nil {
		return
	}
	select {
	case events <- p:
	case <-ctx.Done():
	}
}
