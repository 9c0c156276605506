package transfer

import (
	"context"
	"time"

	"cardshift/backend/internal/fieldvalue"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
)

// Request describes one bulk reassignment run.
type Request struct {
	// CardIDs selects which cards to rewrite. Compared as strings
	// everywhere: the upstream round-trips an id as either a JSON number or
	// string, and type-sensitive comparison across that boundary loses
	// cards silently.
	CardIDs []string

	// Source is the member being removed from the field. Nil means the run
	// only adds the destination (transfer from "unassigned").
	Source *pipefy.Member

	// Dest is appended to every card's responsible field.
	Dest pipefy.Member

	// Cards holds the snapshots collected during search, keyed by card id.
	Cards map[string]pipefy.Card

	// Pipes supplies the phase schemas for the field-id fallback.
	Pipes []pipefy.Pipe

	// BatchSize caps updates per aliased mutation; the default of 50 stays
	// under the upstream's per-request complexity ceiling.
	BatchSize int

	// GrantAccessPipeID, when set, prepends an invite for Dest to that pipe
	// on the first chunk only.
	GrantAccessPipeID string

	// ChunkDelay is the courtesy pause between chunks, on top of the
	// client's per-call spacing, to avoid bursting large mutations.
	ChunkDelay time.Duration
}

// FailedCard is one card that could not be reassigned.
type FailedCard struct {
	CardID string `json:"card_id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// BatchResult aggregates a run's outcome. Previous keeps each card's
// pre-mutation value list so the verifier can report what changed.
type BatchResult struct {
	Succeeded     []string            `json:"succeeded"`
	Failed        []FailedCard        `json:"failed"`
	AccessGranted bool                `json:"access_granted"`
	Previous      map[string][]string `json:"previous"`
}

// Engine executes bulk reassignments against the upstream.
type Engine struct {
	api    API
	logger *logging.Logger
}

// NewEngine creates a new Engine.
func NewEngine(api API, logger *logging.Logger) *Engine {
	return &Engine{api: api, logger: logger}
}

// Transfer rewrites the responsible field of every requested card: the
// source member is removed, remaining co-assignees are preserved in order,
// and the destination is appended once. Updates go out in fixed-size aliased
// chunks; a failure local to one card never aborts its siblings. There is no
// mid-flight cancellation by design: abandoning a half-sent batch would
// leave upstream state the verifier cannot reason about.
func (e *Engine) Transfer(ctx context.Context, token string, req Request, events chan<- Progress) (*BatchResult, error) {
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 50
	}

	index := BuildFieldIndex(req.Pipes)
	result := &BatchResult{Previous: make(map[string][]string)}

	var updates []pipefy.FieldUpdate
	titles := make(map[string]string, len(req.CardIDs))

	for _, cardID := range req.CardIDs {
		card, ok := req.Cards[cardID]
		if !ok {
			result.Failed = append(result.Failed, FailedCard{
				CardID: cardID,
				Reason: "card snapshot missing from search results",
			})
			continue
		}
		titles[cardID] = card.Title

		field := responsibleField(&card)
		fieldID := ""
		var current []string
		if field != nil {
			fieldID = field.FieldID
			current = fieldvalue.Parse(field.Value)
		}
		if fieldID == "" {
			fieldID = index[card.PhaseID]
		}
		if fieldID == "" {
			result.Failed = append(result.Failed, FailedCard{
				CardID: cardID,
				Title:  card.Title,
				Reason: "responsible field could not be resolved for this card",
			})
			continue
		}

		result.Previous[cardID] = current

		kept := make([]string, 0, len(current)+1)
		for _, v := range current {
			if req.Source != nil && matchesMember(v, *req.Source) {
				continue
			}
			kept = append(kept, v)
		}
		kept = append(kept, req.Dest.ID.String())

		updates = append(updates, pipefy.FieldUpdate{
			CardID:  cardID,
			FieldID: fieldID,
			Values:  fieldvalue.Dedupe(kept),
		})
	}

	chunks := chunk(updates, batchSize)
	for ci, part := range chunks {
		var invite *pipefy.InviteInput
		if ci == 0 && req.GrantAccessPipeID != "" {
			invite = &pipefy.InviteInput{PipeID: req.GrantAccessPipeID, Email: req.Dest.Email}
		}

		outcome, err := e.api.UpdateCardFields(ctx, token, part, invite)
		if err != nil {
			// whole-operation failure (credential, exhausted retries):
			// abort and propagate as a single error
			return nil, err
		}

		result.Succeeded = append(result.Succeeded, outcome.Succeeded...)
		chunkFailed := make([]string, 0, len(outcome.Failed))
		for cardID, reason := range outcome.Failed {
			chunkFailed = append(chunkFailed, cardID)
			result.Failed = append(result.Failed, FailedCard{
				CardID: cardID,
				Title:  titles[cardID],
				Reason: reason,
			})
		}
		if outcome.AccessGranted {
			result.AccessGranted = true
		}

		emit(ctx, events, Progress{
			Kind:           EventChunkDone,
			ChunksDone:     ci + 1,
			ChunkTotal:     len(chunks),
			ChunkSucceeded: outcome.Succeeded,
			ChunkFailed:    chunkFailed,
			AccessGranted:  outcome.AccessGranted,
		})

		if e.logger != nil {
			e.logger.Info("transfer chunk done",
				"chunk", ci+1, "total", len(chunks),
				"succeeded", len(outcome.Succeeded), "failed", len(outcome.Failed))
		}

		if ci < len(chunks)-1 && req.ChunkDelay > 0 {
			time.Sleep(req.ChunkDelay)
		}
	}

	return result, nil
}

func chunk(updates []pipefy.FieldUpdate, size int) [][]pipefy.FieldUpdate {
	var out [][]pipefy.FieldUpdate
	for start := 0; start < len(updates); start += size {
		end := start + size
		if end > len(updates) {
			end = len(updates)
		}
		out = append(out, updates[start:end])
	}
	return out
}
