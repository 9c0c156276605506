package transfer

import (
	"context"

	"cardshift/backend/internal/fieldvalue"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
)

// Filter selects which cards a search returns. Exactly one of Unassigned or
// Member should be set.
type Filter struct {
	// Unassigned matches cards whose responsible field is absent or empty.
	Unassigned bool

	// Member matches cards whose responsible field contains the member's id
	// or a fuzzy match of their name.
	Member *pipefy.Member
}

// Locator searches pipes for cards matching a responsible filter.
type Locator struct {
	api    API
	logger *logging.Logger
}

// NewLocator creates a new Locator.
func NewLocator(api API, logger *logging.Logger) *Locator {
	return &Locator{api: api, logger: logger}
}

// Search walks every non-terminal phase of every pipe in the order supplied,
// collects the cards matching the filter, and emits a progress event per
// phase and per pipe. Cancellation is checked at phase boundaries (and per
// page inside the traverser); a canceled search returns ErrSearchCanceled
// and discards any partial results.
func (l *Locator) Search(ctx context.Context, token string, pipes []pipefy.Pipe, filter Filter, events chan<- Progress) ([]pipefy.Card, error) {
	var matched []pipefy.Card
	multi := len(pipes) > 1

	for pi, pipe := range pipes {
		active := activePhases(pipe)
		for si, phase := range active {
			if ctx.Err() != nil {
				return nil, pipefy.ErrSearchCanceled
			}

			cards, err := l.api.CardsInPhase(ctx, token, phase.ID.String())
			if err != nil {
				return nil, err
			}

			for _, card := range cards {
				if !matches(&card, filter) {
					continue
				}
				if multi {
					card.PipeName = pipe.Name
				}
				matched = append(matched, card)
			}

			p := Progress{
				Kind:       EventPhaseDone,
				PhaseIndex: si + 1,
				PhaseTotal: len(active),
				PhaseName:  phase.Name,
				CardsFound: len(matched),
			}
			if multi {
				p.PipeIndex = pi + 1
				p.PipeTotal = len(pipes)
				p.PipeName = pipe.Name
			}
			emit(ctx, events, p)
		}

		if multi {
			emit(ctx, events, Progress{
				Kind:       EventPipeDone,
				PipeIndex:  pi + 1,
				PipeTotal:  len(pipes),
				PipeName:   pipe.Name,
				CardsFound: len(matched),
			})
		}

		if l.logger != nil {
			l.logger.Info("pipe searched", "pipe", pipe.Name, "matched_so_far", len(matched))
		}
	}

	return matched, nil
}

// activePhases returns the pipe's non-terminal phases in schema order.
func activePhases(pipe pipefy.Pipe) []pipefy.Phase {
	out := make([]pipefy.Phase, 0, len(pipe.Phases))
	for _, ph := range pipe.Phases {
		if ph.Done {
			continue
		}
		out = append(out, ph)
	}
	return out
}

func matches(card *pipefy.Card, filter Filter) bool {
	field := responsibleField(card)

	if filter.Unassigned {
		if field == nil {
			return true
		}
		return len(fieldvalue.Parse(field.Value)) == 0
	}

	if filter.Member == nil || field == nil {
		return false
	}
	for _, v := range fieldvalue.Parse(field.Value) {
		if matchesMember(v, *filter.Member) {
			return true
		}
	}
	return false
}
