package transfer

import (
	"context"
	"sync"
	"time"

	"cardshift/backend/internal/fieldvalue"
	"cardshift/backend/internal/logging"
	"cardshift/backend/internal/pipefy"
)

// VerifyStatus classifies one card after the post-transfer re-fetch.
type VerifyStatus string

const (
	// StatusConfirmed means the destination is present in the re-fetched field.
	StatusConfirmed VerifyStatus = "confirmed"
	// StatusAlert means the fetch succeeded but the destination is absent,
	// which signals a silent upstream inconsistency.
	StatusAlert VerifyStatus = "alert"
	// StatusError means the mutation had failed or the card could not be
	// re-fetched.
	StatusError VerifyStatus = "error"
)

// VerificationItem is the verdict for one card.
type VerificationItem struct {
	CardID   string       `json:"card_id"`
	Title    string       `json:"title"`
	Previous []string     `json:"previous"`
	Current  []string     `json:"current"`
	Expected string       `json:"expected"`
	Status   VerifyStatus `json:"status"`
	Detail   string       `json:"detail,omitempty"`
}

// Verifier re-fetches mutated cards and checks the upstream actually
// reflects the reassignment.
type Verifier struct {
	api       API
	batchSize int
	delay     time.Duration
	logger    *logging.Logger
}

// NewVerifier creates a Verifier. batchSize bounds the concurrent re-fetch
// fan-out (default 20); delay is the pause between fan-out batches.
func NewVerifier(api API, batchSize int, delay time.Duration, logger *logging.Logger) *Verifier {
	if batchSize <= 0 {
		batchSize = 20
	}
	return &Verifier{api: api, batchSize: batchSize, delay: delay, logger: logger}
}

// VerifyAll re-fetches every card individually, fanning out one fixed-size
// batch of concurrent reads at a time. Re-fetches are read-only and cheap,
// so the fan-out policy is deliberately smaller and separate from the
// mutation batching. A card that cannot be fetched maps to nil.
func (v *Verifier) VerifyAll(ctx context.Context, token string, cardIDs []string, events chan<- Progress) map[string]*pipefy.Card {
	fetched := make(map[string]*pipefy.Card, len(cardIDs))
	var mu sync.Mutex

	for start := 0; start < len(cardIDs); start += v.batchSize {
		end := start + v.batchSize
		if end > len(cardIDs) {
			end = len(cardIDs)
		}

		var wg sync.WaitGroup
		for _, cardID := range cardIDs[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				card, err := v.api.CardByID(ctx, token, id)
				if err != nil {
					if v.logger != nil {
						v.logger.Warn("verification fetch failed", "card", id, "error", err.Error())
					}
					card = nil
				}
				mu.Lock()
				fetched[id] = card
				mu.Unlock()
			}(cardID)
		}
		wg.Wait()

		emit(ctx, events, Progress{
			Kind:     EventVerifyBatchDone,
			Verified: end,
			ToVerify: len(cardIDs),
		})

		if end < len(cardIDs) && v.delay > 0 {
			time.Sleep(v.delay)
		}
	}

	return fetched
}

// Classify turns a run result and the re-fetched cards into per-card
// verdicts. Cards whose mutation failed are always errors, regardless of
// what a re-fetch would say.
func Classify(result *BatchResult, fetched map[string]*pipefy.Card, dest pipefy.Member) []VerificationItem {
	items := make([]VerificationItem, 0, len(result.Succeeded)+len(result.Failed))

	for _, cardID := range result.Succeeded {
		item := VerificationItem{
			CardID:   cardID,
			Previous: result.Previous[cardID],
			Expected: dest.ID.String(),
		}

		card := fetched[cardID]
		if card == nil {
			item.Status = StatusError
			item.Detail = "card could not be re-fetched"
			items = append(items, item)
			continue
		}

		item.Title = card.Title
		item.Current = currentValues(card)
		if containsMember(item.Current, dest) {
			item.Status = StatusConfirmed
		} else {
			item.Status = StatusAlert
			item.Detail = "destination not present after update"
		}
		items = append(items, item)
	}

	for _, failed := range result.Failed {
		items = append(items, VerificationItem{
			CardID:   failed.CardID,
			Title:    failed.Title,
			Previous: result.Previous[failed.CardID],
			Expected: dest.ID.String(),
			Status:   StatusError,
			Detail:   failed.Reason,
		})
	}

	return items
}

// Reverify re-checks a single card on operator demand, with the same
// classification rules as the bulk pass.
func (v *Verifier) Reverify(ctx context.Context, token, cardID string, dest pipefy.Member) VerificationItem {
	item := VerificationItem{CardID: cardID, Expected: dest.ID.String()}

	card, err := v.api.CardByID(ctx, token, cardID)
	if err != nil || card == nil {
		item.Status = StatusError
		item.Detail = "card could not be re-fetched"
		if err != nil {
			item.Detail = err.Error()
		}
		return item
	}

	item.Title = card.Title
	item.Current = currentValues(card)
	if containsMember(item.Current, dest) {
		item.Status = StatusConfirmed
	} else {
		item.Status = StatusAlert
		item.Detail = "destination not present after update"
	}
	return item
}

func currentValues(card *pipefy.Card) []string {
	field := responsibleField(card)
	if field == nil {
		return []string{}
	}
	return fieldvalue.Parse(field.Value)
}

func containsMember(values []string, member pipefy.Member) bool {
	for _, v := range values {
		if matchesMember(v, member) {
			return true
		}
	}
	return false
}
