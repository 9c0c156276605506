package transfer

import (
	"context"
	"errors"
	"fmt"

	"cardshift/backend/internal/pipefy"
)

// fakeAPI implements API in-memory for the package tests.
type fakeAPI struct {
	phaseCards map[string][]pipefy.Card
	cards      map[string]*pipefy.Card

	phaseCalls  []string
	updateCalls [][]pipefy.FieldUpdate
	inviteCalls []*pipefy.InviteInput

	onPhaseFetch func(call int)
	updateErr    error
	failCards    map[string]string
	fetchErr     map[string]error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		phaseCards: map[string][]pipefy.Card{},
		cards:      map[string]*pipefy.Card{},
		failCards:  map[string]string{},
		fetchErr:   map[string]error{},
	}
}

func (f *fakeAPI) CardsInPhase(ctx context.Context, token, phaseID string) ([]pipefy.Card, error) {
	if f.onPhaseFetch != nil {
		f.onPhaseFetch(len(f.phaseCalls))
	}
	if ctx.Err() != nil {
		return nil, pipefy.ErrSearchCanceled
	}
	f.phaseCalls = append(f.phaseCalls, phaseID)
	return f.phaseCards[phaseID], nil
}

func (f *fakeAPI) CardByID(ctx context.Context, token, cardID string) (*pipefy.Card, error) {
	if err, ok := f.fetchErr[cardID]; ok {
		return nil, err
	}
	card, ok := f.cards[cardID]
	if !ok {
		return nil, errors.New("card not found")
	}
	return card, nil
}

func (f *fakeAPI) UpdateCardFields(ctx context.Context, token string, updates []pipefy.FieldUpdate, invite *pipefy.InviteInput) (*pipefy.UpdateOutcome, error) {
	if f.updateErr != nil {
		return nil, f.updateErr
	}
	f.updateCalls = append(f.updateCalls, updates)
	f.inviteCalls = append(f.inviteCalls, invite)

	outcome := &pipefy.UpdateOutcome{Failed: map[string]string{}, AccessGranted: invite != nil}
	for _, u := range updates {
		if reason, ok := f.failCards[u.CardID]; ok {
			outcome.Failed[u.CardID] = reason
			continue
		}
		outcome.Succeeded = append(outcome.Succeeded, u.CardID)
		// reflect the write so verification sees the new state
		raw := valueString(u.Values)
		f.cards[u.CardID] = &pipefy.Card{
			ID:    pipefy.FlexID(u.CardID),
			Title: "card " + u.CardID,
			Fields: []pipefy.CardField{
				{FieldID: u.FieldID, Name: "Responsável", Value: &raw},
			},
		}
	}
	return outcome, nil
}

func valueString(values []string) string {
	out := "["
	for i, v := range values {
		if i > 0 {
			out += ","
		}
		out += fmt.Sprintf("%q", v)
	}
	return out + "]"
}

func card(id, phaseID, phaseName string, value *string) pipefy.Card {
	c := pipefy.Card{
		ID:        pipefy.FlexID(id),
		Title:     "card " + id,
		PhaseID:   phaseID,
		PhaseName: phaseName,
	}
	if value != nil {
		c.Fields = []pipefy.CardField{
			{FieldID: "responsavel", Name: "Responsável", Value: value},
		}
	}
	return c
}

func strPtr(s string) *string { return &s }
