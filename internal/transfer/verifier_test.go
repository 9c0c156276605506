package transfer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardshift/backend/internal/pipefy"
)

func fetchedCard(id, value string) *pipefy.Card {
	c := card(id, "p1", "Triage", &value)
	return &c
}

func TestClassify(t *testing.T) {
	result := &BatchResult{
		Succeeded: []string{"1", "2", "3"},
		Failed:    []FailedCard{{CardID: "4", Title: "card 4", Reason: "field unresolved"}},
		Previous: map[string][]string{
			"1": {"A_id"}, "2": {"A_id"}, "3": {"A_id"}, "4": {"A_id"},
		},
	}
	fetched := map[string]*pipefy.Card{
		"1": fetchedCard("1", `["B_id"]`),        // destination id present
		"2": fetchedCard("2", `["bruno braga"]`), // destination name present
		"3": fetchedCard("3", `["A_id"]`),        // update silently lost upstream
	}

	items := Classify(result, fetched, dest)

	require.Len(t, items, 4)
	byID := map[string]VerificationItem{}
	for _, it := range items {
		byID[it.CardID] = it
	}

	assert.Equal(t, StatusConfirmed, byID["1"].Status)
	assert.Equal(t, StatusConfirmed, byID["2"].Status)
	assert.Equal(t, StatusAlert, byID["3"].Status)
	assert.Equal(t, StatusError, byID["4"].Status, "a failed mutation is always an error")
	assert.Equal(t, []string{"A_id"}, byID["1"].Previous)
	assert.Equal(t, []string{"B_id"}, byID["1"].Current)
}

func TestClassifyUnfetchableCardIsError(t *testing.T) {
	result := &BatchResult{
		Succeeded: []string{"1"},
		Previous:  map[string][]string{"1": {"A_id"}},
	}

	items := Classify(result, map[string]*pipefy.Card{"1": nil}, dest)

	require.Len(t, items, 1)
	assert.Equal(t, StatusError, items[0].Status)
	assert.Contains(t, items[0].Detail, "re-fetched")
}

func TestVerifyAllFansOutInBatches(t *testing.T) {
	api := newFakeAPI()
	api.cards["1"] = fetchedCard("1", `["B_id"]`)
	api.cards["2"] = fetchedCard("2", `["B_id"]`)
	api.cards["3"] = fetchedCard("3", `["B_id"]`)
	api.fetchErr["4"] = errors.New("boom")

	v := NewVerifier(api, 2, 0, nil)
	events := make(chan Progress, 8)
	fetched := v.VerifyAll(context.Background(), "tok", []string{"1", "2", "3", "4"}, events)
	close(events)

	require.Len(t, fetched, 4)
	assert.NotNil(t, fetched["1"])
	assert.Nil(t, fetched["4"], "fetch failures map to nil")

	var batches int
	for p := range events {
		if p.Kind == EventVerifyBatchDone {
			batches++
			assert.Equal(t, 4, p.ToVerify)
		}
	}
	assert.Equal(t, 2, batches, "4 cards in fan-out batches of 2")
}

func TestReverify(t *testing.T) {
	api := newFakeAPI()
	api.cards["1"] = fetchedCard("1", `["B_id","C_id"]`)
	api.cards["2"] = fetchedCard("2", `["C_id"]`)

	v := NewVerifier(api, 20, 0, nil)

	confirmed := v.Reverify(context.Background(), "tok", "1", dest)
	assert.Equal(t, StatusConfirmed, confirmed.Status)
	assert.Equal(t, []string{"B_id", "C_id"}, confirmed.Current)

	alert := v.Reverify(context.Background(), "tok", "2", dest)
	assert.Equal(t, StatusAlert, alert.Status)

	missing := v.Reverify(context.Background(), "tok", "9", dest)
	assert.Equal(t, StatusError, missing.Status)
}
