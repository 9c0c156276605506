package transfer

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cardshift/backend/internal/pipefy"
)

// Exercises the full search → transfer → verify pass against an in-memory
// upstream: one pipe with two active phases (50 and 30 cards) and a terminal
// phase, 12 cards held by the source member.
func TestSearchTransferVerifyFlow(t *testing.T) {
	api := newFakeAPI()
	m1 := pipefy.Member{ID: "M1", Name: "Marta Um", Email: "m1@acme.com"}
	m2 := pipefy.Member{ID: "M2", Name: "Mario Dois", Email: "m2@acme.com"}

	var expected []string
	seed := func(phaseID, phaseName string, count, owned int) {
		for i := 0; i < count; i++ {
			id := phaseID + "-" + strconv.Itoa(i)
			value := `["someone else"]`
			if i < owned {
				value = `["M1","C_id"]`
				expected = append(expected, id)
			}
			api.phaseCards[phaseID] = append(api.phaseCards[phaseID], card(id, phaseID, phaseName, &value))
		}
	}
	seed("p1", "Intake", 50, 7)
	seed("p2", "Review", 30, 5)
	seed("p9", "Archived", 40, 40) // terminal, must never be touched

	pipes := []pipefy.Pipe{{
		ID:   "10",
		Name: "Support",
		Phases: []pipefy.Phase{
			{ID: "p1", Name: "Intake"},
			{ID: "p2", Name: "Review"},
			{ID: "p9", Name: "Archived", Done: true},
		},
	}}

	// search
	loc := NewLocator(api, nil)
	found, err := loc.Search(context.Background(), "tok", pipes, Filter{Member: &m1}, nil)
	require.NoError(t, err)
	require.Len(t, found, 12)
	for _, c := range found {
		assert.Contains(t, []string{"Intake", "Review"}, c.PhaseName)
	}
	assert.ElementsMatch(t, expected, cardIDs(found))

	// transfer
	snapshots := make(map[string]pipefy.Card, len(found))
	for _, c := range found {
		snapshots[c.ID.String()] = c
	}
	eng := NewEngine(api, nil)
	result, err := eng.Transfer(context.Background(), "tok", Request{
		CardIDs:   cardIDs(found),
		Source:    &m1,
		Dest:      m2,
		Cards:     snapshots,
		Pipes:     pipes,
		BatchSize: 50,
	}, nil)
	require.NoError(t, err)
	assert.Len(t, api.updateCalls, 1, "12 updates fit one batch of 50")
	assert.Len(t, result.Succeeded, 12)
	assert.Empty(t, result.Failed)
	for _, u := range api.updateCalls[0] {
		assert.Equal(t, []string{"C_id", "M2"}, u.Values)
	}

	// verify
	v := NewVerifier(api, 20, 0, nil)
	fetched := v.VerifyAll(context.Background(), "tok", result.Succeeded, nil)
	items := Classify(result, fetched, m2)
	require.Len(t, items, 12)
	for _, it := range items {
		assert.Equal(t, StatusConfirmed, it.Status)
		assert.Equal(t, []string{"M1", "C_id"}, it.Previous)
	}
}
