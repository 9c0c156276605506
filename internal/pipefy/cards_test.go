package pipefy

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cardNode(id int, title string, value *string) map[string]any {
	fields := []map[string]any{}
	if value != nil {
		fields = append(fields, map[string]any{
			"name":  "Responsável",
			"value": *value,
			"field": map[string]any{"id": "responsavel"},
		})
	}
	return map[string]any{
		"id":            id,
		"title":         title,
		"current_phase": map[string]any{"id": "p1", "name": "Triage"},
		"fields":        fields,
	}
}

func cardsPageBody(nodes []map[string]any, hasNext bool, cursor string) map[string]any {
	edges := make([]map[string]any, 0, len(nodes))
	for _, n := range nodes {
		edges = append(edges, map[string]any{"node": n})
	}
	return map[string]any{
		"data": map[string]any{
			"phase": map[string]any{
				"cards": map[string]any{
					"pageInfo": map[string]any{"hasNextPage": hasNext, "endCursor": cursor},
					"edges":    edges,
				},
			},
		},
	}
}

func TestCardsInPhaseFollowsCursor(t *testing.T) {
	v := `["100"]`
	var cursors []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Variables map[string]any `json:"variables"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		after, _ := req.Variables["after"].(string)
		cursors = append(cursors, after)

		switch after {
		case "":
			_ = json.NewEncoder(w).Encode(cardsPageBody([]map[string]any{
				cardNode(1, "first", &v), cardNode(2, "second", nil),
			}, true, "c1"))
		case "c1":
			_ = json.NewEncoder(w).Encode(cardsPageBody([]map[string]any{
				cardNode(3, "third", &v),
			}, false, ""))
		default:
			t.Errorf("unexpected cursor %q", after)
		}
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	cards, err := c.CardsInPhase(context.Background(), "tok", "p1")

	require.NoError(t, err)
	require.Len(t, cards, 3)
	assert.Equal(t, []string{"", "c1"}, cursors)
	assert.Equal(t, "1", cards[0].ID.String())
	assert.Equal(t, "third", cards[2].Title)
	assert.Equal(t, "Triage", cards[0].PhaseName)
	require.Len(t, cards[0].Fields, 1)
	assert.Equal(t, "responsavel", cards[0].Fields[0].FieldID)
	assert.Empty(t, cards[1].Fields, "empty fields are omitted from the payload")
}

func TestCardsInPhaseCanceledBeforePage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(testConfig("http://127.0.0.1:1"), nil)
	cards, err := c.CardsInPhase(ctx, "tok", "p1")

	assert.ErrorIs(t, err, ErrSearchCanceled)
	assert.Nil(t, cards)
}

func TestUpdateCardFieldsAliasedBatch(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotQuery = req.Query

		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"grantAccess": map[string]any{"clientMutationId": "x"},
				"u0":          map[string]any{"success": true},
				"u1":          nil,
				"u2":          map[string]any{"success": false},
			},
			"errors": []map[string]any{
				{"message": "Card gone", "path": []any{"u1"}},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	outcome, err := c.UpdateCardFields(context.Background(), "tok", []FieldUpdate{
		{CardID: "10", FieldID: "responsavel", Values: []string{"200"}},
		{CardID: "11", FieldID: "responsavel", Values: []string{"200"}},
		{CardID: "12", FieldID: "responsavel", Values: []string{"200"}},
	}, &InviteInput{PipeID: "77", Email: "dest@acme.com"})

	require.NoError(t, err)
	assert.Equal(t, []string{"10"}, outcome.Succeeded)
	assert.Equal(t, "Card gone", outcome.Failed["11"])
	assert.Equal(t, "update rejected by upstream", outcome.Failed["12"])
	assert.True(t, outcome.AccessGranted)

	for _, frag := range []string{"grantAccess: invitePipeMember", `u0: updateCardField`, `card_id: "12"`, `new_value: ["200"]`} {
		assert.Contains(t, gotQuery, frag)
	}
}

func TestFindUserByEmailFallsBackToOrgScan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)

		if strings.Contains(req.Query, "findUser") {
			_ = json.NewEncoder(w).Encode(map[string]any{
				"errors": []map[string]any{{"message": "findUser is not available"}},
			})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"organizations": []map[string]any{
					{"id": 1, "members": []map[string]any{
						{"user": map[string]any{"id": 501, "name": "Bia", "email": "Bia@Acme.com"}},
					}},
				},
			},
		})
	}))
	defer srv.Close()

	c := NewClient(testConfig(srv.URL), nil)
	m, err := c.FindUserByEmail(context.Background(), "tok", "bia@acme.com")

	require.NoError(t, err)
	assert.Equal(t, "501", m.ID.String())
}
