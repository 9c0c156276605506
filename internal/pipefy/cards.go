package pipefy

import (
	"context"
	"errors"
	"fmt"
)

type rawPhaseRef struct {
	ID   FlexID `json:"id"`
	Name string `json:"name"`
}

type rawCardField struct {
	Name  string  `json:"name"`
	Value *string `json:"value"`
	Field struct {
		ID string `json:"id"`
	} `json:"field"`
	ConnectedRepoItems []ConnectedItem `json:"connected_repo_items"`
}

type rawCard struct {
	ID           FlexID         `json:"id"`
	Title        string         `json:"title"`
	CurrentPhase rawPhaseRef    `json:"current_phase"`
	Fields       []rawCardField `json:"fields"`
}

// normalize flattens the wire card into the canonical Card shape.
func (r rawCard) normalize() Card {
	fields := make([]CardField, 0, len(r.Fields))
	for _, f := range r.Fields {
		fields = append(fields, CardField{
			FieldID:        f.Field.ID,
			Name:           f.Name,
			Value:          f.Value,
			ConnectedItems: f.ConnectedRepoItems,
		})
	}
	return Card{
		ID:        r.ID,
		Title:     r.Title,
		PhaseID:   r.CurrentPhase.ID.String(),
		PhaseName: r.CurrentPhase.Name,
		Fields:    fields,
	}
}

type cardsPage struct {
	Phase struct {
		Cards struct {
			PageInfo struct {
				HasNextPage bool   `json:"hasNextPage"`
				EndCursor   string `json:"endCursor"`
			} `json:"pageInfo"`
			Edges []struct {
				Node rawCard `json:"node"`
			} `json:"edges"`
		} `json:"cards"`
	} `json:"phase"`
}

// CardsInPhase walks the cursor-paginated card list of one phase and returns
// every card in cursor order. Cancellation is checked before each page fetch
// and reported as ErrSearchCanceled so callers can show a neutral notice.
func (c *Client) CardsInPhase(ctx context.Context, token, phaseID string) ([]Card, error) {
	var cards []Card
	var after *string

	for {
		if ctx.Err() != nil {
			return nil, ErrSearchCanceled
		}

		variables := map[string]any{
			"phaseId": phaseID,
			"first":   c.cfg.PageSize,
		}
		if after != nil {
			variables["after"] = *after
		}

		var page cardsPage
		if err := c.Execute(ctx, token, queryCardsInPhase, variables, &page); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, ErrSearchCanceled
			}
			return nil, fmt.Errorf("fetching cards of phase %s: %w", phaseID, err)
		}

		for _, edge := range page.Phase.Cards.Edges {
			cards = append(cards, edge.Node.normalize())
		}

		if !page.Phase.Cards.PageInfo.HasNextPage {
			return cards, nil
		}
		cursor := page.Phase.Cards.PageInfo.EndCursor
		after = &cursor
	}
}

// CardByID fetches a single card fresh from the upstream.
func (c *Client) CardByID(ctx context.Context, token, cardID string) (*Card, error) {
	var out struct {
		Card *rawCard `json:"card"`
	}
	if err := c.Execute(ctx, token, queryCardByID, map[string]any{"cardId": cardID}, &out); err != nil {
		return nil, fmt.Errorf("fetching card %s: %w", cardID, err)
	}
	if out.Card == nil {
		return nil, fmt.Errorf("card %s not found", cardID)
	}
	card := out.Card.normalize()
	return &card, nil
}
