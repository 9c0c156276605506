package transfer

import (
	"context"
	"strings"

	"cardshift/backend/internal/fieldvalue"
	"cardshift/backend/internal/pipefy"
)

// API is the slice of the upstream client the transfer core depends on.
type API interface {
	CardsInPhase(ctx context.Context, token, phaseID string) ([]pipefy.Card, error)
	CardByID(ctx context.Context, token, cardID string) (*pipefy.Card, error)
	UpdateCardFields(ctx context.Context, token string, updates []pipefy.FieldUpdate, invite *pipefy.InviteInput) (*pipefy.UpdateOutcome, error)
}

// labels identifying the responsible field, after normalization. The pipes
// this console operates on carry either the Portuguese or the English label.
var (
	stageResponsibleLabels = []string{"responsavel pela etapa", "responsible for the stage"}
	responsibleLabels      = []string{"responsavel", "responsible"}
)

// responsibleField returns the card's responsible field entry, located by
// normalized name, or nil when the card carries none.
func responsibleField(card *pipefy.Card) *pipefy.CardField {
	for i := range card.Fields {
		name := fieldvalue.Normalize(card.Fields[i].Name)
		for _, label := range responsibleLabels {
			if strings.Contains(name, label) {
				return &card.Fields[i]
			}
		}
	}
	return nil
}

// nameMatches compares a stored value against a member name using the
// permissive policy: exact normalized equality, or substring containment in
// either direction. Stored values sometimes truncate or reformat names, so
// both containment directions are checked on purpose.
func nameMatches(value, name string) bool {
	if name == "" {
		return false
	}
	nv := fieldvalue.Normalize(value)
	nn := fieldvalue.Normalize(name)
	if nv == "" || nn == "" {
		return false
	}
	return nv == nn || strings.Contains(nv, nn) || strings.Contains(nn, nv)
}

// matchesMember reports whether one parsed value refers to the member,
// either by exact id or by fuzzy name.
func matchesMember(value string, member pipefy.Member) bool {
	if value == member.ID.String() {
		return true
	}
	return nameMatches(value, member.Name)
}
