package services

import (
	"context"

	"cardshift/backend/internal/pipefy"
)

// Upstream is the slice of the workflow SaaS client the services depend on.
type Upstream interface {
	CurrentUser(ctx context.Context, token string) (*pipefy.Member, error)
	OrganizationMembers(ctx context.Context, token, orgID string) ([]pipefy.Member, error)
	OrganizationPipes(ctx context.Context, token, orgID string) ([]pipefy.Pipe, error)
	FindUserByEmail(ctx context.Context, token, email string) (*pipefy.Member, error)
	CardsInPhase(ctx context.Context, token, phaseID string) ([]pipefy.Card, error)
	CardByID(ctx context.Context, token, cardID string) (*pipefy.Card, error)
	UpdateCardFields(ctx context.Context, token string, updates []pipefy.FieldUpdate, invite *pipefy.InviteInput) (*pipefy.UpdateOutcome, error)
	PostJSON(ctx context.Context, url string, payload any) (int, error)
}
