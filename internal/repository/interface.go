package repository

import (
	"context"

	"cardshift/backend/pkg/models"
)

// HistoryStore persists completed transfer runs. The history is advisory:
// the upstream SaaS stays the source of truth and rows exist only so
// operators can audit past runs.
type HistoryStore interface {
	// SaveRun appends a run and its per-card outcomes.
	SaveRun(ctx context.Context, run *models.TransferRun, items []models.TransferRunItem) error
	// ListRuns returns the most recent runs, newest first.
	ListRuns(ctx context.Context, limit int) ([]models.TransferRun, error)
	// RunItems returns the per-card outcomes of one run.
	RunItems(ctx context.Context, runID string) ([]models.TransferRunItem, error)
}

// ConnectionStore keeps the upstream credential and organization the console
// operates against.
type ConnectionStore interface {
	// GetConnection returns the stored connection, if any.
	GetConnection(ctx context.Context) (*models.Connection, error)
	// SaveConnection writes the connection back, replacing any previous one.
	SaveConnection(ctx context.Context, conn *models.Connection) error
}
