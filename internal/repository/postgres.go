package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cardshift/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of HistoryStore and
// ConnectionStore.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the tables if they do not exist yet.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS transfer_runs (
			id UUID PRIMARY KEY,
			source_email TEXT NOT NULL,
			source_id TEXT NOT NULL,
			dest_email TEXT NOT NULL,
			dest_id TEXT NOT NULL,
			pipe_names TEXT[] NOT NULL,
			total_cards INT NOT NULL,
			succeeded_cards INT NOT NULL,
			failed_cards INT NOT NULL,
			access_granted BOOLEAN NOT NULL,
			operator TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS transfer_run_items (
			id UUID PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES transfer_runs(id) ON DELETE CASCADE,
			card_id TEXT NOT NULL,
			card_title TEXT NOT NULL,
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT ''
		);
		CREATE TABLE IF NOT EXISTS connections (
			id UUID PRIMARY KEY,
			organization_id TEXT NOT NULL,
			token TEXT NOT NULL,
			account_email TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`)
	return err
}

// SaveRun appends a run and its per-card outcomes in one transaction.
func (s *PostgresStore) SaveRun(ctx context.Context, run *models.TransferRun, items []models.TransferRunItem) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transfer_runs
			(id, source_email, source_id, dest_email, dest_id, pipe_names,
			 total_cards, succeeded_cards, failed_cards, access_granted, operator)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.SourceEmail, run.SourceID, run.DestEmail, run.DestID, run.PipeNames,
		run.TotalCards, run.SucceededCards, run.FailedCards, run.AccessGranted, run.Operator)
	if err != nil {
		return fmt.Errorf("inserting run: %w", err)
	}

	for _, item := range items {
		if item.ID == "" {
			item.ID = uuid.New().String()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO transfer_run_items (id, run_id, card_id, card_title, outcome, detail)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			item.ID, run.ID, item.CardID, item.CardTitle, item.Outcome, item.Detail)
		if err != nil {
			return fmt.Errorf("inserting run item for card %s: %w", item.CardID, err)
		}
	}

	return tx.Commit(ctx)
}

// ListRuns returns the most recent runs, newest first.
func (s *PostgresStore) ListRuns(ctx context.Context, limit int) ([]models.TransferRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, source_email, source_id, dest_email, dest_id, pipe_names,
		       total_cards, succeeded_cards, failed_cards, access_granted, operator, created_at
		FROM transfer_runs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []models.TransferRun
	for rows.Next() {
		var r models.TransferRun
		if err := rows.Scan(&r.ID, &r.SourceEmail, &r.SourceID, &r.DestEmail, &r.DestID, &r.PipeNames,
			&r.TotalCards, &r.SucceededCards, &r.FailedCards, &r.AccessGranted, &r.Operator, &r.CreatedAt); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunItems returns the per-card outcomes of one run.
func (s *PostgresStore) RunItems(ctx context.Context, runID string) ([]models.TransferRunItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, run_id, card_id, card_title, outcome, detail
		FROM transfer_run_items WHERE run_id = $1 ORDER BY card_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []models.TransferRunItem
	for rows.Next() {
		var it models.TransferRunItem
		if err := rows.Scan(&it.ID, &it.RunID, &it.CardID, &it.CardTitle, &it.Outcome, &it.Detail); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}

// GetConnection returns the stored connection, or nil when none exists.
func (s *PostgresStore) GetConnection(ctx context.Context) (*models.Connection, error) {
	var c models.Connection
	err := s.db.QueryRow(ctx, `
		SELECT id, organization_id, token, account_email, updated_at
		FROM connections ORDER BY updated_at DESC LIMIT 1`).
		Scan(&c.ID, &c.OrganizationID, &c.Token, &c.AccountEmail, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// SaveConnection replaces the stored connection.
func (s *PostgresStore) SaveConnection(ctx context.Context, conn *models.Connection) error {
	if conn.ID == "" {
		conn.ID = uuid.New().String()
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM connections`); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO connections (id, organization_id, token, account_email, updated_at)
		VALUES ($1, $2, $3, $4, now())`,
		conn.ID, conn.OrganizationID, conn.Token, conn.AccountEmail); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
