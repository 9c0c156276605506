package repository

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"cardshift/backend/pkg/models"
)

func TestPostgresStore(t *testing.T) {
	if testing.Short() {
		t.Skip("requires docker")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	store := NewPostgresStore(pool)
	if err := store.Migrate(ctx); err != nil {
		t.Fatal(err)
	}

	t.Run("SaveRun and ListRuns", func(t *testing.T) {
		run := &models.TransferRun{
			SourceEmail:    "alice@acme.com",
			SourceID:       "300",
			DestEmail:      "bruno@acme.com",
			DestID:         "301",
			PipeNames:      []string{"Support", "Sales"},
			TotalCards:     3,
			SucceededCards: 2,
			FailedCards:    1,
			AccessGranted:  true,
			Operator:       "ops@acme.com",
		}
		items := []models.TransferRunItem{
			{CardID: "1", CardTitle: "first", Outcome: models.OutcomeSucceeded},
			{CardID: "2", CardTitle: "second", Outcome: models.OutcomeSucceeded},
			{CardID: "3", CardTitle: "third", Outcome: models.OutcomeFailed, Detail: "field unresolved"},
		}

		err := store.SaveRun(ctx, run, items)
		assert.NoError(t, err)

		runs, err := store.ListRuns(ctx, 10)
		assert.NoError(t, err)
		if assert.Len(t, runs, 1) {
			assert.Equal(t, run.ID, runs[0].ID)
			assert.Equal(t, []string{"Support", "Sales"}, runs[0].PipeNames)
			assert.Equal(t, 2, runs[0].SucceededCards)
		}

		got, err := store.RunItems(ctx, run.ID)
		assert.NoError(t, err)
		if assert.Len(t, got, 3) {
			assert.Equal(t, models.OutcomeFailed, got[2].Outcome)
			assert.Equal(t, "field unresolved", got[2].Detail)
		}
	})

	t.Run("Connection round trip", func(t *testing.T) {
		none, err := store.GetConnection(ctx)
		assert.NoError(t, err)
		assert.Nil(t, none)

		conn := &models.Connection{
			OrganizationID: "42",
			Token:          "secret",
			AccountEmail:   "ops@acme.com",
		}
		assert.NoError(t, store.SaveConnection(ctx, conn))

		got, err := store.GetConnection(ctx)
		assert.NoError(t, err)
		if assert.NotNil(t, got) {
			assert.Equal(t, "42", got.OrganizationID)
			assert.Equal(t, "secret", got.Token)
		}

		// saving again replaces, not appends
		conn2 := &models.Connection{OrganizationID: "43", Token: "other", AccountEmail: "ops@acme.com"}
		assert.NoError(t, store.SaveConnection(ctx, conn2))
		got, err = store.GetConnection(ctx)
		assert.NoError(t, err)
		if assert.NotNil(t, got) {
			assert.Equal(t, "43", got.OrganizationID)
		}
	})
}
