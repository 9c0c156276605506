// Package models defines the domain models for the transfer console backend.
package models

import (
	"time"
)

// RunStatus represents the lifecycle state of an asynchronous run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusDone     RunStatus = "done"
	RunStatusFailed   RunStatus = "failed"
	RunStatusCanceled RunStatus = "canceled"
)

// ItemOutcome represents the per-card outcome of a transfer run.
type ItemOutcome string

const (
	OutcomeSucceeded ItemOutcome = "succeeded"
	OutcomeFailed    ItemOutcome = "failed"
	OutcomeConfirmed ItemOutcome = "confirmed"
	OutcomeAlert     ItemOutcome = "alert"
	OutcomeError     ItemOutcome = "error"
)

// TransferRun is one completed bulk reassignment, as persisted in the
// history store. History rows are advisory; the upstream SaaS remains the
// source of truth and every row can be rebuilt by re-querying it.
type TransferRun struct {
	ID             string    `json:"id"`
	SourceEmail    string    `json:"source_email"`
	SourceID       string    `json:"source_id"`
	DestEmail      string    `json:"dest_email"`
	DestID         string    `json:"dest_id"`
	PipeNames      []string  `json:"pipe_names"`
	TotalCards     int       `json:"total_cards"`
	SucceededCards int       `json:"succeeded_cards"`
	FailedCards    int       `json:"failed_cards"`
	AccessGranted  bool      `json:"access_granted"`
	Operator       string    `json:"operator"`
	CreatedAt      time.Time `json:"created_at"`
}

// TransferRunItem is the outcome for a single card inside a run.
type TransferRunItem struct {
	ID        string      `json:"id"`
	RunID     string      `json:"run_id"`
	CardID    string      `json:"card_id"`
	CardTitle string      `json:"card_title"`
	Outcome   ItemOutcome `json:"outcome"`
	Detail    string      `json:"detail,omitempty"`
}

// Connection holds the upstream credential and organization an operator
// works against. Written back whenever the operator reconnects.
type Connection struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	Token          string    `json:"-"`
	AccountEmail   string    `json:"account_email"`
	UpdatedAt      time.Time `json:"updated_at"`
}
