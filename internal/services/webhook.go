package services

import (
	"context"
	"time"

	"cardshift/backend/internal/logging"
	"cardshift/backend/pkg/models"
)

// WebhookRunner pushes run summaries to automation endpoints. Deliveries go
// through the upstream client's pacer so they count against the same spacing
// budget as the GraphQL traffic. Delivery is best effort: failures are
// logged, never retried, and never fail the run.
type WebhookRunner struct {
	upstream Upstream
	logger   *logging.Logger
}

// NewWebhookRunner creates a new WebhookRunner.
func NewWebhookRunner(upstream Upstream, logger *logging.Logger) *WebhookRunner {
	return &WebhookRunner{upstream: upstream, logger: logger}
}

// RunCompleted is the payload delivered after a transfer run finishes.
type RunCompleted struct {
	Event          string    `json:"event"`
	RunID          string    `json:"run_id"`
	SourceEmail    string    `json:"source_email,omitempty"`
	DestEmail      string    `json:"dest_email"`
	PipeNames      []string  `json:"pipe_names"`
	TotalCards     int       `json:"total_cards"`
	SucceededCards int       `json:"succeeded_cards"`
	FailedCards    int       `json:"failed_cards"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NotifyRunCompleted posts the run summary to each URL in turn.
func (w *WebhookRunner) NotifyRunCompleted(ctx context.Context, urls []string, run *models.TransferRun) {
	if len(urls) == 0 {
		return
	}
	payload := RunCompleted{
		Event:          "transfer.run.completed",
		RunID:          run.ID,
		SourceEmail:    run.SourceEmail,
		DestEmail:      run.DestEmail,
		PipeNames:      run.PipeNames,
		TotalCards:     run.TotalCards,
		SucceededCards: run.SucceededCards,
		FailedCards:    run.FailedCards,
		CompletedAt:    time.Now().UTC(),
	}

	for _, url := range urls {
		status, err := w.upstream.PostJSON(ctx, url, payload)
		if err != nil {
			w.logger.Warn("webhook delivery failed", "url", url, "error", err.Error())
			continue
		}
		if status < 200 || status >= 300 {
			w.logger.Warn("webhook rejected", "url", url, "status", status)
			continue
		}
		w.logger.Debug("webhook delivered", "url", url, "status", status)
	}
}
