package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-reservation/internal/model"
)

// WebhookEventRepo journals processed provider events.  The unique key on
// (provider, external_id) turns a second delivery into
// ErrEventAlreadyProcessed.
type WebhookEventRepo struct {
	db *sql.DB
}

// NewWebhookEventRepo returns a new WebhookEventRepo bound to the given database.
func NewWebhookEventRepo(db *sql.DB) *WebhookEventRepo { return &WebhookEventRepo{db: db} }

// RecordTx inserts the event in the caller's transaction so the journal
// row and the state change commit together.
func (r *WebhookEventRepo) RecordTx(ctx context.Context, tx *sql.Tx, ev model.WebhookEvent) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO webhook_events (provider, external_id, intent_id, outcome) VALUES (?, ?, ?, ?)`,
		ev.Provider, ev.ExternalID, ev.IntentID, ev.Outcome,
	)
	if isDuplicate(err) {
		return ErrEventAlreadyProcessed
	}
	return err
}
