package webhook

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"kycflow/pkg/platform/tx"
)

// PostgresStore keeps the dedup ledger in PostgreSQL. The primary key
// (vendor, event_id) is the uniqueness guarantee; a concurrent double
// delivery resolves to exactly one insert.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgres constructs a PostgreSQL-backed dedup ledger.
func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Insert(ctx context.Context, event *Event) (bool, error) {
	receivedAt := event.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	query := `
		INSERT INTO webhook_events (vendor, event_id, payload, received_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (vendor, event_id) DO NOTHING
	`
	result, err := tx.Preferred(ctx, s.db).ExecContext(ctx, query,
		event.Vendor.String(), event.EventID.String(), event.Payload, receivedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert webhook event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert webhook event rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *PostgresStore) ArchiveOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		WITH moved AS (
			DELETE FROM webhook_events
			WHERE received_at < $1
			RETURNING vendor, event_id, payload, received_at
		)
		INSERT INTO webhook_events_archive (vendor, event_id, payload, received_at, archived_at)
		SELECT vendor, event_id, payload, received_at, $2 FROM moved
		ON CONFLICT (vendor, event_id) DO NOTHING
	`
	result, err := tx.Preferred(ctx, s.db).ExecContext(ctx, query, cutoff, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("archive webhook events: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("archive webhook events rows affected: %w", err)
	}
	return int(rows), nil
}

func (s *PostgresStore) CountReceivedSince(ctx context.Context, since time.Time) (int, error) {
	query := `SELECT COUNT(*) FROM webhook_events WHERE received_at >= $1`
	var count int
	if err := tx.Preferred(ctx, s.db).QueryRowContext(ctx, query, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("count webhook events: %w", err)
	}
	return count, nil
}

var _ Store = (*PostgresStore)(nil)
