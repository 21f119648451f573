package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/database"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"
)

const (
	DefaultEventListLimit = 100
	MaxEventListLimit     = 1000
)

// rowScanner covers pgx.Row and pgx.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// EventFilter narrows a query of persisted events. Empty slices match
// everything.
type EventFilter struct {
	Subjects []string
	Types    []string
	Since    time.Time
	Limit    int
}

// SecurityEventRepository persists exported security events
type SecurityEventRepository struct {
	db *database.DB
}

// NewSecurityEventRepository creates a new SecurityEventRepository
func NewSecurityEventRepository(db *database.DB) *SecurityEventRepository {
	return &SecurityEventRepository{db: db}
}

func (r *SecurityEventRepository) Name() string { return "postgres" }

// Write inserts a batch of events in one transaction. Events already stored
// are skipped, so a retried batch is harmless.
func (r *SecurityEventRepository) Write(ctx context.Context, events []models.SecurityEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO security_events (id, event_type, subject_key, occurred_at, details)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	err := r.db.WithTransaction(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, ev := range events {
			batch.Queue(query, ev.ID, ev.Type, ev.SubjectKey, ev.Timestamp, ev.Details)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return fmt.Errorf("failed to insert %d security events: %w", len(events), database.MapPostgresError(err))
	}

	return nil
}

func scanSecurityEventRow(row rowScanner) (models.SecurityEvent, error) {
	var ev models.SecurityEvent

	err := row.Scan(&ev.ID, &ev.Type, &ev.SubjectKey, &ev.Timestamp, &ev.Details)
	if err != nil {
		return models.SecurityEvent{}, database.MapPostgresError(err)
	}

	return ev, nil
}

// List returns matching events, newest first
func (r *SecurityEventRepository) List(ctx context.Context, filter EventFilter) ([]models.SecurityEvent, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultEventListLimit
	}
	if limit > MaxEventListLimit {
		limit = MaxEventListLimit
	}

	var subjects, types interface{}
	if len(filter.Subjects) > 0 {
		subjects = pq.Array(filter.Subjects)
	}
	if len(filter.Types) > 0 {
		types = pq.Array(filter.Types)
	}

	query := `
		SELECT id, event_type, subject_key, occurred_at, details
		FROM security_events
		WHERE ($1::text[] IS NULL OR subject_key = ANY($1::text[]))
		  AND ($2::text[] IS NULL OR event_type = ANY($2::text[]))
		  AND occurred_at > $3
		ORDER BY occurred_at DESC
		LIMIT $4
	`

	rows, err := r.db.Pool.Query(ctx, query, subjects, types, filter.Since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}
	defer rows.Close()

	events := make([]models.SecurityEvent, 0)
	for rows.Next() {
		ev, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, ev)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// DeleteBefore removes events that occurred before cutoff
func (r *SecurityEventRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM security_events WHERE occurred_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old security events: %w", err)
	}
	return tag.RowsAffected(), nil
}
