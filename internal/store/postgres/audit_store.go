package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/concordmarkets/concord/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL. Event fields are
// stored as JSONB.
type AuditStore struct {
	db db
}

// Append inserts an event.
func (s *AuditStore) Append(ctx context.Context, e domain.Event) error {
	var fieldsJSON []byte
	if e.Fields != nil {
		var err error
		fieldsJSON, err = json.Marshal(e.Fields)
		if err != nil {
			return fmt.Errorf("postgres: marshal event fields: %w", err)
		}
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO audit_events (id, event_type, entity_id, actor, fields, at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, string(e.Type), e.EntityID, e.Actor.Hex(), fieldsJSON, e.At)
	if err != nil {
		return fmt.Errorf("postgres: append audit event %s: %w", e.Type, err)
	}
	return nil
}

// ListByEntity returns an entity's events, newest first.
func (s *AuditStore) ListByEntity(ctx context.Context, entityID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT id, event_type, entity_id, actor, fields, at
		FROM audit_events WHERE entity_id = $1 ORDER BY at DESC`
	args := []any{entityID}
	query, args = paginate(query, args, opts)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events for %s: %w", entityID, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListRecent returns the newest events first, up to limit.
func (s *AuditStore) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT id, event_type, entity_id, actor, fields, at
		FROM audit_events ORDER BY at DESC`
	args := []any{}
	if limit > 0 {
		args = append(args, limit)
		query += " LIMIT $1"
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent audit events: %w", err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// ListBefore returns events older than cutoff, oldest first, up to limit.
func (s *AuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]domain.Event, error) {
	query := `SELECT id, event_type, entity_id, actor, fields, at
		FROM audit_events WHERE at < $1 ORDER BY at`
	args := []any{cutoff}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit events before %s: %w", cutoff, err)
	}
	defer rows.Close()

	return collectEvents(rows)
}

// DeleteBefore removes events older than cutoff and reports how many.
func (s *AuditStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx,
		`DELETE FROM audit_events WHERE at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit events before %s: %w", cutoff, err)
	}
	return tag.RowsAffected(), nil
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	var events []domain.Event
	for rows.Next() {
		var (
			e          domain.Event
			eventType  string
			actor      string
			fieldsJSON []byte
		)
		if err := rows.Scan(&e.ID, &eventType, &e.EntityID, &actor, &fieldsJSON, &e.At); err != nil {
			return nil, fmt.Errorf("postgres: scan audit event: %w", err)
		}
		if fieldsJSON != nil {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event fields: %w", err)
			}
		}
		e.Type = domain.EventType(eventType)
		e.Actor = common.HexToAddress(actor)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: audit event rows: %w", err)
	}
	return events, nil
}
