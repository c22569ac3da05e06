package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"govtoken/internal/domain"
	"govtoken/internal/state"
	"govtoken/pkg/logger"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// StateRepository persists committed protocol state and its event log.
type StateRepository struct {
	db *sqlx.DB
}

// NewStateRepository creates a new StateRepository.
func NewStateRepository(db *sqlx.DB) *StateRepository {
	return &StateRepository{db: db}
}

type entryRow struct {
	Namespace string `db:"namespace"`
	Key       string `db:"key"`
	Value     []byte `db:"value"`
	Seq       int64  `db:"seq"`
}

// EventRecord is a persisted protocol event.
type EventRecord struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	Seq        int64           `db:"seq" json:"seq"`
	Type       string          `db:"type" json:"type"`
	Component  string          `db:"component" json:"component"`
	Data       json.RawMessage `db:"data" json:"data,omitempty"`
	OccurredAt time.Time       `db:"occurred_at" json:"occurred_at"`
}

// Persist writes one commit. Writes carrying an older sequence than what
// is stored are ignored, so commits delivered out of order converge.
func (r *StateRepository) Persist(ctx context.Context, c state.Commit) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	seq := int64(c.Seq)
	for _, ch := range c.Changes {
		if ch.Deleted {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM state_entries WHERE namespace = $1 AND key = $2 AND seq < $3`,
				ch.Namespace, ch.Key, seq); err != nil {
				return fmt.Errorf("failed to delete %s/%s: %w", ch.Namespace, ch.Key, err)
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO state_tombstones (namespace, key, seq) VALUES ($1, $2, $3)
				ON CONFLICT (namespace, key) DO UPDATE SET seq = EXCLUDED.seq
				WHERE state_tombstones.seq < EXCLUDED.seq`,
				ch.Namespace, ch.Key, seq); err != nil {
				return fmt.Errorf("failed to record tombstone %s/%s: %w", ch.Namespace, ch.Key, err)
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO state_entries (namespace, key, version, value, seq, updated_at)
			SELECT $1::text, $2::text, $3::integer, $4::jsonb, $5::bigint, NOW()
			WHERE NOT EXISTS (
				SELECT 1 FROM state_tombstones t
				WHERE t.namespace = $1::text AND t.key = $2::text AND t.seq > $5::bigint
			)
			ON CONFLICT (namespace, key) DO UPDATE
			SET version = EXCLUDED.version, value = EXCLUDED.value, seq = EXCLUDED.seq, updated_at = NOW()
			WHERE state_entries.seq < EXCLUDED.seq`,
			ch.Namespace, ch.Key, ch.Version, string(ch.Value), seq); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", ch.Namespace, ch.Key, err)
		}
	}

	for _, ev := range c.Events {
		data, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO protocol_events (id, seq, type, component, data, occurred_at)
			VALUES ($1, $2, $3, $4, $5::jsonb, $6)
			ON CONFLICT (id) DO NOTHING`,
			ev.ID, seq, string(ev.Type), ev.Component, string(data), ev.Timestamp); err != nil {
			return fmt.Errorf("failed to insert event %s: %w", ev.ID, err)
		}
	}

	return tx.Commit()
}

// Load returns every stored entry for state.DB.Restore.
func (r *StateRepository) Load(ctx context.Context) ([]state.Entry, error) {
	var rows []entryRow
	if err := r.db.SelectContext(ctx, &rows, `
		SELECT namespace, key, value, seq FROM state_entries ORDER BY seq`); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	entries := make([]state.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, state.Entry{
			Namespace: row.Namespace,
			Key:       row.Key,
			Value:     row.Value,
			Seq:       uint64(row.Seq),
		})
	}
	return entries, nil
}

// RecentEvents lists the newest events, optionally of one type.
func (r *StateRepository) RecentEvents(ctx context.Context, typ domain.EventType, limit int) ([]EventRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var out []EventRecord
	var err error
	if typ == "" {
		err = r.db.SelectContext(ctx, &out, `
			SELECT id, seq, type, component, data, occurred_at FROM protocol_events
			ORDER BY seq DESC LIMIT $1`, limit)
	} else {
		err = r.db.SelectContext(ctx, &out, `
			SELECT id, seq, type, component, data, occurred_at FROM protocol_events
			WHERE type = $1 ORDER BY seq DESC LIMIT $2`, string(typ), limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return out, nil
}

// Listener persists commits as they happen. Failures are logged; the
// in-memory state stays authoritative until the next successful write of
// the same keys.
func (r *StateRepository) Listener(log logger.Logger) state.CommitListener {
	var mu sync.Mutex
	return func(ctx context.Context, c state.Commit) {
		mu.Lock()
		defer mu.Unlock()
		if err := r.Persist(context.WithoutCancel(ctx), c); err != nil {
			log.Error("Failed to persist commit", map[string]interface{}{
				"seq":   c.Seq,
				"error": err.Error(),
			})
		}
	}
}
