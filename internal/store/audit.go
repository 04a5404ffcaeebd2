package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalis/internal/types"
)

func insertAuditTx(ctx context.Context, tx *sql.Tx, ev types.AuditEvent) error {
	detail, err := encodeJSON(ev.Detail)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO audit_events (user_id, kind, entity_type, entity_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		string(ev.User), ev.Kind, ev.EntityType, ev.EntityID, detail,
		encodeTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

func insertEdgeTx(ctx context.Context, tx *sql.Tx, e types.ExplanationEdge) error {
	detail, err := encodeJSON(e.Detail)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO explanation_edges (user_id, from_type, from_id, to_type, to_id, relation, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		string(e.User), e.FromType, e.FromID, e.ToType, e.ToID, e.Relation,
		detail, encodeTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert explanation edge: %w", err)
	}
	return nil
}

// InsertAuditEvent appends a standalone decision record.
func (s *Store) InsertAuditEvent(ctx context.Context, ev types.AuditEvent) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertAuditTx(ctx, tx, ev)
	})
}

// InsertExplanationEdge appends a standalone edge.
func (s *Store) InsertExplanationEdge(ctx context.Context, e types.ExplanationEdge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return insertEdgeTx(ctx, tx, e)
	})
}

// AuditEventsBetween returns a user's audit events created in [from, to).
func (s *Store) AuditEventsBetween(ctx context.Context, user types.UserID, from, to time.Time) ([]types.AuditEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, entity_type, entity_id, detail, created_at
		FROM audit_events
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC, id ASC`,
		string(user), encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		ev := types.AuditEvent{User: user}
		var detail, created string
		if err := rows.Scan(&ev.ID, &ev.Kind, &ev.EntityType, &ev.EntityID, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Detail = decodeJSON[map[string]any](detail)
		ev.CreatedAt = decodeTime(created)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EdgesFrom returns the explanation edges rooted at one entity, so an
// output can be walked back to its inputs without recomputation.
func (s *Store) EdgesFrom(ctx context.Context, fromType string, fromID int64) ([]types.ExplanationEdge, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, to_type, to_id, relation, detail, created_at
		FROM explanation_edges
		WHERE from_type = ? AND from_id = ?
		ORDER BY id ASC`, fromType, fromID)
	if err != nil {
		return nil, fmt.Errorf("query edges: %w", err)
	}
	defer rows.Close()

	var out []types.ExplanationEdge
	for rows.Next() {
		e := types.ExplanationEdge{FromType: fromType, FromID: fromID}
		var user, detail, created string
		if err := rows.Scan(&e.ID, &user, &e.ToType, &e.ToID, &e.Relation, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		e.User = types.UserID(user)
		e.Detail = decodeJSON[map[string]any](detail)
		e.CreatedAt = decodeTime(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
