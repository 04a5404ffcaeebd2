package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// CommitLoopRun persists one loop run's insights, audit events, and
// explanation edges atomically. Insight IDs are assigned in slice order;
// edges whose FromID is 0 are pointed at the insight with the matching
// index recorded in edgeInsightIdx (-1 for edges that already carry ids).
// Partial work is never surfaced: any failure rolls the whole run back.
func (s *Store) CommitLoopRun(ctx context.Context, insights []*types.Insight, events []types.AuditEvent, edges []types.ExplanationEdge, edgeInsightIdx []int) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, ins := range insights {
			id, err := insertInsightTx(ctx, tx, ins)
			if err != nil {
				return err
			}
			ins.ID = id
		}
		for i := range edges {
			if edgeInsightIdx != nil && i < len(edgeInsightIdx) && edgeInsightIdx[i] >= 0 {
				idx := edgeInsightIdx[i]
				if idx < len(insights) {
					edges[i].FromID = insights[idx].ID
				}
			}
			if err := insertEdgeTx(ctx, tx, edges[i]); err != nil {
				return err
			}
		}
		for _, ev := range events {
			if err := insertAuditTx(ctx, tx, ev); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertInsightTx(ctx context.Context, tx *sql.Tx, ins *types.Insight) (int64, error) {
	evidence, err := encodeJSON(ins.Evidence)
	if err != nil {
		return 0, err
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO insights (user_id, type, metric_key, domain_key, title,
			description, confidence, claim_level, evidence, generated_at,
			suppressed, suppression_reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(ins.User), string(ins.Type), string(ins.MetricKey), ins.DomainKey,
		ins.Title, ins.Description, ins.Confidence, ins.ClaimLevel, evidence,
		encodeTime(ins.GeneratedAt), boolInt(ins.Suppressed), ins.SuppressionReason)
	if err != nil {
		return 0, fmt.Errorf("insert insight: %w", err)
	}
	return res.LastInsertId()
}

// InsertInsight persists a single insight outside a loop commit.
func (s *Store) InsertInsight(ctx context.Context, ins *types.Insight) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		id, err := insertInsightTx(ctx, tx, ins)
		if err != nil {
			return err
		}
		ins.ID = id
		return nil
	})
}

func scanInsight(rows *sql.Rows) (types.Insight, error) {
	var ins types.Insight
	var user, typ, metric string
	var evidence, generated string
	var suppressed int
	err := rows.Scan(&ins.ID, &user, &typ, &metric, &ins.DomainKey, &ins.Title,
		&ins.Description, &ins.Confidence, &ins.ClaimLevel, &evidence,
		&generated, &suppressed, &ins.SuppressionReason)
	if err != nil {
		return ins, fmt.Errorf("scan insight: %w", err)
	}
	ins.User = types.UserID(user)
	ins.Type = types.InsightType(typ)
	ins.MetricKey = types.MetricKey(metric)
	ins.Evidence = decodeJSON[map[string]float64](evidence)
	ins.GeneratedAt = decodeTime(generated)
	ins.Suppressed = suppressed != 0
	return ins, nil
}

const insightColumns = `id, user_id, type, metric_key, domain_key, title,
	description, confidence, claim_level, evidence, generated_at,
	suppressed, suppression_reason`

// InsightsBetween returns the user's insights generated in [from, to),
// oldest first. Suppressed insights are included; callers filter.
func (s *Store) InsightsBetween(ctx context.Context, user types.UserID, from, to time.Time) ([]types.Insight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE user_id = ? AND generated_at >= ? AND generated_at < ?
		ORDER BY generated_at ASC, id ASC`,
		string(user), encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("query insights: %w", err)
	}
	defer rows.Close()

	var out []types.Insight
	for rows.Next() {
		ins, err := scanInsight(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ins)
	}
	return out, rows.Err()
}

// LatestInsightForMetric returns the newest non-suppressed insight for a
// (user, metric), or ErrNotFound. Used by the duplicate-window rule.
func (s *Store) LatestInsightForMetric(ctx context.Context, user types.UserID, metric types.MetricKey) (*types.Insight, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+insightColumns+` FROM insights
		WHERE user_id = ? AND metric_key = ? AND suppressed = 0
		ORDER BY generated_at DESC, id DESC LIMIT 1`,
		string(user), string(metric))
	if err != nil {
		return nil, fmt.Errorf("query latest insight: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	ins, err := scanInsight(rows)
	if err != nil {
		return nil, err
	}
	return &ins, nil
}

// CountSurfacedBetween counts non-suppressed insights generated in
// [from, to). Used by the daily cap.
func (s *Store) CountSurfacedBetween(ctx context.Context, user types.UserID, from, to time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM insights
		WHERE user_id = ? AND suppressed = 0 AND generated_at >= ? AND generated_at < ?`,
		string(user), encodeTime(from), encodeTime(to)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count surfaced: %w", err)
	}
	return n, nil
}

// GetInsight loads one insight by id.
func (s *Store) GetInsight(ctx context.Context, id int64) (*types.Insight, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+insightColumns+` FROM insights WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("query insight: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	ins, err := scanInsight(rows)
	if err != nil {
		return nil, err
	}
	return &ins, nil
}
