package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"vitalis/internal/types"
)

// CommitEvaluation persists an evaluation result with its audit event and
// explanation edges in one transaction. Edge FromIDs are filled with the
// new evaluation id.
func (s *Store) CommitEvaluation(ctx context.Context, ev *types.EvaluationResult, audit types.AuditEvent, edges []types.ExplanationEdge) error {
	baseline, err := encodeJSON(ev.Baseline)
	if err != nil {
		return err
	}
	intervention, err := encodeJSON(ev.Intervention)
	if err != nil {
		return err
	}
	reasons, err := encodeJSON(ev.Reasons)
	if err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO evaluation_results (user_id, experiment_id, metric_key,
				baseline_stats, intervention_stats, delta, percent_change,
				effect_size_d, adherence_rate, confidence_score, verdict,
				reasons, summary, baseline_start, baseline_end,
				window_start, window_end, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			string(ev.User), ev.ExperimentID, string(ev.MetricKey),
			baseline, intervention, ev.Delta, ev.PercentChange,
			ev.EffectSizeD, ev.AdherenceRate, ev.ConfidenceScore,
			string(ev.Verdict), reasons, ev.Summary,
			encodeTime(ev.BaselineStart), encodeTime(ev.BaselineEnd),
			encodeTime(ev.WindowStart), encodeTime(ev.WindowEnd),
			encodeTime(ev.CreatedAt))
		if err != nil {
			return fmt.Errorf("insert evaluation: %w", err)
		}
		ev.ID, _ = res.LastInsertId()

		audit.EntityID = ev.ID
		if err := insertAuditTx(ctx, tx, audit); err != nil {
			return err
		}
		for i := range edges {
			edges[i].FromID = ev.ID
			if err := insertEdgeTx(ctx, tx, edges[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func scanEvaluation(rows *sql.Rows) (types.EvaluationResult, error) {
	var ev types.EvaluationResult
	var user, metric, verdict string
	var baseline, intervention, reasons string
	var bStart, bEnd, wStart, wEnd, created string
	err := rows.Scan(&ev.ID, &user, &ev.ExperimentID, &metric,
		&baseline, &intervention, &ev.Delta, &ev.PercentChange,
		&ev.EffectSizeD, &ev.AdherenceRate, &ev.ConfidenceScore, &verdict,
		&reasons, &ev.Summary, &bStart, &bEnd, &wStart, &wEnd, &created)
	if err != nil {
		return ev, fmt.Errorf("scan evaluation: %w", err)
	}
	ev.User = types.UserID(user)
	ev.MetricKey = types.MetricKey(metric)
	ev.Verdict = types.Verdict(verdict)
	ev.Baseline = decodeJSON[types.WindowStats](baseline)
	ev.Intervention = decodeJSON[types.WindowStats](intervention)
	ev.Reasons = decodeJSON[[]string](reasons)
	ev.BaselineStart = decodeTime(bStart)
	ev.BaselineEnd = decodeTime(bEnd)
	ev.WindowStart = decodeTime(wStart)
	ev.WindowEnd = decodeTime(wEnd)
	ev.CreatedAt = decodeTime(created)
	return ev, nil
}

const evaluationColumns = `id, user_id, experiment_id, metric_key,
	baseline_stats, intervention_stats, delta, percent_change,
	effect_size_d, adherence_rate, confidence_score, verdict,
	reasons, summary, baseline_start, baseline_end,
	window_start, window_end, created_at`

// EvaluationsBetween returns a user's evaluations created in [from, to).
func (s *Store) EvaluationsBetween(ctx context.Context, user types.UserID, from, to time.Time) ([]types.EvaluationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evaluationColumns+` FROM evaluation_results
		WHERE user_id = ? AND created_at >= ? AND created_at < ?
		ORDER BY created_at ASC`,
		string(user), encodeTime(from), encodeTime(to))
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var out []types.EvaluationResult
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// EvaluationsForExperiment returns an experiment's evaluations.
func (s *Store) EvaluationsForExperiment(ctx context.Context, experimentID int64) ([]types.EvaluationResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+evaluationColumns+` FROM evaluation_results
		WHERE experiment_id = ? ORDER BY created_at ASC`, experimentID)
	if err != nil {
		return nil, fmt.Errorf("query experiment evaluations: %w", err)
	}
	defer rows.Close()

	var out []types.EvaluationResult
	for rows.Next() {
		ev, err := scanEvaluation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}
