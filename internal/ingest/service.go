// Package ingest implements all-or-nothing batch insertion with unit
// conversion, quality scoring, hard-stop gates, and per-batch provenance.
package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"vitalis/internal/consent"
	"vitalis/internal/logging"
	"vitalis/internal/metrics"
	"vitalis/internal/quality"
	"vitalis/internal/store"
	"vitalis/internal/types"
)

// Result summarizes one ingestion batch.
type Result struct {
	Inserted int
	Rejected int
	Errors   []string
	RunID    string
	Quality  quality.Score
}

// Service validates and persists normalized points.
type Service struct {
	store    *store.Store
	registry *metrics.Registry
	scorer   *quality.Scorer
	gate     *consent.Gate
	maxBatch int
}

// NewService constructs the ingestion service.
func NewService(s *store.Store, reg *metrics.Registry, gate *consent.Gate, maxBatch int) *Service {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Service{
		store:    s,
		registry: reg,
		scorer:   quality.NewScorer(reg),
		gate:     gate,
		maxBatch: maxBatch,
	}
}

// Ingest validates a batch and persists it atomically. Rejected points
// are reported per index; persistence failure after validation writes
// nothing. Provider consent must cover the source; analysis consent is
// not required to ingest.
func (s *Service) Ingest(ctx context.Context, user types.UserID, source string, batch []types.NormalizedPoint) (*Result, error) {
	log := logging.Get(logging.CategoryIngest)

	if len(batch) == 0 {
		return &Result{RunID: uuid.NewString()}, nil
	}
	if len(batch) > s.maxBatch {
		return nil, fmt.Errorf("ingest: batch of %d exceeds cap %d", len(batch), s.maxBatch)
	}
	if err := s.gate.CheckProvider(ctx, user, source); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	receivedAt := time.Now().UTC()

	// Convert units first so scoring and gating see canonical values.
	converted := make([]types.NormalizedPoint, 0, len(batch))
	res := &Result{RunID: runID}
	convertFailed := make(map[int]bool)
	for i, p := range batch {
		spec, ok := s.registry.Spec(p.MetricKey)
		if !ok {
			// Let the gate report unknown_metric uniformly.
			converted = append(converted, p)
			continue
		}
		v, unit, err := ConvertUnit(p.Value, p.Unit, spec)
		if err != nil {
			convertFailed[i] = true
			converted = append(converted, p)
			res.Errors = append(res.Errors, fmt.Sprintf("point %d: %v", i, err))
			continue
		}
		p.Value, p.Unit = v, unit
		converted = append(converted, p)
	}

	score := s.scorer.ScoreBatch(converted, receivedAt)
	flagged := score.Flagged()

	seen := make(map[string]bool, len(converted))
	staged := make([]types.HealthDataPoint, 0, len(converted))
	var validationErrors []string
	for i, p := range converted {
		if convertFailed[i] {
			res.Rejected++
			continue
		}
		if rej := s.scorer.Gate(i, p, seen); rej != nil {
			res.Rejected++
			res.Errors = append(res.Errors, rej.Error())
			validationErrors = append(validationErrors, string(rej.Reason))
			continue
		}
		staged = append(staged, types.HealthDataPoint{
			User:         user,
			MetricKey:    p.MetricKey,
			Value:        p.Value,
			Unit:         p.Unit,
			Timestamp:    p.Timestamp.UTC(),
			Source:       p.Source,
			ProvenanceID: runID,
			QualityScore: score.Overall,
			Flagged:      flagged,
		})
	}

	if len(staged) > 0 {
		prov := types.DataProvenance{
			ID:               runID,
			User:             user,
			SourceType:       source,
			SourceName:       source,
			IngestionRunID:   runID,
			ReceivedAt:       receivedAt,
			QualityScore:     score.Overall,
			ValidationErrors: validationErrors,
		}
		if err := s.store.InsertBatch(ctx, prov, staged); err != nil {
			logging.EmitEvent(logging.AuditBatchRejected, string(user), runID, "persistence_failure", false)
			return nil, fmt.Errorf("ingest: persist batch: %w", err)
		}
		res.Inserted = len(staged)
	}

	log.Info("batch user=%s source=%s inserted=%d rejected=%d quality=%.2f run=%s",
		user, source, res.Inserted, res.Rejected, score.Overall, runID)
	logging.EmitEvent(logging.AuditBatchAccepted, string(user), runID,
		fmt.Sprintf("inserted=%d rejected=%d", res.Inserted, res.Rejected), true)
	res.Quality = score
	return res, nil
}
