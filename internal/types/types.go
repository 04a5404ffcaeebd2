// Package types defines the shared domain model for vitalis.
// Everything that crosses a package boundary (points, baselines, insights,
// evaluations, drivers, narratives) lives here so that the analytical
// packages stay free of import cycles.
package types

import "time"

// UserID is an opaque identifier. The core carries no PHI.
type UserID string

// MetricKey names a registered metric (e.g. "sleep_duration").
type MetricKey string

// Direction describes which way a metric is "good".
type Direction string

const (
	HigherBetter Direction = "higher_better"
	LowerBetter  Direction = "lower_better"
	OptimalRange Direction = "optimal_range"
)

// Aggregation describes how same-day points collapse into a daily value.
type Aggregation string

const (
	AggregateMean Aggregation = "mean"
	AggregateSum  Aggregation = "sum"
)

// MetricSpec is the canonical, immutable definition of a metric.
// Values outside [ValidMin, ValidMax] are rejected at ingestion.
type MetricSpec struct {
	Key             MetricKey
	Domain          string
	Unit            string
	ValidMin        float64
	ValidMax        float64
	Direction       Direction
	OptimalMin      float64 // only meaningful when Direction == OptimalRange
	OptimalMax      float64
	Aggregation     Aggregation
	ExpectedCadence time.Duration
}

// NormalizedPoint is the adapter contract: what a provider adapter must
// produce before the ingestion service will look at it.
type NormalizedPoint struct {
	User      UserID
	MetricKey MetricKey
	Value     float64
	Unit      string
	Timestamp time.Time // UTC
	Source    string
	Metadata  map[string]string
}

// HealthDataPoint is a persisted, validated observation. Immutable once
// written.
type HealthDataPoint struct {
	ID           int64
	User         UserID
	MetricKey    MetricKey
	Value        float64
	Unit         string
	Timestamp    time.Time
	Source       string
	ProvenanceID string
	QualityScore float64
	Flagged      bool
}

// DataProvenance is created once per ingestion batch and enables traceback
// from any point to the batch that produced it.
type DataProvenance struct {
	ID               string
	User             UserID
	SourceType       string
	SourceName       string
	SourceRecordID   string
	IngestionRunID   string
	ReceivedAt       time.Time
	QualityScore     float64
	ValidationErrors []string
}

// Consent is the latest per-user consent record. Provider scopes are
// decoupled from analysis consent: a user may sync without opting into
// processing.
type Consent struct {
	User                        UserID
	DataAnalysis                bool
	ExperimentalRecommendations bool
	StopAnytime                 bool
	ProviderScopes              map[string]bool
	RevokedAt                   *time.Time
	Version                     string
}

// Baseline is the per-(user, metric) rolling summary. Absence is a
// first-class state, not an error.
type Baseline struct {
	User        UserID
	MetricKey   MetricKey
	Mean        float64
	Std         float64
	SampleCount int
	WindowDays  int
	ComputedAt  time.Time
	Frozen      bool
}

// InsightType enumerates the kinds of surfaced insights.
type InsightType string

const (
	InsightChange           InsightType = "change"
	InsightTrend            InsightType = "trend"
	InsightInstability      InsightType = "instability"
	InsightSafety           InsightType = "safety"
	InsightInsufficientData InsightType = "insufficient_data"
	InsightAttribution      InsightType = "attribution"
)

// Insight is a governed, surfaced finding. Language must pass claim-policy
// validation at its claim level before persistence; Evidence holds only
// numerics so it can never drive control flow through free-form data.
type Insight struct {
	ID                int64
	User              UserID
	Type              InsightType
	MetricKey         MetricKey
	DomainKey         string
	Title             string
	Description       string
	Confidence        float64 // [0,1]
	ClaimLevel        int     // 1..5, derived from Confidence
	Evidence          map[string]float64
	GeneratedAt       time.Time
	Suppressed        bool
	SuppressionReason string
}

// RiskLevel grades an intervention's safety risk.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskModerate RiskLevel = "moderate"
	RiskHigh     RiskLevel = "high"
)

// Boundary classifies how far an intervention may be acted on.
type Boundary string

const (
	BoundaryInformational Boundary = "informational"
	BoundaryLifestyle     Boundary = "lifestyle"
	BoundaryExperiment    Boundary = "experiment"
)

// SafetyIssue is a single named concern attached to a safety decision.
type SafetyIssue struct {
	Code    string
	Message string
}

// SafetyDecision is computed at intervention creation. High-risk
// interventions are hard-blocked.
type SafetyDecision struct {
	RiskLevel     RiskLevel
	EvidenceGrade string // A..D
	Boundary      Boundary
	Issues        []SafetyIssue
}

// Intervention is a user-initiated protocol under evaluation.
type Intervention struct {
	ID       int64
	User     UserID
	Key      string
	Name     string
	Dosage   string
	Schedule string
	Safety   SafetyDecision
}

// ExperimentStatus is the lifecycle of an experiment.
type ExperimentStatus string

const (
	ExperimentActive    ExperimentStatus = "active"
	ExperimentStopped   ExperimentStatus = "stopped"
	ExperimentCompleted ExperimentStatus = "completed"
)

// Experiment is a quasi-experimental window pair around an intervention
// start.
type Experiment struct {
	ID                     int64
	User                   UserID
	InterventionKey        string
	PrimaryMetric          MetricKey
	ExpectedDirection      string // "positive", "negative", or "" (derive from spec)
	StartedAt              time.Time
	EndedAt                *time.Time
	Status                 ExperimentStatus
	BaselineWindowDays     int
	InterventionWindowDays int
}

// AdherenceEvent records whether a scheduled intervention dose was taken.
type AdherenceEvent struct {
	ID           int64
	User         UserID
	ExperimentID int64
	Timestamp    time.Time
	Taken        bool
	Dose         string
}

// WindowStats summarizes one evaluation window.
type WindowStats struct {
	Mean     float64
	Std      float64
	N        int
	Coverage float64
	CILow    float64
	CIHigh   float64
}

// Verdict is the outcome of an evaluation.
type Verdict string

const (
	VerdictHelpful          Verdict = "helpful"
	VerdictNotHelpful       Verdict = "not_helpful"
	VerdictUnclear          Verdict = "unclear"
	VerdictInsufficientData Verdict = "insufficient_data"
)

// EvaluationResult is a baseline/intervention window comparison.
// Invariant: VerdictHelpful requires AdherenceRate > 0 and
// ConfidenceScore >= 0.5.
type EvaluationResult struct {
	ID              int64
	User            UserID
	ExperimentID    int64
	MetricKey       MetricKey
	Baseline        WindowStats
	Intervention    WindowStats
	Delta           float64
	PercentChange   float64
	EffectSizeD     float64
	AdherenceRate   float64
	ConfidenceScore float64
	Verdict         Verdict
	Reasons         []string
	Summary         string
	BaselineStart   time.Time
	BaselineEnd     time.Time
	WindowStart     time.Time
	WindowEnd       time.Time
	CreatedAt       time.Time
}

// EffectDirection classifies a driver's influence on an outcome.
type EffectDirection string

const (
	DirectionPositive EffectDirection = "positive"
	DirectionNegative EffectDirection = "negative"
	DirectionNeutral  EffectDirection = "neutral"
	DirectionMixed    EffectDirection = "mixed"
)

// DriverFinding is one attributed (driver, outcome, lag) association.
// The attribution engine replaces the whole per-user set on recompute.
type DriverFinding struct {
	ID                int64
	User              UserID
	DriverKey         string
	DriverType        string // "behavior" or "intervention"
	OutcomeMetric     MetricKey
	LagDays           int
	EffectSize        float64
	Direction         EffectDirection
	VarianceExplained float64
	Confidence        float64
	Stability         float64
	SampleSize        int
	WindowStart       time.Time
	WindowEnd         time.Time
	Label             string
}

// MemoryStatus is the causal-memory state machine state.
type MemoryStatus string

const (
	MemoryTentative  MemoryStatus = "tentative"
	MemoryConfirmed  MemoryStatus = "confirmed"
	MemoryDeprecated MemoryStatus = "deprecated"
)

// CausalMemory accumulates evidence for a (driver, metric) pair across
// evaluations. Deprecated rows remain for audit but never drive narratives.
type CausalMemory struct {
	ID                    int64
	User                  UserID
	DriverKey             string
	MetricKey             MetricKey
	Direction             EffectDirection
	AvgEffectSize         float64
	Confidence            float64
	EvidenceCount         int
	Status                MemoryStatus
	FirstSeenAt           time.Time
	LastConfirmedAt       time.Time
	SupportingEvaluations []int64
}

// KeyPoint is one bullet in a narrative.
type KeyPoint struct {
	Text      string
	MetricKey MetricKey
	DomainKey string
}

// NarrativeAction is a surfaced recommendation, gated by claim level.
type NarrativeAction struct {
	Action     string
	Rationale  string
	MetricKey  MetricKey
	ClaimLevel int
}

// NarrativeRisk is a surfaced risk with severity.
type NarrativeRisk struct {
	Text     string
	Severity string // high, moderate, low
}

// DomainStatus is the conservative per-domain classifier output.
type DomainStatus string

const (
	DomainNoData           DomainStatus = "NO_DATA"
	DomainBaselineBuilding DomainStatus = "BASELINE_BUILDING"
	DomainNoSignal         DomainStatus = "NO_SIGNAL_DETECTED"
	DomainSignal           DomainStatus = "SIGNAL_DETECTED"
)

// NarrativeMetadata is attach-only context; it never drives control flow.
type NarrativeMetadata struct {
	DomainStatuses  map[string]DomainStatus
	CheckinCoverage float64
	InsightCount    int
	EvaluationCount int
	DriverCount     int
}

// Narrative is a deterministically assembled, governed period summary.
// Upsert key: (User, PeriodType, PeriodStart, PeriodEnd).
type Narrative struct {
	ID          int64
	User        UserID
	PeriodType  string // daily, weekly
	PeriodStart time.Time
	PeriodEnd   time.Time
	Title       string
	Summary     string
	KeyPoints   []KeyPoint
	Drivers     []string
	Actions     []NarrativeAction
	Risks       []NarrativeRisk
	Metadata    NarrativeMetadata
	CreatedAt   time.Time
}

// TrustComponents are the weekly rollup inputs, each in [0,100].
type TrustComponents struct {
	DataCoverage      float64
	Adherence         float64
	EvaluationSuccess float64
	Stability         float64
}

// TrustScore is the weekly per-user rollup.
type TrustScore struct {
	User          UserID
	Overall       float64 // [0,100]
	Components    TrustComponents
	LastUpdatedAt time.Time
}

// JobStatus is the scheduler run-record lifecycle.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobSkipped   JobStatus = "skipped"
)

// JobRun is one scheduled execution, guarded by an idempotency key.
type JobRun struct {
	ID             int64
	JobID          string
	IdempotencyKey string
	Status         JobStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
	DurationMs     int64
	ResultSummary  string
	Error          string
}

// AuditEvent is an append-only decision record.
type AuditEvent struct {
	ID         int64
	User       UserID
	Kind       string // loop_run, evaluation, narrative, consent_denied, safety_block, policy_sanitized
	EntityType string
	EntityID   int64
	Detail     map[string]any
	CreatedAt  time.Time
}

// ExplanationEdge links a produced entity back to its sources so outputs
// can be traced without recomputation.
type ExplanationEdge struct {
	ID        int64
	User      UserID
	FromType  string
	FromID    int64
	ToType    string
	ToID      string
	Relation  string // derived_from, window, detector, threshold, safety_check
	Detail    map[string]any
	CreatedAt time.Time
}

// CheckIn is a daily self-report feeding attribution and the
// conflicting-signals control.
type CheckIn struct {
	ID     int64
	User   UserID
	Date   time.Time // midnight UTC
	Mood   float64   // 1..10
	Energy float64   // 1..10
	Stress float64   // 1..10
	Tags   []string
	Note   string
}

// ProviderToken stores encrypted OAuth material for a provider.
type ProviderToken struct {
	User                  UserID
	Provider              string
	AccessTokenEncrypted  []byte
	RefreshTokenEncrypted []byte
	TokenType             string
	Scope                 string
	ExpiresAt             *time.Time
}
