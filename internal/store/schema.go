package store

// schemaStatements creates every table and index. Statements are
// idempotent (IF NOT EXISTS) so initialize can run on every startup.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS consent (
		user_id TEXT PRIMARY KEY,
		data_analysis INTEGER NOT NULL DEFAULT 0,
		experimental_recommendations INTEGER NOT NULL DEFAULT 0,
		stop_anytime INTEGER NOT NULL DEFAULT 1,
		provider_scopes TEXT NOT NULL DEFAULT '{}',
		revoked_at TEXT,
		version TEXT NOT NULL DEFAULT ''
	)`,

	`CREATE TABLE IF NOT EXISTS health_data_points (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		metric_key TEXT NOT NULL,
		value REAL NOT NULL,
		unit TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		source TEXT NOT NULL,
		provenance_id TEXT NOT NULL,
		quality_score REAL NOT NULL DEFAULT 0,
		flagged INTEGER NOT NULL DEFAULT 0
	)`,
	`CREATE INDEX IF NOT EXISTS idx_points_user_metric_ts
		ON health_data_points(user_id, metric_key, timestamp)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_points_dedupe
		ON health_data_points(user_id, metric_key, timestamp, source)`,

	`CREATE TABLE IF NOT EXISTS data_provenance (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_type TEXT NOT NULL,
		source_name TEXT NOT NULL,
		source_record_id TEXT NOT NULL DEFAULT '',
		ingestion_run_id TEXT NOT NULL,
		received_at TEXT NOT NULL,
		quality_score REAL NOT NULL DEFAULT 0,
		validation_errors TEXT NOT NULL DEFAULT '[]'
	)`,

	`CREATE TABLE IF NOT EXISTS baselines (
		user_id TEXT NOT NULL,
		metric_key TEXT NOT NULL,
		mean REAL NOT NULL,
		std REAL NOT NULL,
		sample_count INTEGER NOT NULL,
		window_days INTEGER NOT NULL,
		computed_at TEXT NOT NULL,
		frozen INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (user_id, metric_key)
	)`,

	`CREATE TABLE IF NOT EXISTS insights (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		metric_key TEXT NOT NULL DEFAULT '',
		domain_key TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		confidence REAL NOT NULL,
		claim_level INTEGER NOT NULL,
		evidence TEXT NOT NULL DEFAULT '{}',
		generated_at TEXT NOT NULL,
		suppressed INTEGER NOT NULL DEFAULT 0,
		suppression_reason TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_user_generated
		ON insights(user_id, generated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_insights_user_metric
		ON insights(user_id, metric_key, generated_at)`,

	`CREATE TABLE IF NOT EXISTS interventions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		key TEXT NOT NULL,
		name TEXT NOT NULL,
		dosage TEXT NOT NULL DEFAULT '',
		schedule TEXT NOT NULL DEFAULT '',
		risk_level TEXT NOT NULL,
		evidence_grade TEXT NOT NULL,
		boundary TEXT NOT NULL,
		safety_issues TEXT NOT NULL DEFAULT '[]',
		UNIQUE (user_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS experiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		intervention_key TEXT NOT NULL,
		primary_metric TEXT NOT NULL,
		expected_direction TEXT NOT NULL DEFAULT '',
		started_at TEXT NOT NULL,
		ended_at TEXT,
		status TEXT NOT NULL,
		baseline_window_days INTEGER NOT NULL,
		intervention_window_days INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_experiments_user_status
		ON experiments(user_id, status)`,

	`CREATE TABLE IF NOT EXISTS adherence_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		experiment_id INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		taken INTEGER NOT NULL,
		dose TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_adherence_experiment
		ON adherence_events(experiment_id, timestamp)`,

	`CREATE TABLE IF NOT EXISTS evaluation_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		experiment_id INTEGER NOT NULL,
		metric_key TEXT NOT NULL,
		baseline_stats TEXT NOT NULL,
		intervention_stats TEXT NOT NULL,
		delta REAL NOT NULL,
		percent_change REAL NOT NULL,
		effect_size_d REAL NOT NULL,
		adherence_rate REAL NOT NULL,
		confidence_score REAL NOT NULL,
		verdict TEXT NOT NULL,
		reasons TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT '',
		baseline_start TEXT NOT NULL,
		baseline_end TEXT NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_evaluations_user_created
		ON evaluation_results(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS personal_drivers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		driver_key TEXT NOT NULL,
		driver_type TEXT NOT NULL,
		outcome_metric TEXT NOT NULL,
		lag_days INTEGER NOT NULL,
		effect_size REAL NOT NULL,
		direction TEXT NOT NULL,
		variance_explained REAL NOT NULL,
		confidence REAL NOT NULL,
		stability REAL NOT NULL,
		sample_size INTEGER NOT NULL,
		window_start TEXT NOT NULL,
		window_end TEXT NOT NULL,
		label TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS idx_drivers_user
		ON personal_drivers(user_id)`,

	`CREATE TABLE IF NOT EXISTS causal_memory (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		driver_key TEXT NOT NULL,
		metric_key TEXT NOT NULL,
		direction TEXT NOT NULL,
		avg_effect_size REAL NOT NULL,
		confidence REAL NOT NULL,
		evidence_count INTEGER NOT NULL,
		status TEXT NOT NULL,
		first_seen_at TEXT NOT NULL,
		last_confirmed_at TEXT NOT NULL,
		supporting_evaluations TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_causal_user_pair
		ON causal_memory(user_id, driver_key, metric_key)`,

	`CREATE TABLE IF NOT EXISTS narratives (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		period_type TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT NOT NULL,
		key_points TEXT NOT NULL DEFAULT '[]',
		drivers TEXT NOT NULL DEFAULT '[]',
		actions TEXT NOT NULL DEFAULT '[]',
		risks TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		UNIQUE (user_id, period_type, period_start, period_end)
	)`,

	`CREATE TABLE IF NOT EXISTS trust_scores (
		user_id TEXT PRIMARY KEY,
		overall REAL NOT NULL,
		data_coverage REAL NOT NULL,
		adherence REAL NOT NULL,
		evaluation_success REAL NOT NULL,
		stability REAL NOT NULL,
		last_updated_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS job_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		job_id TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT,
		completed_at TEXT,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		result_summary TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_job_runs_key
		ON job_runs(idempotency_key)`,
	`CREATE INDEX IF NOT EXISTS idx_job_runs_job
		ON job_runs(job_id, status)`,

	`CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL DEFAULT '',
		kind TEXT NOT NULL,
		entity_type TEXT NOT NULL DEFAULT '',
		entity_id INTEGER NOT NULL DEFAULT 0,
		detail TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user_created
		ON audit_events(user_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS explanation_edges (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		from_type TEXT NOT NULL,
		from_id INTEGER NOT NULL,
		to_type TEXT NOT NULL,
		to_id TEXT NOT NULL,
		relation TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_edges_from
		ON explanation_edges(from_type, from_id)`,

	`CREATE TABLE IF NOT EXISTS check_ins (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id TEXT NOT NULL,
		date TEXT NOT NULL,
		mood REAL NOT NULL DEFAULT 0,
		energy REAL NOT NULL DEFAULT 0,
		stress REAL NOT NULL DEFAULT 0,
		tags TEXT NOT NULL DEFAULT '[]',
		note TEXT NOT NULL DEFAULT '',
		UNIQUE (user_id, date)
	)`,

	`CREATE TABLE IF NOT EXISTS provider_tokens (
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		access_token_encrypted BLOB NOT NULL,
		refresh_token_encrypted BLOB,
		token_type TEXT NOT NULL DEFAULT '',
		scope TEXT NOT NULL DEFAULT '',
		expires_at TEXT,
		PRIMARY KEY (user_id, provider)
	)`,

	`CREATE TABLE IF NOT EXISTS oauth_states (
		state TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`,
}
