// Package logging: audit trail. Audit events are append-only JSONL records
// of governance decisions (gate denials, safety blocks, policy
// sanitizations, loop commits). They complement the store-backed audit
// tables: the file trail survives even when a transaction rolls back.
package logging

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// AuditEventType labels a governance decision.
type AuditEventType string

const (
	// Loop lifecycle
	AuditLoopStart    AuditEventType = "loop_start"
	AuditLoopCommit   AuditEventType = "loop_commit"
	AuditLoopError    AuditEventType = "loop_error"
	AuditLoopSafety   AuditEventType = "loop_safety_override"
	AuditLoopSuppress AuditEventType = "loop_suppress"

	// Consent gate
	AuditConsentAllow AuditEventType = "consent_allow"
	AuditConsentDeny  AuditEventType = "consent_deny"

	// Claim policy
	AuditPolicySanitized AuditEventType = "policy_sanitized"
	AuditPolicyDowngrade AuditEventType = "policy_downgrade"

	// Intervention safety
	AuditSafetyBlock AuditEventType = "safety_block"

	// Scheduler
	AuditJobSkipped   AuditEventType = "job_skipped"
	AuditJobCompleted AuditEventType = "job_completed"
	AuditJobFailed    AuditEventType = "job_failed"

	// Ingestion
	AuditBatchAccepted AuditEventType = "batch_accepted"
	AuditBatchRejected AuditEventType = "batch_rejected"
)

// AuditRecord is one JSONL audit line.
type AuditRecord struct {
	Timestamp  int64          `json:"ts"` // Unix milliseconds
	EventType  AuditEventType `json:"event"`
	User       string         `json:"user,omitempty"`
	RunID      string         `json:"run,omitempty"`
	Target     string         `json:"target,omitempty"` // metric, job id, experiment id
	Reason     string         `json:"reason,omitempty"`
	Success    bool           `json:"success"`
	DurationMs int64          `json:"dur_ms,omitempty"`
	Message    string         `json:"msg,omitempty"`
}

var (
	auditFile *os.File
	auditMu   sync.Mutex
)

// InitAudit opens the audit trail file. No-op when debug mode is off.
func InitAudit() error {
	if !IsDebugMode() {
		return nil
	}

	auditMu.Lock()
	defer auditMu.Unlock()

	if auditFile != nil {
		return nil
	}

	date := time.Now().UTC().Format("2006-01-02")
	auditPath := filepath.Join(logsDir, fmt.Sprintf("%s_audit.jsonl", date))

	file, err := os.OpenFile(auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	auditFile = file
	return nil
}

// CloseAudit closes the audit trail file.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile != nil {
		auditFile.Close()
		auditFile = nil
	}
}

// Emit writes one audit record. Safe to call when audit is uninitialized.
func Emit(rec AuditRecord) {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditFile == nil {
		return
	}
	if rec.Timestamp == 0 {
		rec.Timestamp = time.Now().UnixMilli()
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	auditFile.Write(append(data, '\n'))
}

// EmitEvent is shorthand for the common (event, user, target, reason) case.
func EmitEvent(event AuditEventType, user, target, reason string, success bool) {
	Emit(AuditRecord{
		EventType: event,
		User:      user,
		Target:    target,
		Reason:    reason,
		Success:   success,
	})
}
