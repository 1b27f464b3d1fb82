package secrets

import (
	"time"

	"go.uber.org/zap"
)

// AuditOp identifies the kind of secret-store operation being recorded.
type AuditOp string

const (
	AuditGet         AuditOp = "get_key"
	AuditGetFallback AuditOp = "get_key_fallback"
	AuditPut         AuditOp = "put_key"
	AuditRemove      AuditOp = "remove_key"
	AuditList        AuditOp = "list_keys"
)

// AuditRecord is the structured trail spec.md §4.A requires for every
// secret-store operation. Secret values never appear here — only the
// network name and whether the operation succeeded.
type AuditRecord struct {
	Operation AuditOp
	Network   string
	Success   bool
	Timestamp time.Time
	Backend   string
}

// Auditor emits AuditRecords via a structured logger, grounded on the
// zap-based event logging in the upstream web3 backend's
// internal/security/audit.go.
type Auditor struct {
	logger *zap.Logger
}

// NewAuditor wraps a zap.Logger for audit emission.
func NewAuditor(logger *zap.Logger) *Auditor {
	return &Auditor{logger: logger}
}

// Record emits one audit record.
func (a *Auditor) Record(r AuditRecord) {
	fields := []zap.Field{
		zap.String("operation", string(r.Operation)),
		zap.String("network", r.Network),
		zap.Bool("success", r.Success),
		zap.Time("timestamp", r.Timestamp),
		zap.String("backend", r.Backend),
	}
	if r.Success {
		a.logger.Info("secret store operation", fields...)
	} else {
		a.logger.Warn("secret store operation failed", fields...)
	}
}
