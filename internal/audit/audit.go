// Package audit records one immutable entry per model invocation attempt,
// keyed by the content hashes of the analyzed files. Recording must never
// block or fail the analysis path: store errors are swallowed and surfaced
// through logs and metrics only.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Marius555/insuranceSaas-sub000/internal/metrics"
	"github.com/Marius555/insuranceSaas-sub000/pkg/types"
)

// Action identifies the analysis operation being audited.
type Action string

const (
	ActionAnalyzeDamage   Action = "analyze_damage"
	ActionAnalyzeDocument Action = "analyze_document"
	ActionVerifyVehicle   Action = "verify_vehicle"
)

// Result is the outcome recorded for one invocation attempt.
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
	ResultFlagged Result = "flagged"
)

// Entry is a single append-only audit record.
type Entry struct {
	ID            string            `json:"id"`
	Timestamp     time.Time         `json:"timestamp"`
	Action        Action            `json:"action"`
	FileHashes    []string          `json:"file_hashes"`
	Result        Result            `json:"result"`
	SecurityFlags []string          `json:"security_flags,omitempty"`
	Model         string            `json:"model,omitempty"`
	TokenUsage    *types.TokenUsage `json:"token_usage,omitempty"`
	RequestID     string            `json:"request_id,omitempty"`
	Error         string            `json:"error,omitempty"`
}

// Store persists audit entries.
type Store interface {
	Append(ctx context.Context, entry *Entry) error
	Recent(ctx context.Context, limit int) ([]*Entry, error)
	Close() error
}

// HashContent returns the content-addressed identifier for a file: the hex
// SHA-256 digest of its bytes.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Logger records entries to a Store without ever propagating failures.
type Logger struct {
	store  Store
	logger *slog.Logger
}

// NewLogger creates an audit logger. A nil store disables recording.
func NewLogger(store Store, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{store: store, logger: logger}
}

// Record fills in the entry's identity fields and appends it. Failures are
// logged and counted, never returned.
func (l *Logger) Record(ctx context.Context, entry *Entry) {
	if l == nil || l.store == nil || entry == nil {
		return
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if err := l.store.Append(ctx, entry); err != nil {
		metrics.AuditStoreErrors.Inc()
		l.logger.Warn("audit record dropped", "action", entry.Action, "error", err)
	}
}
