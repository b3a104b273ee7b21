package stores

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/openfroyo/mgmtcore/pkg/engine"
	"github.com/openfroyo/mgmtcore/pkg/model"
	"github.com/openfroyo/mgmtcore/pkg/notify"
)

// ResourceRow is a persisted resource.
type ResourceRow struct {
	Address   string         `json:"address"`
	Depth     int            `json:"depth"`
	Model     map[string]any `json:"model"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// NotificationRecord is a journaled notification.
type NotificationRecord struct {
	ID        int64  `json:"id"`
	Resource  string `json:"resource"`
	Type      string `json:"type"`
	Message   string `json:"message"`
	Data      string `json:"data"` // JSON blob
	Timestamp int64  `json:"timestamp"`
}

// Notification decodes the record back into a notification.
func (r *NotificationRecord) Notification() (*notify.Notification, error) {
	addr, err := model.ParseAddress(r.Resource)
	if err != nil {
		return nil, fmt.Errorf("invalid resource address: %w", err)
	}
	var data any
	if r.Data != "" {
		if data, err = decodeValue([]byte(r.Data)); err != nil {
			return nil, fmt.Errorf("invalid notification data: %w", err)
		}
	}
	return &notify.Notification{
		Resource:  addr,
		Type:      r.Type,
		Message:   r.Message,
		Timestamp: r.Timestamp,
		Data:      data,
	}, nil
}

// NotificationFilter selects journaled notifications. Zero fields match
// everything.
type NotificationFilter struct {
	// Resource selects notifications emitted by this address or below it.
	Resource string

	// Type selects one notification type.
	Type string

	// AfterID returns records with a greater ID, for tailing.
	AfterID int64

	// Limit bounds the result; 0 means 100.
	Limit int
}

// AuditEntry is an audit trail entry for a submitted operation.
type AuditEntry struct {
	ID             int64         `json:"id"`
	OperationID    string        `json:"operation_id"`
	Operation      string        `json:"operation"`
	Address        string        `json:"address"`
	Outcome        string        `json:"outcome"`
	Failure        *string       `json:"failure,omitempty"`
	ReloadRequired bool          `json:"reload_required"`
	Principal      *string       `json:"principal,omitempty"`
	Duration       time.Duration `json:"duration"`
	Timestamp      time.Time     `json:"timestamp"`
}

// NewAuditEntry builds the audit entry for a submitted operation.
func NewAuditEntry(op model.Operation, res *engine.Result, principal string) *AuditEntry {
	entry := &AuditEntry{
		OperationID:    res.OperationID,
		Operation:      op.Name,
		Address:        op.Address.String(),
		Outcome:        string(res.Outcome),
		ReloadRequired: res.ReloadRequired,
		Duration:       res.Duration,
		Timestamp:      time.Now(),
	}
	if res.FailureDescription != "" {
		failure := res.FailureDescription
		entry.Failure = &failure
	}
	if principal != "" {
		entry.Principal = &principal
	}
	return entry
}

// decodeValue decodes JSON keeping integers as int64 and other numbers as
// float64, the canonical forms of the model.
func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return normalizeNumbers(v), nil
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return n
		}
		f, _ := val.Float64()
		return f
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}
