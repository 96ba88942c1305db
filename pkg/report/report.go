// Package report holds the domain model shared by the API server, the
// worker and the dead-letter service: the report request entity, its
// lifecycle states and the wire-level work item.
package report

import (
	"fmt"
	"strings"
	"time"
)

// Type is the closed enumeration of report kinds the system can produce.
type Type string

const (
	TypePerformance        Type = "PERFORMANCE"
	TypeBenchmarkSummary   Type = "BENCHMARK_SUMMARY"
	TypeDiversificationBar Type = "DIVERSIFICATION_BAR"
	TypeAssetAllocation    Type = "ASSET_ALLOCATION"
)

// Types returns every report type in declaration order.
func Types() []Type {
	return []Type{
		TypePerformance,
		TypeBenchmarkSummary,
		TypeDiversificationBar,
		TypeAssetAllocation,
	}
}

// ParseType maps an enum-as-string value to a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range Types() {
		if t == known {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown report type %q", s)
}

// Status is a report request's lifecycle state.
type Status string

const (
	StatusSubmitted  Status = "SUBMITTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Request is the sole persistent entity. The request store owns it; the
// submission path and the consumer are its only writers.
type Request struct {
	RequestID    string
	ReportType   Type
	Status       Status
	RequestedBy  string
	Parameters   string // opaque JSON document, passed through unmodified
	ArchiveRef   string // set exactly once, on the COMPLETED transition
	ErrorMessage string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// RequestedEvent is the work item published to the queue. It is a
// denormalized snapshot of the request at submission time; the persisted
// record, not the event, is the source of truth for status.
type RequestedEvent struct {
	RequestID   string `json:"request_id"`
	ReportType  Type   `json:"report_type"`
	RequestedBy string `json:"requested_by"`
	Parameters  string `json:"parameters"`
	RequestedAt string `json:"requested_at"`
}

// Validate checks the fields the consumer depends on.
func (e RequestedEvent) Validate() error {
	if strings.TrimSpace(e.RequestID) == "" {
		return fmt.Errorf("missing request_id")
	}
	if _, err := ParseType(string(e.ReportType)); err != nil {
		return err
	}
	return nil
}

// Now returns the current UTC time in the wire timestamp format.
func Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
