// Package store provides durable keyed storage for report requests and
// dead-letter records. The request store owns the request's lifecycle
// state exclusively; the submission path and the consumer are its only
// writers.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/reportstack/report-manager/pkg/report"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("report request not found")
	// ErrAlreadyExists is returned by Create when the id is taken.
	ErrAlreadyExists = errors.New("report request already exists")
)

// RequestStore is the keyed record of a report request's lifecycle.
type RequestStore interface {
	// Create persists a new record, failing with ErrAlreadyExists when the
	// id is taken.
	Create(ctx context.Context, rec *report.Request) error
	// Get returns the record or ErrNotFound.
	Get(ctx context.Context, requestID string) (*report.Request, error)
	// Update overwrites the record and refreshes UpdatedAt.
	Update(ctx context.Context, rec *report.Request) error
	// TransitionIfStatus atomically moves the record to the target status
	// when its current status is one of from. It reports whether the guard
	// matched. This is the consumer's idempotency gate.
	TransitionIfStatus(ctx context.Context, requestID string, to report.Status, from ...report.Status) (bool, error)
}

// DeadLetterRecord is a persisted copy of a message that exhausted its
// delivery budget.
type DeadLetterRecord struct {
	ID            int64
	Subject       string
	RequestID     string
	Reason        string
	Payload       string
	DeliveryCount int
	ReceivedAt    time.Time
}

// DeadLetterStore records exhausted messages for operator inspection.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, rec *DeadLetterRecord) error
}
