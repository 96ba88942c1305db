package main

import (
	"context"

	"github.com/reportstack/report-manager/pkg/store"
)

// DeadLetterStore persists exhausted messages for operator inspection.
type DeadLetterStore interface {
	SaveDeadLetter(ctx context.Context, rec *store.DeadLetterRecord) error
}
