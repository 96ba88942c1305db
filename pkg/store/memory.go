package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reportstack/report-manager/pkg/report"
)

// Memory is an in-memory RequestStore and DeadLetterStore for testing.
type Memory struct {
	mu          sync.Mutex
	requests    map[string]report.Request
	deadLetters []DeadLetterRecord
}

func NewMemory() *Memory {
	return &Memory{requests: make(map[string]report.Request)}
}

func (m *Memory) Create(ctx context.Context, rec *report.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[rec.RequestID]; ok {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.RequestID)
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	m.requests[rec.RequestID] = *rec
	return nil
}

func (m *Memory) Get(ctx context.Context, requestID string) (*report.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.requests[requestID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, requestID)
	}
	out := rec
	return &out, nil
}

func (m *Memory) Update(ctx context.Context, rec *report.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[rec.RequestID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, rec.RequestID)
	}
	rec.UpdatedAt = time.Now().UTC()
	m.requests[rec.RequestID] = *rec
	return nil
}

func (m *Memory) TransitionIfStatus(ctx context.Context, requestID string, to report.Status, from ...report.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.requests[requestID]
	if !ok {
		return false, nil
	}
	for _, s := range from {
		if rec.Status == s {
			rec.Status = to
			rec.UpdatedAt = time.Now().UTC()
			m.requests[requestID] = rec
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) SaveDeadLetter(ctx context.Context, rec *DeadLetterRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.deadLetters) + 1)
	m.deadLetters = append(m.deadLetters, *rec)
	return nil
}

// DeadLetters returns a snapshot of the recorded dead letters.
func (m *Memory) DeadLetters() []DeadLetterRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeadLetterRecord, len(m.deadLetters))
	copy(out, m.deadLetters)
	return out
}

var (
	_ RequestStore    = (*Memory)(nil)
	_ DeadLetterStore = (*Memory)(nil)
)
