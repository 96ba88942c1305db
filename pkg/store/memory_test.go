package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportstack/report-manager/pkg/report"
)

func seedRequest(t *testing.T, m *Memory, status report.Status) *report.Request {
	t.Helper()
	rec := &report.Request{
		RequestID:   "req-1",
		ReportType:  report.TypePerformance,
		Status:      status,
		RequestedBy: "analyst",
		Parameters:  `{"portfolioId":"p-9"}`,
	}
	require.NoError(t, m.Create(context.Background(), rec))
	return rec
}

func TestMemoryCreate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := seedRequest(t, m, report.StatusSubmitted)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, rec.CreatedAt, rec.UpdatedAt)

	err := m.Create(ctx, &report.Request{RequestID: rec.RequestID})
	require.ErrorIs(t, err, ErrAlreadyExists)
}

func TestMemoryGet(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	_, err := m.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	seeded := seedRequest(t, m, report.StatusSubmitted)
	got, err := m.Get(ctx, seeded.RequestID)
	require.NoError(t, err)
	assert.Equal(t, seeded.RequestID, got.RequestID)
	assert.Equal(t, report.StatusSubmitted, got.Status)

	// Returned record is a copy, not a view into the store.
	got.Status = report.StatusFailed
	again, err := m.Get(ctx, seeded.RequestID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSubmitted, again.Status)
}

func TestMemoryUpdate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	err := m.Update(ctx, &report.Request{RequestID: "missing"})
	require.ErrorIs(t, err, ErrNotFound)

	rec := seedRequest(t, m, report.StatusInProgress)
	created := rec.UpdatedAt
	time.Sleep(time.Millisecond)

	rec.Status = report.StatusCompleted
	rec.ArchiveRef = "arch-1"
	require.NoError(t, m.Update(ctx, rec))
	assert.True(t, rec.UpdatedAt.After(created))

	got, err := m.Get(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, got.Status)
	assert.Equal(t, "arch-1", got.ArchiveRef)
}

func TestMemoryTransitionIfStatus(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	rec := seedRequest(t, m, report.StatusSubmitted)

	ok, err := m.TransitionIfStatus(ctx, "missing", report.StatusInProgress, report.StatusSubmitted)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = m.TransitionIfStatus(ctx, rec.RequestID, report.StatusInProgress,
		report.StatusSubmitted, report.StatusFailed)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.Get(ctx, rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusInProgress, got.Status)

	// Guard no longer matches, so the second claim loses.
	ok, err = m.TransitionIfStatus(ctx, rec.RequestID, report.StatusInProgress,
		report.StatusSubmitted, report.StatusFailed)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemorySaveDeadLetter(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	first := &DeadLetterRecord{Subject: "reports.requested.req-1", Reason: "boom"}
	require.NoError(t, m.SaveDeadLetter(ctx, first))
	assert.Equal(t, int64(1), first.ID)

	second := &DeadLetterRecord{Subject: "reports.requested.req-2", Reason: "boom again"}
	require.NoError(t, m.SaveDeadLetter(ctx, second))
	assert.Equal(t, int64(2), second.ID)

	stored := m.DeadLetters()
	require.Len(t, stored, 2)
	assert.Equal(t, "reports.requested.req-1", stored[0].Subject)
}
