package main

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/report"
	"github.com/reportstack/report-manager/pkg/store"
)

// recordingStore captures the status each Get observes, in call order.
type recordingStore struct {
	*store.Memory
	seen []report.Status
}

func (r *recordingStore) Get(ctx context.Context, requestID string) (*report.Request, error) {
	rec, err := r.Memory.Get(ctx, requestID)
	if err == nil {
		r.seen = append(r.seen, rec.Status)
	}
	return rec, err
}

func newLoopService(t *testing.T, archiver Archiver) (*Service, *recordingStore) {
	t.Helper()
	rs := &recordingStore{Memory: store.NewMemory()}
	registry, err := NewStrategyRegistry(archiver)
	require.NoError(t, err)
	return NewService(rs, registry, &fakePublisher{}), rs
}

func seedLoopRequest(t *testing.T, mem *store.Memory, requestID string) {
	t.Helper()
	require.NoError(t, mem.Create(context.Background(), &report.Request{
		RequestID:   requestID,
		ReportType:  report.TypePerformance,
		Status:      report.StatusSubmitted,
		RequestedBy: "analyst",
		Parameters:  `{}`,
	}))
}

func TestProcessLoopPreservesFetchOrder(t *testing.T) {
	var order []string
	archiver := &fakeArchiver{fn: func(ctx context.Context, requestID string, payload []byte) (string, error) {
		order = append(order, requestID)
		return "arch-" + requestID, nil
	}}
	svc, rs := newLoopService(t, archiver)
	seedLoopRequest(t, rs.Memory, "req-1")
	seedLoopRequest(t, rs.Memory, "req-2")

	first := workItem(t, "req-1", 1)
	second := workItem(t, "req-2", 1)

	jobs := make(chan Message, 2)
	jobs <- first
	jobs <- second
	close(jobs)
	processLoop(context.Background(), svc, jobs, 1)

	assert.Equal(t, []string{"req-1", "req-2"}, order)
	assert.True(t, first.acked)
	assert.True(t, second.acked)
}

func TestProcessLoopOrdersSameKeyEffects(t *testing.T) {
	archiver := &fakeArchiver{}
	svc, rs := newLoopService(t, archiver)
	seedLoopRequest(t, rs.Memory, "req-1")

	first := workItem(t, "req-1", 1)
	second := workItem(t, "req-1", 2)

	jobs := make(chan Message, 2)
	jobs <- first
	jobs <- second
	close(jobs)
	processLoop(context.Background(), svc, jobs, 1)

	// The second work item only starts after the first one's terminal
	// transition is durable: its record load already observes COMPLETED,
	// and the gate drops it without another generation.
	require.Equal(t, []report.Status{report.StatusSubmitted, report.StatusCompleted}, rs.seen)
	assert.Equal(t, 1, archiver.calls)
	assert.True(t, first.acked)
	assert.True(t, second.acked)

	rec, err := rs.Memory.Get(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, report.StatusCompleted, rec.Status)
	assert.Equal(t, "arch-req-1", rec.ArchiveRef)
}

func TestProcessLoopDrainsQueuedMessagesAfterCancel(t *testing.T) {
	archiver := &fakeArchiver{}
	svc, rs := newLoopService(t, archiver)
	seedLoopRequest(t, rs.Memory, "req-1")
	seedLoopRequest(t, rs.Memory, "req-2")

	first := workItem(t, "req-1", 1)
	second := workItem(t, "req-2", 1)

	jobs := make(chan Message, 2)
	jobs <- first
	jobs <- second
	close(jobs)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	processLoop(ctx, svc, jobs, 1)

	// Shutdown stops fetching, not processing: everything already
	// dispatched still completes.
	assert.True(t, first.acked)
	assert.True(t, second.acked)
	assert.Equal(t, 2, archiver.calls)
}

type fakeFetcher struct {
	batches [][]*nats.Msg
	cancel  context.CancelFunc
	calls   int
}

func (f *fakeFetcher) Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error) {
	f.calls++
	if f.calls <= len(f.batches) {
		return f.batches[f.calls-1], nil
	}
	f.cancel()
	return nil, nats.ErrTimeout
}

func TestDispatchLoopForwardsInOrderAndCloses(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	msgs := []*nats.Msg{
		{Subject: bus.ReportSubject("req-1"), Data: []byte(`{}`)},
		{Subject: bus.ReportSubject("req-2"), Data: []byte(`{}`)},
	}
	sub := &fakeFetcher{batches: [][]*nats.Msg{msgs}, cancel: cancel}

	jobs := make(chan Message, 4)
	done := make(chan struct{})
	go func() {
		dispatchLoop(ctx, sub, jobs)
		close(done)
	}()

	var subjects []string
	for msg := range jobs {
		subjects = append(subjects, msg.GetSubject())
	}
	assert.Equal(t, []string{bus.ReportSubject("req-1"), bus.ReportSubject("req-2")}, subjects)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatch loop did not stop after cancellation")
	}
}
