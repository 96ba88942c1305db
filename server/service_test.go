package main

import (
	"context"
	"errors"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/report"
	"github.com/reportstack/report-manager/pkg/store"
)

type fakePublisher struct {
	subjects []string
	payloads []any
	err      error
}

func (p *fakePublisher) PublishJSON(ctx context.Context, subject string, payload any, headers nats.Header, opts ...nats.PubOpt) (*nats.PubAck, error) {
	p.subjects = append(p.subjects, subject)
	p.payloads = append(p.payloads, payload)
	if p.err != nil {
		return nil, p.err
	}
	return &nats.PubAck{Stream: bus.StreamReports}, nil
}

func TestSubmitPersistsThenPublishes(t *testing.T) {
	mem := store.NewMemory()
	pub := &fakePublisher{}
	svc := NewService(mem, pub)

	rec, err := svc.Submit(context.Background(), report.TypePerformance, "analyst", `{"portfolioId":"p-9"}`)
	require.NoError(t, err)
	assert.NotEmpty(t, rec.RequestID)
	assert.Equal(t, report.StatusSubmitted, rec.Status)

	stored, err := mem.Get(context.Background(), rec.RequestID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSubmitted, stored.Status)
	assert.Equal(t, "analyst", stored.RequestedBy)

	require.Len(t, pub.subjects, 1)
	assert.Equal(t, bus.ReportSubject(rec.RequestID), pub.subjects[0])

	event, ok := pub.payloads[0].(report.RequestedEvent)
	require.True(t, ok)
	assert.Equal(t, rec.RequestID, event.RequestID)
	assert.Equal(t, report.TypePerformance, event.ReportType)
	assert.NotEmpty(t, event.RequestedAt)
}

func TestSubmitLeavesRecordWhenPublishFails(t *testing.T) {
	mem := store.NewMemory()
	pub := &fakePublisher{err: errors.New("nats unreachable")}
	svc := NewService(mem, pub)

	_, err := svc.Submit(context.Background(), report.TypeAssetAllocation, "analyst", `{}`)
	require.Error(t, err)

	// The record survives the publish failure: visible via the status
	// endpoint, stuck in SUBMITTED until resubmitted.
	require.Len(t, pub.subjects, 1)
	requestID := bus.RequestIDFromSubject(pub.subjects[0])
	require.NotEmpty(t, requestID)

	stored, err := mem.Get(context.Background(), requestID)
	require.NoError(t, err)
	assert.Equal(t, report.StatusSubmitted, stored.Status)
}

func TestSubmitGeneratesUniqueIDs(t *testing.T) {
	mem := store.NewMemory()
	pub := &fakePublisher{}
	svc := NewService(mem, pub)

	first, err := svc.Submit(context.Background(), report.TypePerformance, "analyst", `{}`)
	require.NoError(t, err)
	second, err := svc.Submit(context.Background(), report.TypePerformance, "analyst", `{}`)
	require.NoError(t, err)

	assert.NotEqual(t, first.RequestID, second.RequestID)
}
