package main

import (
	"context"
	"encoding/json"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/report"
	"github.com/reportstack/report-manager/pkg/store"
)

// Service is the processing state machine. On each work item it enforces
// the idempotency gate against the request store, claims the record with
// an atomic conditional transition, invokes the strategy and records the
// terminal state. Every failure is persisted before being surfaced to the
// transport's retry/dead-letter policy.
type Service struct {
	store      RequestStore
	registry   *StrategyRegistry
	pub        Publisher
	tracer     trace.Tracer
	maxDeliver int
}

func NewService(store RequestStore, registry *StrategyRegistry, pub Publisher) *Service {
	return &Service{
		store:      store,
		registry:   registry,
		pub:        pub,
		tracer:     otel.Tracer("report-worker"),
		maxDeliver: bus.MaxDeliver(),
	}
}

func (s *Service) ProcessMessage(msgCtx context.Context, msg Message) error {
	var event report.RequestedEvent
	err := json.Unmarshal(msg.GetData(), &event)
	if err == nil {
		err = event.Validate()
	}
	if err != nil {
		logger.WithContext(msgCtx).Warn("dropping malformed work item",
			"subject", msg.GetSubject(), "error", err.Error())
		reportsDropped.WithLabelValues("malformed").Inc()
		if s.deadLetter(msgCtx, msg, "malformed payload: "+err.Error()) == nil {
			s.ack(msg)
		}
		return nil
	}

	ctx := logger.WithRequestID(msgCtx, event.RequestID)
	ctx, span := s.tracer.Start(ctx, "worker.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.request_id", event.RequestID),
		attribute.String("report.type", string(event.ReportType)),
		attribute.String("message.subject", msg.GetSubject()),
		attribute.Int("message.deliver_count", msg.DeliveryAttempt()),
	)
	log := logger.WithContext(ctx)

	rec, err := s.store.Get(ctx, event.RequestID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// A work item referencing a record that was never persisted:
			// a data-loss signal, not retryable.
			log.Warn("dropping work item for unknown request")
			reportsDropped.WithLabelValues("unknown_request").Inc()
			s.ack(msg)
			return nil
		}
		span.RecordError(err)
		s.retryOrDeadLetter(ctx, msg, "load request failed: "+err.Error())
		return nil
	}

	switch rec.Status {
	case report.StatusCompleted:
		log.Info("skipping already completed request")
		reportsDropped.WithLabelValues("already_completed").Inc()
		s.ack(msg)
		return nil
	case report.StatusInProgress:
		log.Info("skipping in-progress duplicate")
		reportsDropped.WithLabelValues("in_progress").Inc()
		s.ack(msg)
		return nil
	}

	// SUBMITTED proceeds. FAILED also proceeds: a redelivery of the same
	// message is the transport's retry of a failed attempt.
	claimed, err := s.store.TransitionIfStatus(ctx, rec.RequestID,
		report.StatusInProgress, report.StatusSubmitted, report.StatusFailed)
	if err != nil {
		span.RecordError(err)
		s.retryOrDeadLetter(ctx, msg, "claim request failed: "+err.Error())
		return nil
	}
	if !claimed {
		log.Info("request claimed elsewhere, dropping duplicate")
		reportsDropped.WithLabelValues("lost_claim").Inc()
		s.ack(msg)
		return nil
	}
	rec.Status = report.StatusInProgress

	archiveRef, err := s.generate(ctx, rec, event)
	if err != nil {
		span.RecordError(err)
		s.markFailed(ctx, rec, err)
		reportsProcessed.WithLabelValues(string(rec.ReportType), "failed").Inc()
		s.retryOrDeadLetter(ctx, msg, err.Error())
		return nil
	}

	rec.Status = report.StatusCompleted
	rec.ArchiveRef = archiveRef
	rec.ErrorMessage = ""
	if err := s.store.Update(ctx, rec); err != nil {
		// The artifact exists but the terminal state is not durable; the
		// redelivery hits the in-progress gate, so this surfaces as a
		// stuck IN_PROGRESS record rather than a duplicate archive call.
		span.RecordError(err)
		s.retryOrDeadLetter(ctx, msg, "persist completion failed: "+err.Error())
		return nil
	}

	log.Info("report completed", "archive_ref", archiveRef)
	reportsProcessed.WithLabelValues(string(rec.ReportType), "completed").Inc()
	s.ack(msg)
	return nil
}

func (s *Service) generate(ctx context.Context, rec *report.Request, event report.RequestedEvent) (string, error) {
	strategy, err := s.registry.Resolve(rec.ReportType)
	if err != nil {
		return "", err
	}
	// The persisted record, not the work item, is the source of truth.
	return strategy.Generate(ctx, GenerationContext{
		RequestID:   rec.RequestID,
		ReportType:  rec.ReportType,
		RequestedBy: rec.RequestedBy,
		Parameters:  rec.Parameters,
		RequestedAt: event.RequestedAt,
	})
}

// markFailed durably records the failure before the message is handed
// back to the transport, so a status query reflects the last known
// outcome even if no retry ever runs.
func (s *Service) markFailed(ctx context.Context, rec *report.Request, cause error) {
	rec.Status = report.StatusFailed
	rec.ErrorMessage = cause.Error()
	rec.ArchiveRef = ""
	log := logger.WithContext(ctx)
	if err := s.store.Update(ctx, rec); err != nil {
		log.Error("persisting failure state failed", "error", err.Error())
		return
	}
	log.Error("report failed", "error", cause.Error())
}

func (s *Service) retryOrDeadLetter(ctx context.Context, msg Message, reason string) {
	if msg.DeliveryAttempt() >= s.maxDeliver {
		// Ack only once the envelope is durable on the DLQ stream. When
		// publishing fails the message stays unacked, so the loss shows up
		// as an outstanding AckWait instead of disappearing into a log line.
		if s.deadLetter(ctx, msg, reason) == nil {
			s.ack(msg)
		}
		return
	}
	s.nak(msg)
}

func (s *Service) deadLetter(ctx context.Context, msg Message, reason string) error {
	entry := bus.NewDLQMessage(msg.GetSubject(), msg.GetData(), msg.GetHeaders(),
		msg.DeliveryAttempt(), reason)
	_, err := s.pub.PublishJSON(ctx, bus.SubjectEventDeadLetter, entry, nil)
	if err != nil {
		_, err = s.pub.PublishJSON(ctx, bus.SubjectEventDeadLetter, entry, nil)
	}
	if err != nil {
		logger.WithContext(ctx).Error("deadletter publish failed", "error", err.Error())
	}
	return err
}

func (s *Service) ack(msg Message) {
	if msg == nil {
		return
	}
	if err := msg.Ack(); err != nil {
		logger.Error("worker: ack failed", err)
	}
}

func (s *Service) nak(msg Message) {
	if msg == nil {
		return
	}
	if err := msg.Nak(); err != nil {
		logger.Error("worker: nak failed", err)
	}
}
