package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/report"
)

// Service implements the submission path: persist the request first,
// then publish the work item. A record with no work item is visible and
// diagnosable through the status endpoint; a work item with no record
// would be dropped by the consumer, so the order is never reversed.
type Service struct {
	store  RequestStore
	pub    Publisher
	tracer trace.Tracer
}

func NewService(store RequestStore, pub Publisher) *Service {
	return &Service{
		store:  store,
		pub:    pub,
		tracer: otel.Tracer("report-server"),
	}
}

func (s *Service) Submit(ctx context.Context, reportType report.Type, requestedBy, parameters string) (*report.Request, error) {
	requestID := uuid.NewString()
	ctx = logger.WithRequestID(ctx, requestID)
	ctx, span := s.tracer.Start(ctx, "server.submit")
	defer span.End()
	span.SetAttributes(
		attribute.String("report.request_id", requestID),
		attribute.String("report.type", string(reportType)),
	)
	log := logger.WithContext(ctx)

	rec := &report.Request{
		RequestID:   requestID,
		ReportType:  reportType,
		Status:      report.StatusSubmitted,
		RequestedBy: requestedBy,
		Parameters:  parameters,
	}
	if err := s.store.Create(ctx, rec); err != nil {
		span.RecordError(err)
		reportsSubmitted.WithLabelValues(string(reportType), "persist_failed").Inc()
		return nil, fmt.Errorf("persist request: %w", err)
	}

	event := report.RequestedEvent{
		RequestID:   requestID,
		ReportType:  reportType,
		RequestedBy: requestedBy,
		Parameters:  parameters,
		RequestedAt: report.Now(),
	}
	if _, err := s.pub.PublishJSON(ctx, bus.ReportSubject(requestID), event, nil); err != nil {
		// The record stays SUBMITTED with no work item behind it. That is
		// the accepted failure mode: visible via the status endpoint, and
		// safe to resubmit.
		span.RecordError(err)
		log.Error("work item publish failed", "error", err.Error())
		reportsSubmitted.WithLabelValues(string(reportType), "publish_failed").Inc()
		return nil, fmt.Errorf("publish work item: %w", err)
	}

	log.Info("report request submitted", "report_type", string(reportType), "requested_by", requestedBy)
	reportsSubmitted.WithLabelValues(string(reportType), "accepted").Inc()
	return rec, nil
}

func (s *Service) Details(ctx context.Context, requestID string) (*report.Request, error) {
	return s.store.Get(logger.WithRequestID(ctx, requestID), requestID)
}
