package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/reportstack/report-manager/pkg/bus"
	"github.com/reportstack/report-manager/pkg/logger"
	"github.com/reportstack/report-manager/pkg/store"
)

// Service consumes the dead-letter subject and persists each envelope.
// The terminal queue is append-only: entries are stored for inspection
// and manual replay, never reprocessed automatically.
type Service struct {
	store DeadLetterStore
}

func NewService(store DeadLetterStore) *Service {
	return &Service{store: store}
}

func (s *Service) HandleMessage(ctx context.Context, msg *nats.Msg) error {
	var envelope bus.DLQMessage
	if err := json.Unmarshal(msg.Data, &envelope); err != nil {
		// An unreadable dead letter has nowhere further to go; keep the
		// raw payload so nothing is lost.
		logger.WithContext(ctx).Warn("storing undecodable dead letter", "error", err.Error())
		envelope = bus.DLQMessage{
			Subject: msg.Subject,
			Reason:  "undecodable envelope: " + err.Error(),
			Payload: base64.StdEncoding.EncodeToString(msg.Data),
		}
	}

	rec := toRecord(envelope)
	ctx = logger.WithRequestID(ctx, rec.RequestID)
	if err := s.store.SaveDeadLetter(ctx, rec); err != nil {
		logger.WithContext(ctx).Error("dead letter persist failed", "error", err.Error())
		return err
	}

	logger.WithContext(ctx).Warn("dead letter stored",
		"subject", rec.Subject, "reason", rec.Reason, "delivery_count", rec.DeliveryCount)
	deadLettersStored.WithLabelValues(subjectLabel(rec.Subject)).Inc()
	return nil
}

func toRecord(envelope bus.DLQMessage) *store.DeadLetterRecord {
	payload := envelope.Payload
	if decoded, err := base64.StdEncoding.DecodeString(envelope.Payload); err == nil && json.Valid(decoded) {
		payload = string(decoded)
	}

	receivedAt := time.Now().UTC()
	if envelope.ReceivedAt != "" {
		if ts, err := time.Parse(time.RFC3339Nano, envelope.ReceivedAt); err == nil {
			receivedAt = ts
		}
	}

	return &store.DeadLetterRecord{
		Subject:       envelope.Subject,
		RequestID:     bus.RequestIDFromSubject(envelope.Subject),
		Reason:        envelope.Reason,
		Payload:       payload,
		DeliveryCount: int(envelope.NumDelivered),
		ReceivedAt:    receivedAt,
	}
}

func subjectLabel(subject string) string {
	if bus.RequestIDFromSubject(subject) != "" {
		return bus.SubjectReportRequestedPrefix + ">"
	}
	return subject
}
