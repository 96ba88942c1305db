package bus

import (
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	// StreamReports carries report work items, one subject per request id
	// so same-key messages stay ordered.
	StreamReports = "REPORTS"
	// StreamEvents carries operational events, including dead letters.
	StreamEvents = "EVENTS"
)

const (
	SubjectReportRequestedPrefix = "reports.requested."
	SubjectReportRequestedAll    = "reports.requested.>"
	SubjectEventDeadLetter       = "events.deadletter"
)

const (
	StreamMaxAge   = 24 * time.Hour
	StreamMaxMsgs  = 1_000_000
	StreamMaxBytes = 512 * 1024 * 1024
)

const (
	ConsumerAckWait    = 30 * time.Second
	ConsumerMaxDeliver = 6
)

var ConsumerBackoff = []time.Duration{
	1 * time.Second,
	5 * time.Second,
	15 * time.Second,
	30 * time.Second,
	1 * time.Minute,
}

// ReportSubject returns the work-item subject keyed by request id.
func ReportSubject(requestID string) string {
	return SubjectReportRequestedPrefix + requestID
}

// RequestIDFromSubject extracts the key from a work-item subject, or ""
// when the subject is not a report subject.
func RequestIDFromSubject(subject string) string {
	if !strings.HasPrefix(subject, SubjectReportRequestedPrefix) {
		return ""
	}
	return strings.TrimPrefix(subject, SubjectReportRequestedPrefix)
}

func ReportsStreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      StreamReports,
		Subjects:  []string{SubjectReportRequestedAll},
		Retention: nats.LimitsPolicy,
		MaxAge:    StreamMaxAge,
		MaxMsgs:   StreamMaxMsgs,
		MaxBytes:  StreamMaxBytes,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	}
}

func EventsStreamConfig() *nats.StreamConfig {
	return &nats.StreamConfig{
		Name:      StreamEvents,
		Subjects:  []string{SubjectEventDeadLetter},
		Retention: nats.LimitsPolicy,
		MaxAge:    StreamMaxAge,
		MaxMsgs:   StreamMaxMsgs,
		MaxBytes:  StreamMaxBytes,
		Discard:   nats.DiscardOld,
		Storage:   nats.FileStorage,
	}
}

func DefaultConsumerConfig(durable, filterSubject string) *nats.ConsumerConfig {
	maxDeliver := MaxDeliver()
	cfg := &nats.ConsumerConfig{
		Durable:       durable,
		Name:          durable,
		FilterSubject: filterSubject,
		AckPolicy:     nats.AckExplicitPolicy,
		AckWait:       ConsumerAckWait,
		MaxDeliver:    maxDeliver,
		DeliverPolicy: nats.DeliverAllPolicy,
		ReplayPolicy:  nats.ReplayInstantPolicy,
	}
	if len(ConsumerBackoff) > 0 {
		cfg.BackOff = append([]time.Duration(nil), ConsumerBackoff...)
	}
	return cfg
}

// MaxDeliver is the delivery budget per message. JetStream requires it to
// exceed the backoff schedule length.
func MaxDeliver() int {
	maxDeliver := ConsumerMaxDeliver
	if len(ConsumerBackoff) >= maxDeliver {
		return len(ConsumerBackoff) + 1
	}
	return maxDeliver
}

func DurableName(stream, service string) string {
	stream = strings.ToLower(strings.TrimSpace(stream))
	service = strings.TrimSpace(service)
	if stream == "" {
		return service
	}
	if service == "" {
		return stream
	}
	return stream + "-" + service
}
