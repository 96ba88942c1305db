package main

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/reportstack/report-manager/pkg/report"
)

// Message abstracts a NATS message to allow mocking.
type Message interface {
	GetData() []byte
	GetSubject() string
	GetHeaders() nats.Header
	Ack() error
	Nak() error
	DeliveryAttempt() int
}

// Fetcher abstracts the pull subscription's batch fetch.
type Fetcher interface {
	Fetch(batch int, opts ...nats.PullOpt) ([]*nats.Msg, error)
}

// Publisher abstracts the bus client's publishing capability.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, payload any, headers nats.Header, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// RequestStore is the slice of the request store the consumer needs.
type RequestStore interface {
	Get(ctx context.Context, requestID string) (*report.Request, error)
	Update(ctx context.Context, rec *report.Request) error
	TransitionIfStatus(ctx context.Context, requestID string, to report.Status, from ...report.Status) (bool, error)
}

// Archiver abstracts the archive backend client.
type Archiver interface {
	Archive(ctx context.Context, requestID string, payload []byte) (string, error)
}
