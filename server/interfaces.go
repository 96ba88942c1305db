package main

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/reportstack/report-manager/pkg/report"
)

// RequestStore is the slice of the request store the API server needs.
type RequestStore interface {
	Create(ctx context.Context, rec *report.Request) error
	Get(ctx context.Context, requestID string) (*report.Request, error)
}

// Publisher abstracts the bus client's publishing capability.
type Publisher interface {
	PublishJSON(ctx context.Context, subject string, payload any, headers nats.Header, opts ...nats.PubOpt) (*nats.PubAck, error)
}
