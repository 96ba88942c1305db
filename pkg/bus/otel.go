package bus

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const (
	AttrMessageSubject      = "message.subject"
	AttrMessageStream       = "message.stream"
	AttrMessageConsumer     = "message.consumer"
	AttrMessageDeliverCount = "message.deliver_count"
)

// ContextFromHeaders extracts the propagated trace context from message
// headers.
func ContextFromHeaders(ctx context.Context, header nats.Header) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(header) == 0 {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier{header})
}

func injectTrace(ctx context.Context, header nats.Header) {
	if ctx == nil || header == nil {
		return
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{header})
}

func MessageAttributes(msg *nats.Msg) []attribute.KeyValue {
	if msg == nil {
		return nil
	}

	attrs := []attribute.KeyValue{attribute.String(AttrMessageSubject, msg.Subject)}
	meta, err := msg.Metadata()
	if err != nil || meta == nil {
		return attrs
	}
	if meta.Stream != "" {
		attrs = append(attrs, attribute.String(AttrMessageStream, meta.Stream))
	}
	if meta.Consumer != "" {
		attrs = append(attrs, attribute.String(AttrMessageConsumer, meta.Consumer))
	}
	if meta.NumDelivered > 0 {
		attrs = append(attrs, attribute.Int64(AttrMessageDeliverCount, int64(meta.NumDelivered)))
	}
	return attrs
}

func AnnotateSpan(span trace.Span, msg *nats.Msg) {
	if span == nil || msg == nil {
		return
	}
	attrs := MessageAttributes(msg)
	if len(attrs) == 0 {
		return
	}
	span.SetAttributes(attrs...)
}

type headerCarrier struct {
	nats.Header
}

func (c headerCarrier) Get(key string) string {
	return c.Header.Get(key)
}

func (c headerCarrier) Set(key, value string) {
	c.Header.Set(key, value)
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

var _ propagation.TextMapCarrier = headerCarrier{}
