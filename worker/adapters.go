package main

import (
	"github.com/nats-io/nats.go"

	"github.com/reportstack/report-manager/pkg/bus"
)

type natsMessage struct {
	msg *nats.Msg
}

func wrapMessage(msg *nats.Msg) Message {
	return &natsMessage{msg: msg}
}

func (m *natsMessage) GetData() []byte {
	return m.msg.Data
}

func (m *natsMessage) GetSubject() string {
	return m.msg.Subject
}

func (m *natsMessage) GetHeaders() nats.Header {
	return m.msg.Header
}

func (m *natsMessage) Ack() error {
	return m.msg.Ack()
}

func (m *natsMessage) Nak() error {
	return m.msg.Nak()
}

func (m *natsMessage) DeliveryAttempt() int {
	return bus.DeliveryAttempt(m.msg)
}
