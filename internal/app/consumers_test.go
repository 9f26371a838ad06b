package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/danfezap/danfe-service/internal/domain"
)

type failingMessenger struct {
	messengerStub
	fail bool
}

func (m *failingMessenger) SendText(ctx context.Context, phone, text string) error {
	if m.fail {
		return errors.New("evolution api unreachable")
	}
	return m.messengerStub.SendText(ctx, phone, text)
}

func TestHandleOutboundMessage(t *testing.T) {
	event, _ := json.Marshal(domain.OutboundMessageEvent{Phone: "5511987654321", Text: "oi", Kind: "welcome"})

	t.Run("delivers and acks", func(t *testing.T) {
		messenger := &failingMessenger{}
		handler := NewMessageEventHandler(messenger)
		if !handler.HandleOutboundMessage(event) {
			t.Error("expected ack after successful delivery")
		}
		if len(messenger.texts) != 1 || messenger.texts[0] != "oi" {
			t.Errorf("unexpected delivery: %+v", messenger.texts)
		}
	})

	t.Run("nacks on delivery failure", func(t *testing.T) {
		handler := NewMessageEventHandler(&failingMessenger{fail: true})
		if handler.HandleOutboundMessage(event) {
			t.Error("expected nack when delivery fails")
		}
	})

	t.Run("acks malformed payload", func(t *testing.T) {
		messenger := &failingMessenger{}
		handler := NewMessageEventHandler(messenger)
		if !handler.HandleOutboundMessage([]byte("{not json")) {
			t.Error("malformed events must be acked to avoid poisoning the queue")
		}
		if len(messenger.texts) != 0 {
			t.Errorf("nothing should be delivered for malformed payloads, got %+v", messenger.texts)
		}
	})

	t.Run("acks event without recipient", func(t *testing.T) {
		empty, _ := json.Marshal(domain.OutboundMessageEvent{Text: "oi"})
		handler := NewMessageEventHandler(&failingMessenger{})
		if !handler.HandleOutboundMessage(empty) {
			t.Error("events without a recipient must be acked")
		}
	})
}
