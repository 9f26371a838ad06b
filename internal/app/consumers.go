/**
 * @description
 * This file contains the event handler that processes messages from RabbitMQ.
 * Outbound texts (welcome, payment confirmation) are published to the queue by
 * the service and reconciler and delivered here, so a slow WhatsApp call never
 * blocks request handling.
 */
package app

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
)

// MessageEventHandler delivers queued outbound messages.
type MessageEventHandler struct {
	messenger Messenger
}

// NewMessageEventHandler creates a new instance of MessageEventHandler.
func NewMessageEventHandler(messenger Messenger) *MessageEventHandler {
	return &MessageEventHandler{messenger: messenger}
}

// HandleOutboundMessage processes one outbound.message event. The return
// value is the ack decision: malformed events are acked so they do not
// poison the queue, delivery failures are nacked for redelivery.
func (h *MessageEventHandler) HandleOutboundMessage(body []byte) bool {
	var event domain.OutboundMessageEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=consumer msg=\"malformed outbound.message event; acking\" err=%v", err)
		return true
	}
	if event.Phone == "" || event.Text == "" {
		log.Printf("level=warn component=consumer msg=\"outbound.message event missing phone or text; acking\" kind=%s", event.Kind)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := h.messenger.SendText(ctx, event.Phone, event.Text); err != nil {
		log.Printf("level=error component=consumer msg=\"failed to deliver outbound message; nacking\" kind=%s err=%v", event.Kind, err)
		return false
	}
	log.Printf("level=info component=consumer msg=\"outbound message delivered\" kind=%s", event.Kind)
	return true
}
