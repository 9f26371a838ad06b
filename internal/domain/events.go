/**
 * @description
 * This file defines the internal event payloads published to RabbitMQ for
 * deferred outbound messaging. Publishing instead of sending inline keeps
 * fire-and-forget sends (welcome, payment confirmation) supervised: the
 * consumer logs and retries delivery failures.
 */
package domain

// Outbound message event routing keys.
const (
	OutboundMessageRoutingKey = "outbound.message"
)

// OutboundMessageEvent asks the messaging consumer to deliver a text message
// to a recipient phone number.
type OutboundMessageEvent struct {
	Phone string `json:"phone"`
	Text  string `json:"text"`
	Kind  string `json:"kind"` // "welcome", "payment_confirmed", ...
}
