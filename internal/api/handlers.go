/**
 * @description
 * This file contains the HTTP handlers for the service: the Evolution API
 * webhook that feeds inbound WhatsApp messages into the bot, the Mercado Pago
 * webhook that triggers payment reconciliation, and the operational stats
 * endpoint.
 *
 * Key features:
 * - Security: Validates the HMAC signature of incoming payment webhooks.
 * - Parsing: Decodes the JSON payloads into strongly-typed Go structs.
 * - Fast acknowledgment: inbound messages are handled on a background
 *   goroutine so the webhook responds before the lookup completes.
 *
 * @dependencies
 * - crypto/hmac, crypto/sha256, encoding/hex: For webhook signature validation.
 * - encoding/json, net/http: Standard Go libraries.
 */
package api

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/danfezap/danfe-service/internal/app"
	"github.com/danfezap/danfe-service/internal/domain"
	"github.com/danfezap/danfe-service/pkg/mercadopago"
)

// PaymentStatusSource resolves the authoritative payment state at the gateway.
type PaymentStatusSource interface {
	GetPayment(ctx context.Context, paymentID string) (*mercadopago.PaymentDetails, error)
}

// Reconciler applies resolved payment notifications.
type Reconciler interface {
	Apply(ctx context.Context, notification domain.PaymentNotification) (domain.ReconcileOutcome, error)
}

// InboundHandler processes inbound WhatsApp messages.
type InboundHandler interface {
	HandleInbound(ctx context.Context, phone, name, text string) error
	Stats(ctx context.Context) (*domain.Stats, error)
}

// Handler holds the dependencies for the API handlers.
type Handler struct {
	service    InboundHandler
	reconciler Reconciler
	gateway    PaymentStatusSource
	secret     string
}

// NewHandler creates a new API handler.
func NewHandler(service InboundHandler, reconciler Reconciler, gateway PaymentStatusSource, webhookSecret string) *Handler {
	return &Handler{
		service:    service,
		reconciler: reconciler,
		gateway:    gateway,
		secret:     webhookSecret,
	}
}

// evolutionWebhook mirrors the messages.upsert payload sent by the
// Evolution API.
type evolutionWebhook struct {
	Event string `json:"event"`
	Data  struct {
		Key struct {
			RemoteJid string `json:"remoteJid"`
			FromMe    bool   `json:"fromMe"`
		} `json:"key"`
		PushName string `json:"pushName"`
		Message  struct {
			Conversation        string `json:"conversation"`
			ExtendedTextMessage struct {
				Text string `json:"text"`
			} `json:"extendedTextMessage"`
		} `json:"message"`
	} `json:"data"`
}

// handleWhatsAppWebhook ingests inbound messages. The Evolution API expects a
// fast 200; the actual handling (validation, lookup, delivery) runs on a
// background goroutine.
func (h *Handler) handleWhatsAppWebhook(w http.ResponseWriter, r *http.Request) {
	var payload evolutionWebhook
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("level=warn component=api msg=\"malformed whatsapp webhook\" err=%v", err)
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	if payload.Event != "" && payload.Event != "messages.upsert" {
		w.WriteHeader(http.StatusOK)
		return
	}
	// Ignore the bot's own outbound messages echoed back by the instance.
	if payload.Data.Key.FromMe {
		w.WriteHeader(http.StatusOK)
		return
	}

	text := payload.Data.Message.Conversation
	if text == "" {
		text = payload.Data.Message.ExtendedTextMessage.Text
	}
	phone := strings.SplitN(payload.Data.Key.RemoteJid, "@", 2)[0]
	if phone == "" || text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}
	// Group JIDs carry a hyphenated suffix; the bot only serves direct chats.
	if strings.Contains(payload.Data.Key.RemoteJid, "@g.us") {
		w.WriteHeader(http.StatusOK)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := h.service.HandleInbound(ctx, phone, payload.Data.PushName, text); err != nil {
			log.Printf("level=error component=api msg=\"inbound message handling failed\" err=%v", err)
		}
	}()

	w.WriteHeader(http.StatusOK)
}

// paymentWebhook mirrors the Mercado Pago notification payload. The payload
// only says which payment changed; the authoritative status comes from a
// follow-up query against the gateway.
type paymentWebhook struct {
	Type   string `json:"type"`
	Action string `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (h *Handler) handlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if !h.isValidSignature(r, body) {
		log.Printf("level=warn component=api msg=\"invalid payment webhook signature\"")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	var payload paymentWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Type != "payment" || payload.Data.ID == "" {
		// Other notification topics are acknowledged and ignored.
		w.WriteHeader(http.StatusOK)
		return
	}

	details, err := h.gateway.GetPayment(r.Context(), payload.Data.ID)
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to resolve payment status\" payment_id=%s err=%v", payload.Data.ID, err)
		http.Error(w, "gateway unavailable", http.StatusBadGateway)
		return
	}
	if details.Status == mercadopago.StatusPending {
		// Not terminal yet; the gateway will notify again.
		w.WriteHeader(http.StatusOK)
		return
	}

	notification := domain.PaymentNotification{
		ExternalTransactionID: payload.Data.ID,
		Approved:              details.Status == mercadopago.StatusApproved,
		PaidAt:                details.DateApproved,
	}
	outcome, err := h.reconciler.Apply(r.Context(), notification)
	if err != nil {
		log.Printf("level=error component=api msg=\"reconciliation failed\" payment_id=%s err=%v", payload.Data.ID, err)
		http.Error(w, "reconciliation failed", http.StatusInternalServerError)
		return
	}

	log.Printf("level=info component=api msg=\"payment webhook processed\" payment_id=%s outcome=%s", payload.Data.ID, outcome)
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"outcome": string(outcome)})
}

// isValidSignature checks the x-signature header (ts=...,v1=...) against an
// HMAC-SHA256 over the canonical manifest, per the gateway's webhook scheme.
// With no secret configured the check is skipped.
func (h *Handler) isValidSignature(r *http.Request, body []byte) bool {
	if h.secret == "" {
		return true
	}

	header := r.Header.Get("x-signature")
	if header == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(header, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch kv[0] {
		case "ts":
			ts = kv[1]
		case "v1":
			v1 = kv[1]
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	var payload paymentWebhook
	if err := json.Unmarshal(body, &payload); err != nil {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;", payload.Data.ID, r.Header.Get("x-request-id"), ts)
	mac := hmac.New(sha256.New, []byte(h.secret))
	mac.Write([]byte(manifest))
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(v1))
}

// handleStats reports service-wide counters.
func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		log.Printf("level=error component=api msg=\"failed to collect stats\" err=%v", err)
		http.Error(w, "failed to collect stats", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

var _ InboundHandler = (*app.Service)(nil)
