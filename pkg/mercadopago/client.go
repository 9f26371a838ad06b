/**
 * @description
 * This package provides a client for the Mercado Pago payments API. It
 * creates Pix charges for subscription purchases and queries payment state
 * during webhook reconciliation. Amounts cross the wire as decimal reais
 * while the rest of the system works in integer cents.
 *
 * @dependencies
 * - encoding/json, net/http, time: Standard Go libraries.
 * - github.com/google/uuid: Idempotency keys for charge creation.
 */
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Payment statuses reported by the gateway.
const (
	StatusApproved = "approved"
	StatusPending  = "pending"
	StatusRejected = "rejected"
	StatusCanceled = "cancelled"
)

// Client is a client for the Mercado Pago API.
type Client struct {
	BaseURL     string
	AccessToken string
	HTTPClient  *http.Client
}

// NewClient creates a new Mercado Pago API client.
func NewClient(baseURL, accessToken string) *Client {
	return &Client{
		BaseURL:     strings.TrimSuffix(baseURL, "/"),
		AccessToken: accessToken,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// PixCharge is the subset of the charge response the bot needs to
// present a payable Pix code to the user.
type PixCharge struct {
	ID           int64
	Status       string
	QRCode       string
	QRCodeBase64 string
	TicketURL    string
	ExpiresAt    time.Time
	ExternalRef  string
}

// PaymentDetails is the reconciliation view of a gateway payment.
type PaymentDetails struct {
	ID           int64
	Status       string
	ExternalRef  string
	DateApproved *time.Time
}

type createChargeRequest struct {
	TransactionAmount float64     `json:"transaction_amount"`
	Description       string      `json:"description"`
	PaymentMethodID   string      `json:"payment_method_id"`
	ExternalReference string      `json:"external_reference"`
	DateOfExpiration  string      `json:"date_of_expiration"`
	NotificationURL   string      `json:"notification_url,omitempty"`
	Payer             chargePayer `json:"payer"`
}

type chargePayer struct {
	Email string `json:"email"`
}

type chargeResponse struct {
	ID                 int64  `json:"id"`
	Status             string `json:"status"`
	ExternalReference  string `json:"external_reference"`
	DateApproved       string `json:"date_approved"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
			TicketURL    string `json:"ticket_url"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
}

// CreatePixCharge creates a Pix charge that expires after the given TTL.
// amountCents is converted to the gateway's decimal representation.
// externalRef ties the charge back to the local payment row.
func (c *Client) CreatePixCharge(ctx context.Context, amountCents int64, description, payerEmail, externalRef, notificationURL string, ttl time.Duration) (*PixCharge, error) {
	expiresAt := time.Now().Add(ttl)
	payload := createChargeRequest{
		TransactionAmount: float64(amountCents) / 100,
		Description:       description,
		PaymentMethodID:   "pix",
		ExternalReference: externalRef,
		DateOfExpiration:  expiresAt.Format("2006-01-02T15:04:05.000-07:00"),
		NotificationURL:   notificationURL,
		Payer:             chargePayer{Email: payerEmail},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build charge request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)
	req.Header.Set("X-Idempotency-Key", uuid.New().String())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call mercado pago: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read charge response: %w", err)
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mercado pago returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded chargeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode charge response: %w", err)
	}

	return &PixCharge{
		ID:           decoded.ID,
		Status:       decoded.Status,
		QRCode:       decoded.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: decoded.PointOfInteraction.TransactionData.QRCodeBase64,
		TicketURL:    decoded.PointOfInteraction.TransactionData.TicketURL,
		ExpiresAt:    expiresAt,
		ExternalRef:  decoded.ExternalReference,
	}, nil
}

// GetPayment fetches the current state of a gateway payment by its id.
func (c *Client) GetPayment(ctx context.Context, paymentID string) (*PaymentDetails, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/payments/"+paymentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build payment request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.AccessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to call mercado pago: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read payment response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mercado pago returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var decoded chargeResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode payment response: %w", err)
	}

	details := &PaymentDetails{
		ID:          decoded.ID,
		Status:      decoded.Status,
		ExternalRef: decoded.ExternalReference,
	}
	if decoded.DateApproved != "" {
		if approved, err := time.Parse(time.RFC3339, decoded.DateApproved); err == nil {
			details.DateApproved = &approved
		}
	}
	return details, nil
}
