/**
 * @description
 * This package provides a client for the Evolution API, used to deliver
 * WhatsApp messages and documents to users. It handles Brazilian number
 * normalization (digits only, 55 country prefix, @s.whatsapp.net suffix)
 * and base64 media encoding for document delivery.
 *
 * @dependencies
 * - encoding/base64, encoding/json, net/http, time: Standard Go libraries.
 */
package whatsappclient

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client is a client for an Evolution API instance.
type Client struct {
	BaseURL    string
	APIKey     string
	Instance   string
	HTTPClient *http.Client
}

// NewClient creates a new Evolution API client bound to one instance.
func NewClient(baseURL, apiKey, instance string) *Client {
	return &Client{
		BaseURL:  strings.TrimSuffix(baseURL, "/"),
		APIKey:   apiKey,
		Instance: instance,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type textPayload struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type mediaPayload struct {
	Number    string `json:"number"`
	MediaType string `json:"mediatype"`
	MimeType  string `json:"mimetype"`
	Media     string `json:"media"`
	FileName  string `json:"fileName"`
	Caption   string `json:"caption,omitempty"`
}

// SendText sends a plain text message to the given phone number.
func (c *Client) SendText(ctx context.Context, phone, text string) error {
	payload := textPayload{
		Number: FormatNumber(phone),
		Text:   text,
	}
	return c.post(ctx, "/message/sendText/"+c.Instance, payload)
}

// SendDocument sends a file attachment (PDF, XML) to the given phone number.
func (c *Client) SendDocument(ctx context.Context, phone, filename, mimeType string, data []byte, caption string) error {
	payload := mediaPayload{
		Number:    FormatNumber(phone),
		MediaType: "document",
		MimeType:  mimeType,
		Media:     base64.StdEncoding.EncodeToString(data),
		FileName:  filename,
		Caption:   caption,
	}
	return c.post(ctx, "/message/sendMedia/"+c.Instance, payload)
}

// SendImage sends an inline image (QR codes) to the given phone number.
func (c *Client) SendImage(ctx context.Context, phone string, data []byte, caption string) error {
	payload := mediaPayload{
		Number:    FormatNumber(phone),
		MediaType: "image",
		MimeType:  "image/png",
		Media:     base64.StdEncoding.EncodeToString(data),
		FileName:  "qrcode.png",
		Caption:   caption,
	}
	return c.post(ctx, "/message/sendMedia/"+c.Instance, payload)
}

func (c *Client) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call evolution api: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("evolution api returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}

// FormatNumber normalizes a phone number for Evolution API delivery:
// strips non-digits, prefixes the Brazilian country code when missing,
// and appends the WhatsApp JID suffix.
func FormatNumber(phone string) string {
	var digits strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	number := digits.String()
	if !strings.HasPrefix(number, "55") {
		number = "55" + number
	}
	return number + "@s.whatsapp.net"
}
