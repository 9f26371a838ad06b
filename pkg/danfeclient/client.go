/**
 * @description
 * This package provides a client for the MeuDanfe API, which renders DANFE
 * PDFs and returns the underlying NFe XML for a given 44-digit access key.
 * It encapsulates the two-step fetch flow (register the key, then download
 * the artifacts) and maps upstream failures to typed error kinds so the
 * orchestrator can decide retry and user-facing messaging.
 *
 * @dependencies
 * - context, encoding/base64, encoding/json, net/http, time: Standard Go libraries.
 */
package danfeclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/danfezap/danfe-service/internal/domain"
)

// ErrorKind classifies a failed fetch attempt.
type ErrorKind string

const (
	// KindNotFound means the document is not in the upstream system (yet).
	KindNotFound ErrorKind = "not_found"
	// KindTransient covers upstream 5xx and other retry-worthy responses.
	KindTransient ErrorKind = "transient"
	// KindDecodeFailure means the upstream payload was malformed.
	KindDecodeFailure ErrorKind = "decode_failure"
	// KindTimeout means the per-attempt deadline elapsed.
	KindTimeout ErrorKind = "timeout"
	// KindConnectionError covers transport-level failures.
	KindConnectionError ErrorKind = "connection_error"
)

// LookupError is the typed error returned by FetchOnce.
type LookupError struct {
	Kind    ErrorKind
	Message string
}

func (e *LookupError) Error() string {
	return fmt.Sprintf("lookup %s: %s", e.Kind, e.Message)
}

// Client is a client for the MeuDanfe API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new MeuDanfe API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type documentResponse struct {
	Data    string `json:"data"`
	Message string `json:"message"`
}

// FetchOnce performs a single lookup attempt for the access key:
// 1. PUT /fd/add/{key} registers or locates the document upstream.
// 2. GET /fd/get/da/{key} downloads the DANFE PDF (base64 in "data").
// 3. GET /fd/get/xml/{key} downloads the NFe XML (plain text in "data", optional).
// Suggested filenames derive from the trailing eight digits of the key.
func (c *Client) FetchOnce(ctx context.Context, key string) (*domain.LookupArtifacts, error) {
	status, _, err := c.do(ctx, http.MethodPut, "/fd/add/"+key)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if status == http.StatusNotFound || status == http.StatusUnprocessableEntity {
			return nil, &LookupError{Kind: KindNotFound, Message: fmt.Sprintf("document not available (status %d)", status)}
		}
		if status >= 500 {
			return nil, &LookupError{Kind: KindTransient, Message: fmt.Sprintf("upstream error on add (status %d)", status)}
		}
		return nil, &LookupError{Kind: KindTransient, Message: fmt.Sprintf("unexpected status on add (status %d)", status)}
	}

	status, body, err := c.do(ctx, http.MethodGet, "/fd/get/da/"+key)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		if status >= 500 {
			return nil, &LookupError{Kind: KindTransient, Message: fmt.Sprintf("upstream error on pdf download (status %d)", status)}
		}
		return nil, &LookupError{Kind: KindTransient, Message: fmt.Sprintf("pdf download failed (status %d)", status)}
	}

	var pdfResp documentResponse
	if err := json.Unmarshal(body, &pdfResp); err != nil {
		return nil, &LookupError{Kind: KindDecodeFailure, Message: fmt.Sprintf("invalid pdf response json: %v", err)}
	}
	if pdfResp.Data == "" {
		return nil, &LookupError{Kind: KindDecodeFailure, Message: "pdf response missing data field"}
	}
	pdfBytes, err := base64.StdEncoding.DecodeString(pdfResp.Data)
	if err != nil {
		return nil, &LookupError{Kind: KindDecodeFailure, Message: fmt.Sprintf("invalid pdf base64: %v", err)}
	}

	suffix := key
	if len(key) > 8 {
		suffix = key[len(key)-8:]
	}
	artifacts := &domain.LookupArtifacts{
		PDF:         pdfBytes,
		PDFFilename: fmt.Sprintf("DANFE_%s.pdf", suffix),
	}

	// The XML companion is optional; failures here never fail the fetch.
	status, body, err = c.do(ctx, http.MethodGet, "/fd/get/xml/"+key)
	if err == nil && status == http.StatusOK {
		var xmlResp documentResponse
		if jsonErr := json.Unmarshal(body, &xmlResp); jsonErr == nil && xmlResp.Data != "" {
			// The API returns the XML as plain text in the data field.
			artifacts.XML = []byte(xmlResp.Data)
			artifacts.XMLFilename = fmt.Sprintf("NFE_%s.xml", suffix)
		} else if jsonErr != nil {
			log.Printf("level=warn component=danfe_client msg=\"xml companion unavailable\" err=%v", jsonErr)
		}
	} else if err != nil {
		log.Printf("level=warn component=danfe_client msg=\"xml companion fetch failed\" err=%v", err)
	}

	return artifacts, nil
}

// do executes one request against the API and returns status and body.
// Transport failures are classified into timeout/connection kinds.
func (c *Client) do(ctx context.Context, method, path string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, nil)
	if err != nil {
		return 0, nil, &LookupError{Kind: KindConnectionError, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Api-Key", c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || os.IsTimeout(err) {
			return 0, nil, &LookupError{Kind: KindTimeout, Message: err.Error()}
		}
		var netErr interface{ Timeout() bool }
		if errors.As(err, &netErr) && netErr.Timeout() {
			return 0, nil, &LookupError{Kind: KindTimeout, Message: err.Error()}
		}
		return 0, nil, &LookupError{Kind: KindConnectionError, Message: err.Error()}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, &LookupError{Kind: KindConnectionError, Message: fmt.Sprintf("read response: %v", err)}
	}
	return resp.StatusCode, body, nil
}
