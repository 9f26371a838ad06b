package whatsappclient

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFormatNumber(t *testing.T) {
	testCases := []struct {
		name     string
		phone    string
		expected string
	}{
		{
			name:     "already prefixed digits",
			phone:    "5511987654321",
			expected: "5511987654321@s.whatsapp.net",
		},
		{
			name:     "missing country code",
			phone:    "11987654321",
			expected: "5511987654321@s.whatsapp.net",
		},
		{
			name:     "formatted with punctuation",
			phone:    "+55 (11) 98765-4321",
			expected: "5511987654321@s.whatsapp.net",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := FormatNumber(tc.phone); got != tc.expected {
				t.Errorf("FormatNumber(%q) = %q, want %q", tc.phone, got, tc.expected)
			}
		})
	}
}

func TestSendText(t *testing.T) {
	var gotPath string
	var gotPayload textPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("apikey") != "secret" {
			t.Errorf("missing apikey header")
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "bot")
	if err := client.SendText(context.Background(), "11987654321", "hello"); err != nil {
		t.Fatalf("SendText returned error: %v", err)
	}
	if gotPath != "/message/sendText/bot" {
		t.Errorf("unexpected path: %q", gotPath)
	}
	if gotPayload.Number != "5511987654321@s.whatsapp.net" {
		t.Errorf("unexpected number: %q", gotPayload.Number)
	}
	if gotPayload.Text != "hello" {
		t.Errorf("unexpected text: %q", gotPayload.Text)
	}
}

func TestSendDocument(t *testing.T) {
	var gotPayload mediaPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message/sendMedia/bot" {
			t.Errorf("unexpected path: %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotPayload); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "secret", "bot")
	data := []byte("%PDF-1.4 fake")
	err := client.SendDocument(context.Background(), "5511987654321", "DANFE_12345678.pdf", "application/pdf", data, "Sua DANFE")
	if err != nil {
		t.Fatalf("SendDocument returned error: %v", err)
	}
	if gotPayload.MediaType != "document" {
		t.Errorf("unexpected mediatype: %q", gotPayload.MediaType)
	}
	if gotPayload.FileName != "DANFE_12345678.pdf" {
		t.Errorf("unexpected filename: %q", gotPayload.FileName)
	}
	decoded, err := base64.StdEncoding.DecodeString(gotPayload.Media)
	if err != nil {
		t.Fatalf("media is not valid base64: %v", err)
	}
	if string(decoded) != string(data) {
		t.Errorf("media round-trip mismatch: %q", decoded)
	}
}

func TestSendText_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "wrong", "bot")
	if err := client.SendText(context.Background(), "11987654321", "hello"); err == nil {
		t.Fatal("expected error for non-2xx response, got nil")
	}
}
