package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestError_Envelope(t *testing.T) {
	rr := httptest.NewRecorder()
	Error(rr, "req-1", CodeNotFound, "comment not found")

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected json content type, got %q", ct)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != "NOT_FOUND" || body.Error.RequestID != "req-1" {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
}

func TestCode_Status(t *testing.T) {
	for code, want := range map[Code]int{
		CodeValidation:   http.StatusBadRequest,
		CodeUnauthorized: http.StatusUnauthorized,
		CodeForbidden:    http.StatusForbidden,
		CodeNotFound:     http.StatusNotFound,
		CodeNotReady:     http.StatusServiceUnavailable,
		CodeInternal:     http.StatusInternalServerError,
		"INVALID_JSON":   http.StatusBadRequest,
	} {
		if got := code.Status(); got != want {
			t.Fatalf("%s: expected %d, got %d", code, want, got)
		}
	}
}

func TestInvalid_CarriesField(t *testing.T) {
	rr := httptest.NewRecorder()
	Invalid(rr, "req-3", "content", "empty", "content: empty")

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	var body ErrorResponse
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error.Code != CodeValidation || body.Error.Details["field"] != "content" || body.Error.Details["reason"] != "empty" {
		t.Fatalf("unexpected envelope: %+v", body.Error)
	}
}

func TestInternal_HidesDetails(t *testing.T) {
	rr := httptest.NewRecorder()
	Internal(rr, "req-2")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"INTERNAL"`) {
		t.Fatalf("expected INTERNAL code, got %s", rr.Body.String())
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Content string `json:"content"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"content":"hi"}`))
	var p payload
	if err := DecodeJSON(httptest.NewRecorder(), req, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Content != "hi" {
		t.Fatalf("expected content 'hi', got %q", p.Content)
	}

	for name, body := range map[string]string{
		"empty":         ``,
		"unknown field": `{"content":"hi","score":3}`,
		"two objects":   `{"content":"a"}{"content":"b"}`,
		"not json":      `content=hi`,
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
			if err := DecodeJSON(httptest.NewRecorder(), req, &payload{}); err == nil {
				t.Fatal("expected decode error")
			}
		})
	}
}
