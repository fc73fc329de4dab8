package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestHealthReportsFailingDependencies(t *testing.T) {
	api := NewAPI(nil, nil, "", zerolog.Nop())
	api.AddHealthCheck("postgres", func(context.Context) error { return nil })
	api.AddHealthCheck("redis", func(context.Context) error { return errors.New("connection refused") })

	recorder := httptest.NewRecorder()
	api.Health(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", recorder.Code)
	}
	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(recorder.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "degraded" || body.Checks["postgres"] != "ok" || body.Checks["redis"] != "connection refused" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestHealthWithoutChecksIsOK(t *testing.T) {
	api := NewAPI(nil, nil, "", zerolog.Nop())

	recorder := httptest.NewRecorder()
	api.Health(recorder, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}
