package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestReadiness(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name       string
		deps       []Dependency
		wantStatus int
		wantBody   string
	}{
		{"all up", []Dependency{{"postgres", up, true}, {"redis", up, false}}, http.StatusOK, "ok"},
		{"redis down", []Dependency{{"postgres", up, true}, {"redis", down, false}}, http.StatusOK, "degraded"},
		{"store down", []Dependency{{"postgres", down, true}, {"redis", up, false}}, http.StatusServiceUnavailable, "error"},
		{"both down", []Dependency{{"postgres", down, true}, {"redis", down, false}}, http.StatusServiceUnavailable, "error"},
		{"nothing to check", nil, http.StatusOK, "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("test", "v0", tt.deps...)
			rec := httptest.NewRecorder()
			h.Readiness(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var resp ReadinessResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if resp.Status != tt.wantBody {
				t.Errorf("body status = %q, want %q", resp.Status, tt.wantBody)
			}
			if len(resp.Dependencies) != len(tt.deps) {
				t.Errorf("dependencies = %v", resp.Dependencies)
			}
		})
	}
}
