package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func decodeProbe(t *testing.T, rec *httptest.ResponseRecorder) probeResult {
	t.Helper()
	var res probeResult
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return res
}

func TestHealthzAlwaysOK(t *testing.T) {
	t.Parallel()

	h := NewHandler()
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if res := decodeProbe(t, rec); res.Status != "ok" {
		t.Errorf("body status = %q, want ok", res.Status)
	}
}

func TestReadyzAllPassing(t *testing.T) {
	t.Parallel()

	h := NewHandler(
		Checker{Name: "discord", Check: func(context.Context) error { return nil }},
		Checker{Name: "tts", Check: func(context.Context) error { return nil }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	res := decodeProbe(t, rec)
	if res.Checks["discord"] != "ok" || res.Checks["tts"] != "ok" {
		t.Errorf("checks = %v", res.Checks)
	}
}

func TestReadyzFailingChecker(t *testing.T) {
	t.Parallel()

	h := NewHandler(
		Checker{Name: "discord", Check: func(context.Context) error { return nil }},
		Checker{Name: "tts", Check: func(context.Context) error { return errors.New("daemon unreachable") }},
	)
	rec := httptest.NewRecorder()
	h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
	res := decodeProbe(t, rec)
	if res.Status != "fail" {
		t.Errorf("body status = %q, want fail", res.Status)
	}
	if res.Checks["tts"] != "fail: daemon unreachable" {
		t.Errorf("tts check = %q", res.Checks["tts"])
	}
	if res.Checks["discord"] != "ok" {
		t.Errorf("discord check = %q", res.Checks["discord"])
	}
}

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	NewHandler().Register(mux)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code == http.StatusNotFound {
			t.Errorf("%s not registered", path)
		}
	}
}
