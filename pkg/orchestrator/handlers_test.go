package orchestrator

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arkechain/attest-core/pkg/metrics"
)

func TestHandleStatusIsPublic(t *testing.T) {
	o, _, _, _ := testOrchestrator(t, true)
	h := NewHandlers(o, "", false, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", w.Code)
	}
}

func TestTriggerRequiresBearerToken(t *testing.T) {
	o, _, _, _ := testOrchestrator(t, true)
	h := NewHandlers(o, "secret-token", false, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status code without token = %d, want 401", w.Code)
	}

	req2 := httptest.NewRequest(http.MethodPost, "/trigger", nil)
	req2.Header.Set("Authorization", "Bearer secret-token")
	w2 := httptest.NewRecorder()
	mux.ServeHTTP(w2, req2)
	if w2.Code != http.StatusOK {
		t.Errorf("status code with valid token = %d, want 200", w2.Code)
	}
}

func TestResetHeadForbiddenByDefault(t *testing.T) {
	o, _, _, _ := testOrchestrator(t, true)
	h := NewHandlers(o, "", false, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-head?key=head", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("status code = %d, want 403 when ALLOW_HEAD_RESET is false", w.Code)
	}
}

func TestResetHeadAllowed(t *testing.T) {
	o, _, _, _ := testOrchestrator(t, true)
	h := NewHandlers(o, "", true, nil)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/reset-head?key=head", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200 when ALLOW_HEAD_RESET is true", w.Code)
	}
}

func TestMetricsEndpointServesPrometheusFormat(t *testing.T) {
	o, _, _, _ := testOrchestrator(t, true)
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	h := NewHandlers(o, "", false, reg)
	mux := http.NewServeMux()
	h.Register(mux)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("status code = %d, want 200", w.Code)
	}
}
