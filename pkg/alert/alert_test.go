package alert

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAlertNoopWithoutURL(t *testing.T) {
	w := New("")
	if err := w.Alert(context.Background(), "warning", "low balance"); err != nil {
		t.Errorf("Alert() error = %v, want nil for no-op webhook", err)
	}
}

func TestAlertPostsToWebhook(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	w := New(srv.URL)
	if err := w.Alert(context.Background(), "critical", "wallet balance critical"); err != nil {
		t.Fatalf("Alert() error = %v", err)
	}
	if gotBody == "" {
		t.Error("webhook received no body")
	}
}
