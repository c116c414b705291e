// Copyright 2025 Certen Protocol
//
// Admin HTTP surface: health/status, manual tick trigger, bundle and
// seeding test routes, and the Prometheus /metrics endpoint. Mirrors
// the teacher's pkg/server handler shape: one struct per concern,
// writeJSONError for error responses, method checks up front.

package orchestrator

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arkechain/attest-core/pkg/record"
	"github.com/arkechain/attest-core/pkg/wallet"
)

// Handlers wires the orchestrator into an http.ServeMux.
type Handlers struct {
	orch           *Orchestrator
	adminSecret    string
	allowHeadReset bool
	promRegistry   *prometheus.Registry
	startedAt      time.Time
}

// NewHandlers constructs the admin HTTP handlers for orch. An empty
// adminSecret disables bearer-token auth on admin-only routes.
func NewHandlers(orch *Orchestrator, adminSecret string, allowHeadReset bool, promRegistry *prometheus.Registry) *Handlers {
	return &Handlers{
		orch:           orch,
		adminSecret:    adminSecret,
		allowHeadReset: allowHeadReset,
		promRegistry:   promRegistry,
		startedAt:      time.Now(),
	}
}

// Register mounts every admin route on mux.
func (h *Handlers) Register(mux *http.ServeMux) {
	mux.HandleFunc("/", h.handleStatus)
	mux.HandleFunc("/trigger", h.requireAuth(h.handleTrigger))
	mux.HandleFunc("/test-bundle", h.requireAuth(h.handleTestBundle))
	mux.HandleFunc("/test-verify", h.requireAuth(h.handleTestVerify))
	mux.HandleFunc("/admin/reset-head", h.requireAuth(h.handleResetHead))
	if h.promRegistry != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(h.promRegistry, promhttp.HandlerOpts{}))
	}
}

// requireAuth gates a handler behind Authorization: Bearer <secret>
// when an admin secret is configured. With no secret configured every
// admin route is open, matching local-development defaults.
func (h *Handlers) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminSecret == "" {
			next(w, r)
			return
		}
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if got == "" || got != h.adminSecret {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

type configSummary struct {
	BatchSize           int64   `json:"batch_size"`
	BatchSizeThreshold  int64   `json:"batch_size_threshold"`
	BatchTimeThresholdS float64 `json:"batch_time_threshold_s"`
}

type chainSummary struct {
	Seq    uint64 `json:"seq"`
	HeadTx string `json:"head_tx"`
}

type queueSummary struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

type walletSummary struct {
	Address   string  `json:"address"`
	BalanceAR float64 `json:"balance_ar"`
	Status    string  `json:"status"`
}

type verificationSummary struct {
	PendingBundles  int `json:"pending_bundles"`
	VerifiedLast24h int `json:"verified_last_24h"`
	FailedLast24h   int `json:"failed_last_24h"`
}

type statusResponse struct {
	Status       string               `json:"status"`
	State        string               `json:"state"`
	PublicKey    string               `json:"public_key"`
	UptimeSecs   int64                `json:"uptime_seconds"`
	Config       configSummary        `json:"config"`
	Chain        chainSummary         `json:"chain"`
	Queue        queueSummary         `json:"queue"`
	Wallet       *walletSummary       `json:"wallet,omitempty"`
	Verification *verificationSummary `json:"verification,omitempty"`
}

// handleStatus handles GET / — a health/status summary.
func (h *Handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	o := h.orch

	resp := statusResponse{
		Status:     "ok",
		State:      string(o.State()),
		PublicKey:  hex.EncodeToString(o.PublicKey()),
		UptimeSecs: int64(time.Since(h.startedAt).Seconds()),
		Config: configSummary{
			BatchSize:           o.cfg.MaxBundleSize,
			BatchSizeThreshold:  o.cfg.BatchSizeThreshold,
			BatchTimeThresholdS: o.cfg.BatchTimeThreshold.Seconds(),
		},
	}

	if o.Head != nil {
		if head, err := o.Head.Get(ctx, o.cfg.ChainKey); err == nil {
			resp.Chain = chainSummary{Seq: head.Seq, HeadTx: head.Tx}
		}
	}

	if o.Queue != nil {
		if stats, err := o.Queue.Stats(ctx); err == nil {
			resp.Queue = queueSummary{
				Pending:    stats.Pending,
				Processing: stats.Signing + stats.Uploading,
				Failed:     stats.Failed,
				Total:      stats.Total(),
			}
		}
	}

	if o.Wallet != nil {
		if balance, err := o.Wallet.Balance(ctx); err == nil {
			status := wallet.Classify(balance, o.cfg.CriticalBalanceAR, o.cfg.WarningBalanceAR)
			resp.Wallet = &walletSummary{
				Address:   o.Wallet.Address(),
				BalanceAR: balance,
				Status:    string(status),
			}
		}
	}

	if o.Seeding != nil {
		if stats, err := o.Seeding.Stats(time.Now()); err == nil {
			resp.Verification = &verificationSummary{
				PendingBundles:  stats.PendingBundles,
				VerifiedLast24h: stats.VerifiedLast24h,
				FailedLast24h:   stats.FailedLast24h,
			}
		}
	}

	json.NewEncoder(w).Encode(resp)
}

// handleTrigger handles POST /trigger — runs one processing tick.
func (h *Handlers) handleTrigger(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	res, err := h.orch.Tick(r.Context())
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(res)
}

// handleTestBundle handles POST /test-bundle?count=N — exercises
// sign->bundle->upload->finalize against an isolated test chain key.
func (h *Handlers) handleTestBundle(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	count := 1
	if raw := r.URL.Query().Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 100 {
			writeJSONError(w, "count must be between 1 and 100", http.StatusBadRequest)
			return
		}
		count = n
	}

	signed, err := h.orch.TestBundle(r.Context(), "test-chain", count, record.Manifest{Ver: 1, Body: map[string]any{"synthetic": true}})
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	type item struct {
		ID  string `json:"id"`
		Seq uint64 `json:"seq"`
	}
	out := make([]item, len(signed))
	for i, s := range signed {
		out[i] = item{ID: s.ID, Seq: s.Seq}
	}
	json.NewEncoder(w).Encode(map[string]any{"count": len(out), "records": out})
}

// handleTestVerify handles GET|POST /test-verify — inspects tracked-bundle
// counts (GET) or runs a verification sweep on demand (POST).
func (h *Handlers) handleTestVerify(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	switch r.Method {
	case http.MethodGet:
		out := map[string]any{"verifier_configured": h.orch.Seeding != nil}
		if h.orch.Seeding != nil {
			stats, err := h.orch.Seeding.Stats(time.Now())
			if err != nil {
				writeJSONError(w, err.Error(), http.StatusInternalServerError)
				return
			}
			out["pending_bundles"] = stats.PendingBundles
			out["verified_last_24h"] = stats.VerifiedLast24h
			out["failed_last_24h"] = stats.FailedLast24h
		}
		json.NewEncoder(w).Encode(out)
	case http.MethodPost:
		if h.orch.Seeding == nil {
			writeJSONError(w, "seeding verifier not configured", http.StatusServiceUnavailable)
			return
		}
		res, err := h.orch.Seeding.Sweep(r.Context(), time.Now())
		if err != nil {
			writeJSONError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(res)
	default:
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleResetHead handles POST /admin/reset-head?key=... — resets a
// chain head to genesis. Restricted to non-default chain keys unless
// ALLOW_HEAD_RESET=true, since resetting the production head is
// operator-dangerous.
func (h *Handlers) handleResetHead(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		writeJSONError(w, "key is required", http.StatusBadRequest)
		return
	}
	if !h.allowHeadReset && key == h.orch.cfg.ChainKey {
		writeJSONError(w, "resetting the default chain head is disabled; set ALLOW_HEAD_RESET=true to enable", http.StatusForbidden)
		return
	}

	if err := h.orch.Head.Reset(r.Context(), key); err != nil {
		writeJSONError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"reset": key})
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
