package httpserver

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/BrikPay/refunds-service/internal/circuitbreaker"
	"github.com/BrikPay/refunds-service/internal/errors"
	"github.com/BrikPay/refunds-service/internal/gateway"
	"github.com/BrikPay/refunds-service/internal/methods"
	"github.com/BrikPay/refunds-service/internal/refund"
	"github.com/BrikPay/refunds-service/internal/state"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(serverStartTime).Round(time.Second).String(),
	})
}

type circuitView struct {
	Gateway         string     `json:"gateway"`
	State           string     `json:"state"`
	FailureCount    int        `json:"failureCount"`
	LastFailureTime *time.Time `json:"lastFailureTime,omitempty"`
}

func toCircuitView(st circuitbreaker.Status) circuitView {
	v := circuitView{
		Gateway:      st.Name,
		State:        string(st.State),
		FailureCount: st.FailureCount,
	}
	if !st.LastFailureTime.IsZero() {
		t := st.LastFailureTime
		v.LastFailureTime = &t
	}
	return v
}

func (h *handlers) listCircuits(w http.ResponseWriter, r *http.Request) {
	statuses := h.gateways.CircuitStatuses()
	out := make([]circuitView, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, toCircuitView(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"circuits": out})
}

// gatewayParam parses the {gateway} URL parameter, writing the error
// response itself when the type is unknown.
func gatewayParam(w http.ResponseWriter, r *http.Request) (gateway.Type, bool) {
	t, err := gateway.ParseType(chi.URLParam(r, "gateway"))
	if err != nil {
		errors.WriteError(w, errors.ErrCodeUnsupportedGateway, err.Error(), nil)
		return "", false
	}
	return t, true
}

func (h *handlers) getCircuit(w http.ResponseWriter, r *http.Request) {
	t, ok := gatewayParam(w, r)
	if !ok {
		return
	}
	st, err := h.gateways.GetCircuitStatus(t)
	if err != nil {
		errors.WriteError(w, errors.ErrCodeUnsupportedGateway, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, toCircuitView(st))
}

func (h *handlers) resetCircuit(w http.ResponseWriter, r *http.Request) {
	h.circuitAction(w, r, "reset", h.gateways.ResetCircuitBreaker)
}

func (h *handlers) forceCircuitOpen(w http.ResponseWriter, r *http.Request) {
	h.circuitAction(w, r, "force_open", h.gateways.ForceCircuitOpen)
}

func (h *handlers) forceCircuitClosed(w http.ResponseWriter, r *http.Request) {
	h.circuitAction(w, r, "force_close", h.gateways.ForceCircuitClosed)
}

func (h *handlers) circuitAction(w http.ResponseWriter, r *http.Request, action string, apply func(gateway.Type) error) {
	t, ok := gatewayParam(w, r)
	if !ok {
		return
	}
	if err := apply(t); err != nil {
		errors.WriteError(w, errors.ErrCodeUnsupportedGateway, err.Error(), nil)
		return
	}
	h.logger.Info().Str("gateway", t.String()).Str("action", action).Msg("admin.circuit_action")

	st, err := h.gateways.GetCircuitStatus(t)
	if err != nil {
		errors.WriteError(w, errors.ErrCodeUnsupportedGateway, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, toCircuitView(st))
}

func (h *handlers) getRefund(w http.ResponseWriter, r *http.Request) {
	ref, err := h.refunds.Get(r.Context(), chi.URLParam(r, "refundID"))
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ref)
}

func (h *handlers) searchRefunds(w http.ResponseWriter, r *http.Request) {
	q := refund.Query{
		MerchantID:    r.URL.Query().Get("merchantId"),
		TransactionID: r.URL.Query().Get("transactionId"),
		Status:        state.Status(r.URL.Query().Get("status")),
		Method:        methods.RefundMethod(r.URL.Query().Get("method")),
	}
	page := refund.Page{
		Offset: intParam(r, "offset", 0),
		Limit:  intParam(r, "limit", 50),
	}

	results, err := h.refunds.Search(r.Context(), q, page)
	if err != nil {
		errors.WriteFromError(w, err)
		return
	}
	if results == nil {
		results = []*refund.Refund{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refunds": results,
		"offset":  page.Offset,
		"limit":   page.Limit,
	})
}

func intParam(r *http.Request, name string, fallback int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func (h *handlers) clearCredentialCache(w http.ResponseWriter, r *http.Request) {
	h.creds.ClearCache()
	h.logger.Info().Msg("admin.credential_cache_cleared")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (h *handlers) invalidateCredentials(w http.ResponseWriter, r *http.Request) {
	t, err := gateway.ParseType(chi.URLParam(r, "gateway"))
	if err != nil {
		errors.WriteError(w, errors.ErrCodeUnsupportedGateway, err.Error(), nil)
		return
	}
	merchantID := chi.URLParam(r, "merchantID")
	h.creds.Invalidate(merchantID, t.String())
	h.logger.Info().
		Str("merchant_id", merchantID).
		Str("gateway", t.String()).
		Msg("admin.credentials_invalidated")
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}
