package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/paybridge/internal/audit"
	"github.com/punchamoorthee/paybridge/internal/domain"
	"github.com/punchamoorthee/paybridge/internal/service"
)

const maxBodySize = 64 << 10

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paybridge_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paybridge_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
	}, []string{"method", "endpoint"})

	creditsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "paybridge_credits_total",
		Help: "Payment outcomes by inbound path",
	}, []string{"path", "outcome"})
)

type Payments interface {
	Complete(ctx context.Context, req domain.CompleteRequest) (domain.CreditResult, error)
	HandleNotification(ctx context.Context, raw []byte) (domain.CreditResult, error)
	History(ctx context.Context, username string, page int) (domain.PaymentPage, error)
}

type Agreements interface {
	Record(ctx context.Context, username, ip, userAgent string) (*domain.Agreement, error)
}

type Authenticator interface {
	Check(token string) error
}

// PublicConfig is served to the storefront so it can load the checkout SDK.
type PublicConfig struct {
	ClientID string            `json:"client_id"`
	Currency string            `json:"currency"`
	Sandbox  bool              `json:"sandbox"`
	Images   map[string]string `json:"images"`
}

type Options struct {
	Payments   Payments
	Agreements Agreements
	Auth       Authenticator
	Audit      audit.Sink
	Public     PublicConfig
	Prices     map[string]int64
	TrustProxy bool
}

type Handler struct {
	payments   Payments
	agreements Agreements
	auth       Authenticator
	audit      audit.Sink
	public     PublicConfig
	prices     map[string]int64
	trustProxy bool
}

func NewHandler(o Options) *Handler {
	sink := o.Audit
	if sink == nil {
		sink = audit.Nop
	}
	return &Handler{
		payments:   o.Payments,
		agreements: o.Agreements,
		auth:       o.Auth,
		audit:      sink,
		public:     o.Public,
		prices:     o.Prices,
		trustProxy: o.TrustProxy,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"}, "GET", "/health")
}

func (h *Handler) Config(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.public, "GET", "/config")
}

func (h *Handler) Prices(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.prices, "GET", "/prices")
}

func (h *Handler) Agreement(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/agreement"))
	defer timer.ObserveDuration()

	if err := h.auth.Check(r.Header.Get("X-Auth-Token")); err != nil {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized", "POST", "/agreement")
		return
	}

	var req domain.AgreementRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/agreement")
		return
	}

	a, err := h.agreements.Record(r.Context(), req.Username, h.clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrBadRequest):
			h.respondError(w, http.StatusBadRequest, "Missing username", "POST", "/agreement")
		case errors.Is(err, service.ErrUserNotFound):
			h.respondError(w, http.StatusNotFound, "User not found", "POST", "/agreement")
		default:
			h.internalError(w, "agreement", err, "POST", "/agreement")
		}
		return
	}

	out := *a
	out.AcceptedAt = a.AcceptedAt.UTC()
	h.respondJSON(w, http.StatusOK, struct {
		Success bool `json:"success"`
		domain.Agreement
	}{true, out}, "POST", "/agreement")
}

func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/complete"))
	defer timer.ObserveDuration()

	if err := h.auth.Check(r.Header.Get("X-Auth-Token")); err != nil {
		h.respondError(w, http.StatusForbidden, "Unauthorized", "POST", "/complete")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, "Unreadable body", "POST", "/complete")
		return
	}
	h.audit.Record("complete", "RAW REQUEST: "+string(body)+"\n")

	var req domain.CompleteRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.respondError(w, http.StatusBadRequest, "Invalid JSON", "POST", "/complete")
		return
	}

	res, err := h.payments.Complete(r.Context(), req)
	if err != nil {
		creditsTotal.WithLabelValues("complete", "rejected").Inc()
		status, msg := completeStatus(err)
		if status == http.StatusInternalServerError {
			h.internalError(w, "complete", err, "POST", "/complete")
			return
		}
		h.respondError(w, status, msg, "POST", "/complete")
		return
	}

	creditsTotal.WithLabelValues("complete", res.Outcome.String()).Inc()
	if res.Outcome == domain.AlreadyProcessed {
		h.respondJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Already processed"}, "POST", "/complete")
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]any{"success": true, "points": res.Points}, "POST", "/complete")
}

// completeStatus maps a failure kind to its status and public message.
func completeStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrBadRequest):
		return http.StatusBadRequest, "Missing or invalid fields"
	case errors.Is(err, service.ErrAgreementMismatch):
		return http.StatusForbidden, "Agreement not found"
	case errors.Is(err, service.ErrUserMismatch):
		return http.StatusForbidden, "Order belongs to another user"
	case errors.Is(err, service.ErrCurrencyMismatch):
		return http.StatusBadRequest, "Currency mismatch"
	case errors.Is(err, service.ErrCaptureIncomplete):
		return http.StatusBadRequest, "Payment not completed"
	case errors.Is(err, service.ErrUnrecognizedAmount):
		return http.StatusBadRequest, "Unknown amount"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	default:
		return http.StatusInternalServerError, "Internal Server Error"
	}
}

// Notify is the provider IPN listener. Its plain-text bodies are part of the
// provider protocol.
func (h *Handler) Notify(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("POST", "/ipn"))
	defer timer.ObserveDuration()

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		h.respondText(w, http.StatusBadRequest, "Invalid IPN", "/ipn")
		return
	}

	res, err := h.payments.HandleNotification(r.Context(), raw)
	if err != nil {
		creditsTotal.WithLabelValues("ipn", "rejected").Inc()
		status, msg := notifyStatus(err)
		if status == http.StatusInternalServerError {
			slog.Error("ipn processing failed", "error", err)
		}
		h.respondText(w, status, msg, "/ipn")
		return
	}

	creditsTotal.WithLabelValues("ipn", res.Outcome.String()).Inc()
	h.respondText(w, http.StatusOK, "OK", "/ipn")
}

func notifyStatus(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrInvalidNotification):
		return http.StatusBadRequest, "Invalid IPN"
	case errors.Is(err, service.ErrInvalidData):
		return http.StatusBadRequest, "Invalid data"
	case errors.Is(err, service.ErrInvalidAmount):
		return http.StatusBadRequest, "Invalid amount"
	case errors.Is(err, service.ErrUnauthorized):
		return http.StatusForbidden, "Unauthorized"
	case errors.Is(err, service.ErrUnrecognizedAmount):
		return http.StatusBadRequest, "Unknown amount"
	case errors.Is(err, service.ErrUserNotFound):
		return http.StatusNotFound, "User not found"
	default:
		return http.StatusInternalServerError, "Server error"
	}
}

func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	timer := prometheus.NewTimer(httpLatency.WithLabelValues("GET", "/accounts/{username}/payments"))
	defer timer.ObserveDuration()

	if err := h.auth.Check(r.Header.Get("X-Auth-Token")); err != nil {
		h.respondError(w, http.StatusUnauthorized, "Unauthorized", "GET", "/accounts/{username}/payments")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	out, err := h.payments.History(r.Context(), mux.Vars(r)["username"], page)
	if err != nil {
		if errors.Is(err, service.ErrUserNotFound) {
			h.respondError(w, http.StatusNotFound, "User not found", "GET", "/accounts/{username}/payments")
			return
		}
		h.internalError(w, "history", err, "GET", "/accounts/{username}/payments")
		return
	}
	h.respondJSON(w, http.StatusOK, out, "GET", "/accounts/{username}/payments")
}

// clientIP prefers the address appended by the single trusted proxy.
func (h *Handler) clientIP(r *http.Request) string {
	if h.trustProxy {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			parts := strings.Split(xff, ",")
			if ip := strings.TrimSpace(parts[len(parts)-1]); ip != "" {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// Helpers
func (h *Handler) internalError(w http.ResponseWriter, label string, err error, method, endpoint string) {
	slog.Error("request failed", "endpoint", endpoint, "error", err)
	h.audit.Record(label+"_error", "ERROR: "+err.Error()+"\n")
	h.respondError(w, http.StatusInternalServerError, "Internal Server Error", method, endpoint)
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}, method, endpoint string) {
	httpReqTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(payload)
}

func (h *Handler) respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	h.respondJSON(w, code, map[string]any{"success": false, "error": msg}, method, endpoint)
}

func (h *Handler) respondText(w http.ResponseWriter, code int, msg, endpoint string) {
	httpReqTotal.WithLabelValues("POST", endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(code)
	io.WriteString(w, msg)
}
