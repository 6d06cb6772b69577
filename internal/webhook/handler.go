package webhook

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"kycflow/internal/provider"
	"kycflow/internal/webhook/metrics"
	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
	"kycflow/pkg/platform/httputil"
	"kycflow/pkg/requestcontext"
)

// maxCallbackBytes bounds vendor callback payloads.
const maxCallbackBytes = 256 * 1024

// signatureHeaders names each vendor's HMAC header. Vendors absent from
// the map never deliver webhooks; their route answers 404.
var signatureHeaders = map[domain.VendorID]string{
	domain.VendorAlpha: "X-Vendor-Signature",
	domain.VendorBeta:  "X-Beta-Signature",
	domain.VendorDelta: "X-Delta-Auth",
}

// Reconciler accepts a verified callback for asynchronous settlement.
// The handler must answer the vendor fast; the heavy work happens on
// the worker pool.
type Reconciler interface {
	EnqueueReconcile(vendor domain.VendorID, cb provider.CallbackVerified)
}

// Handler is the webhook ingress endpoint.
type Handler struct {
	registry   *provider.Registry
	store      Store
	dedup      *RedisDedup // optional fast path
	reconciler Reconciler
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// Option configures a Handler.
type Option func(*Handler)

// WithDedupCache installs the redis duplicate fast path.
func WithDedupCache(dedup *RedisDedup) Option {
	return func(h *Handler) { h.dedup = dedup }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// New constructs the webhook handler.
func New(registry *provider.Registry, store Store, reconciler Reconciler, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		registry:   registry,
		store:      store,
		reconciler: reconciler,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the ingress endpoint on the router.
func (h *Handler) Register(r chi.Router) {
	r.Post("/kyc/webhooks/{vendor}", h.HandleCallback)
}

// webhookResponse acknowledges a delivery.
type webhookResponse struct {
	Status string `json:"status"`
}

// HandleCallback handles POST /kyc/webhooks/{vendor}. The signature is
// checked over the exact raw bytes before anything is decoded; nothing
// mutates state until the HMAC passes.
func (h *Handler) HandleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	vendor, err := domain.ParseVendorID(chi.URLParam(r, "vendor"))
	if err != nil {
		h.metrics.IncrementReceived("unknown", "unknown_vendor")
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "unknown vendor"))
		return
	}
	header, hasWebhooks := signatureHeaders[vendor]
	entry, registered := h.registry.Get(vendor)
	if !hasWebhooks || !registered {
		h.metrics.IncrementReceived(vendor.String(), "unknown_vendor")
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "vendor does not deliver webhooks"))
		return
	}

	if !strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		h.metrics.IncrementReceived(vendor.String(), "bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "Content-Type must be application/json"))
		return
	}
	signature := r.Header.Get(header)
	if signature == "" {
		h.metrics.IncrementReceived(vendor.String(), "bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "missing signature header"))
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxCallbackBytes))
	if err != nil {
		h.metrics.IncrementReceived(vendor.String(), "bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "unreadable body"))
		return
	}

	var cb provider.CallbackVerified
	switch result := entry.Adapter.ParseCallback(raw, signature).(type) {
	case provider.CallbackVerified:
		cb = result
	case provider.CallbackRejected:
		if result.Reason == provider.RejectedSignature {
			h.logger.WarnContext(ctx, "webhook signature rejected",
				"request_id", requestID,
				"vendor", vendor,
			)
			h.metrics.IncrementReceived(vendor.String(), "invalid_signature")
			httputil.WriteError(w, dErrors.New(dErrors.CodeSignatureInvalid, "signature mismatch"))
			return
		}
		h.metrics.IncrementReceived(vendor.String(), "bad_request")
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "malformed callback: "+result.Reason))
		return
	default:
		httputil.WriteError(w, dErrors.New(dErrors.CodeInternal, "unexpected callback result"))
		return
	}

	if h.dedup != nil && h.dedup.Seen(ctx, vendor, cb.EventID) {
		h.metrics.IncrementReceived(vendor.String(), "duplicate")
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Status: "duplicate"})
		return
	}

	first, err := h.store.Insert(ctx, &Event{
		Vendor:     vendor,
		EventID:    cb.EventID,
		Payload:    raw,
		ReceivedAt: time.Now().UTC(),
	})
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook dedup insert failed",
			"request_id", requestID,
			"vendor", vendor,
			"event_id", cb.EventID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	if !first {
		h.metrics.IncrementReceived(vendor.String(), "duplicate")
		httputil.WriteJSON(w, http.StatusOK, webhookResponse{Status: "duplicate"})
		return
	}

	if h.dedup != nil {
		h.dedup.Mark(ctx, vendor, cb.EventID)
	}
	h.reconciler.EnqueueReconcile(vendor, cb)

	h.logger.InfoContext(ctx, "webhook accepted",
		"request_id", requestID,
		"vendor", vendor,
		"event_id", cb.EventID,
		"external_ref", cb.ExternalRef,
	)
	h.metrics.IncrementReceived(vendor.String(), "accepted")
	httputil.WriteJSON(w, http.StatusOK, webhookResponse{Status: "accepted"})
}
