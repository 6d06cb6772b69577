package httptransport

import (
	"context"
	"net/http"
	"time"

	"kycflow/internal/provider"
	"kycflow/internal/webhook"
	"kycflow/pkg/domain"
	"kycflow/pkg/platform/httputil"
)

// CheckFunc probes one infrastructure dependency.
type CheckFunc func(ctx context.Context) error

// throughputWindow is how far back the readiness report counts
// received webhook events.
const throughputWindow = time.Hour

// HealthHandler reports service readiness: the relational store, the
// optional cache, the latest vendor probe results and recent webhook
// ingress throughput.
type HealthHandler struct {
	postgres CheckFunc
	redis    CheckFunc
	registry *provider.Registry
	webhooks webhook.Store
	secrets  map[domain.VendorID]bool
	clock    func() time.Time
}

// NewHealthHandler constructs the readiness endpoint. Nil checks read
// as "disabled" rather than failing; secrets holds whether a webhook
// secret is configured per vendor, never the secret itself.
func NewHealthHandler(postgres, redis CheckFunc, registry *provider.Registry,
	webhooks webhook.Store, secrets map[domain.VendorID]bool) *HealthHandler {
	return &HealthHandler{
		postgres: postgres,
		redis:    redis,
		registry: registry,
		webhooks: webhooks,
		secrets:  secrets,
		clock:    time.Now,
	}
}

// VendorHealth is the per-vendor slice of the readiness report.
type VendorHealth struct {
	Status                  string `json:"status"`
	WebhookSecretConfigured bool   `json:"webhook_secret_configured"`
}

// WebhookThroughput summarizes recent callback ingress.
type WebhookThroughput struct {
	ReceivedLastHour int `json:"received_last_hour"`
}

// HealthResponse is the readiness report.
type HealthResponse struct {
	Status   string                  `json:"status"`
	Postgres string                  `json:"postgres"`
	Redis    string                  `json:"redis"`
	Vendors  map[string]VendorHealth `json:"vendors"`
	Webhooks WebhookThroughput       `json:"webhooks"`
}

// HandleHealth handles GET /kyc/health. The service is ready when the
// relational store answers; vendor health and webhook throughput are
// informational, an outage at one vendor does not make the service
// unready.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := &HealthResponse{Status: "ok"}

	resp.Postgres = h.check(ctx, h.postgres)
	resp.Redis = h.check(ctx, h.redis)
	if resp.Postgres == "failing" {
		resp.Status = "degraded"
	}

	resp.Vendors = make(map[string]VendorHealth)
	if h.registry != nil {
		for _, entry := range h.registry.All() {
			vendor := entry.Config.Vendor
			resp.Vendors[vendor.String()] = VendorHealth{
				Status:                  string(h.registry.HealthOf(vendor)),
				WebhookSecretConfigured: h.secrets[vendor],
			}
		}
	}

	if h.webhooks != nil {
		since := h.clock().Add(-throughputWindow)
		if count, err := h.webhooks.CountReceivedSince(ctx, since); err == nil {
			resp.Webhooks.ReceivedLastHour = count
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *HealthHandler) check(ctx context.Context, fn CheckFunc) string {
	if fn == nil {
		return "disabled"
	}
	if err := fn(ctx); err != nil {
		return "failing"
	}
	return "ok"
}
