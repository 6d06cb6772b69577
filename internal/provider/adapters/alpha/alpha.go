// Package alpha integrates the "alpha" verification vendor: JSON REST,
// documents + biometric + PEP screening with Brazil coverage. Alpha
// decides synchronously when its automated pipeline is confident and
// falls back to a webhook otherwise.
package alpha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/internal/provider"
	"kycflow/pkg/domain"
)

const signaturePrefix = "sha256="

// Adapter speaks alpha's wire protocol.
type Adapter struct {
	cfg           provider.VendorConfig
	apiKey        string
	webhookSecret string
	client        *provider.Client
	baseURL       string
}

// New builds the alpha adapter.
func New(cfg provider.VendorConfig, apiKey, webhookSecret, baseURL string) *Adapter {
	return &Adapter{
		cfg:           cfg,
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		client:        provider.NewClient(cfg),
		baseURL:       strings.TrimSuffix(baseURL, "/"),
	}
}

func (a *Adapter) ID() domain.VendorID {
	return domain.VendorAlpha
}

func (a *Adapter) Capabilities() domain.CapabilitySet {
	return a.cfg.Capabilities
}

func (a *Adapter) EstimatedCost(req provider.VerifyRequest) decimal.Decimal {
	return a.cfg.EstimateCost(req.Required)
}

type verifyRequest struct {
	CaseID     string            `json:"case_id"`
	Subject    string            `json:"subject"`
	Checks     []string          `json:"checks"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type verifyResponse struct {
	Status    string  `json:"status"` // "decided" | "pending"
	Reference string  `json:"reference,omitempty"`
	ETASecs   int     `json:"eta_seconds,omitempty"`
	Decision  *struct {
		Approved   bool    `json:"approved"`
		Confidence float64 `json:"confidence"`
		PEPMatch   bool    `json:"pep_match"`
		Cost       string  `json:"cost"`
	} `json:"decision,omitempty"`
}

func (a *Adapter) Verify(ctx context.Context, req provider.VerifyRequest) provider.VerifyOutcome {
	payload, err := json.Marshal(verifyRequest{
		CaseID:     req.CaseID.String(),
		Subject:    req.SubjectID.String(),
		Checks:     req.Required.Strings(),
		Attributes: req.Attributes,
	})
	if err != nil {
		return provider.Failed{Kind: provider.FailureBadRequest, Detail: "encode request"}
	}

	resp, kind := a.client.Do(ctx, http.MethodPost, a.baseURL+"/v1/verifications", map[string]string{
		"Authorization": "Bearer " + a.apiKey,
		"Content-Type":  "application/json",
	}, payload)
	if kind != "" {
		return provider.Failed{Kind: kind, Detail: "verification dispatch"}
	}
	if kind := provider.ClassifyStatus(resp.Status); kind != "" {
		return provider.Failed{Kind: kind, LatencyMS: resp.LatencyMS, Detail: fmt.Sprintf("status %d", resp.Status)}
	}

	var decoded verifyResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "malformed response body"}
	}

	switch decoded.Status {
	case "decided":
		if decoded.Decision == nil {
			return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "decided without decision"}
		}
		cost, err := decimal.NewFromString(decoded.Decision.Cost)
		if err != nil {
			return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "unparseable cost"}
		}
		return provider.Decided{
			Success:     decoded.Decision.Approved,
			Confidence:  clamp01(decoded.Decision.Confidence),
			PEPMatch:    decoded.Decision.PEPMatch,
			CostCharged: cost,
			LatencyMS:   resp.LatencyMS,
		}
	case "pending":
		if decoded.Reference == "" {
			return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "pending without reference"}
		}
		eta := time.Duration(decoded.ETASecs) * time.Second
		if eta <= 0 {
			eta = 30 * time.Second
		}
		return provider.Pending{ExternalRef: decoded.Reference, ExpectedWithin: eta, LatencyMS: resp.LatencyMS}
	default:
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "unknown status " + decoded.Status}
	}
}

type callbackPayload struct {
	EventID    string  `json:"event_id"`
	Reference  string  `json:"reference"`
	Approved   bool    `json:"approved"`
	Confidence float64 `json:"confidence"`
	PEPMatch   bool    `json:"pep_match"`
	Cost       string  `json:"cost"`
}

// ParseCallback validates alpha's "X-Vendor-Signature: sha256=<hex>"
// header over the raw body before any decoding happens.
func (a *Adapter) ParseCallback(raw []byte, signature string) provider.CallbackResult {
	sigHex, ok := strings.CutPrefix(signature, signaturePrefix)
	if !ok || !provider.VerifyHex(a.webhookSecret, raw, sigHex) {
		return provider.CallbackRejected{Reason: provider.RejectedSignature}
	}

	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return provider.CallbackRejected{Reason: "malformed"}
	}
	if payload.EventID == "" || payload.Reference == "" {
		return provider.CallbackRejected{Reason: "missing identifiers"}
	}
	cost, err := decimal.NewFromString(payload.Cost)
	if err != nil {
		return provider.CallbackRejected{Reason: "unparseable cost"}
	}

	return provider.CallbackVerified{
		EventID:     domain.EventID(payload.EventID),
		ExternalRef: payload.Reference,
		Success:     payload.Approved,
		Confidence:  clamp01(payload.Confidence),
		PEPMatch:    payload.PEPMatch,
		CostCharged: cost,
	}
}

func (a *Adapter) Health(ctx context.Context) provider.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, kind := a.client.Do(ctx, http.MethodGet, a.baseURL+"/v1/health", map[string]string{
		"Authorization": "Bearer " + a.apiKey,
	}, nil)
	if kind != "" {
		return provider.Unhealthy
	}
	switch {
	case resp.Status == http.StatusOK:
		return provider.Healthy
	case resp.Status >= 500:
		return provider.Unhealthy
	default:
		return provider.Degraded
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
