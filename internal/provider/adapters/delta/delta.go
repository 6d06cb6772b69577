// Package delta integrates the "delta" verification vendor: the
// full-coverage option (documents, biometric, PEP, BR and
// international). Delta signs webhooks with base64 HMAC in the
// "X-Delta-Auth" header and offers a free tier, which makes it the
// budget fallback when other vendors are exhausted.
package delta

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

// Adapter speaks delta's wire protocol.
type Adapter struct {
	cfg           provider.VendorConfig
	apiKey        string
	webhookSecret string
	client        *provider.Client
	baseURL       string
}

// New builds the delta adapter.
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
	return domain.VendorDelta
}

func (a *Adapter) Capabilities() domain.CapabilitySet {
	return a.cfg.Capabilities
}

func (a *Adapter) EstimatedCost(req provider.VerifyRequest) decimal.Decimal {
	return a.cfg.EstimateCost(req.Required)
}

type verificationRequest struct {
	Ref        string            `json:"ref"`
	Subject    string            `json:"subject"`
	Features   []string          `json:"features"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type verificationResponse struct {
	Verdict    string  `json:"verdict"` // "pass" | "fail" | "review" | "queued"
	Confidence float64 `json:"confidence"`
	PEPHit     bool    `json:"pep_hit"`
	Amount     string  `json:"amount"`
	Ref        string  `json:"ref"`
	EtaSecs    int     `json:"eta_seconds"`
}

func (a *Adapter) Verify(ctx context.Context, req provider.VerifyRequest) provider.VerifyOutcome {
	payload, err := json.Marshal(verificationRequest{
		Ref:        req.CaseID.String(),
		Subject:    req.SubjectID.String(),
		Features:   req.Required.Strings(),
		Attributes: req.Attributes,
	})
	if err != nil {
		return provider.Failed{Kind: provider.FailureBadRequest, Detail: "encode request"}
	}

	// Delta authenticates requests by signing the body with the API key.
	resp, kind := a.client.Do(ctx, http.MethodPost, a.baseURL+"/v2/verify", map[string]string{
		"X-Delta-Auth": provider.SignBase64(a.apiKey, payload),
		"Content-Type": "application/json",
	}, payload)
	if kind != "" {
		return provider.Failed{Kind: kind, Detail: "verify dispatch"}
	}
	if kind := provider.ClassifyStatus(resp.Status); kind != "" {
		return provider.Failed{Kind: kind, LatencyMS: resp.LatencyMS, Detail: fmt.Sprintf("status %d", resp.Status)}
	}

	var decoded verificationResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "malformed response body"}
	}

	if decoded.Verdict == "queued" {
		if decoded.Ref == "" {
			return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "queued without ref"}
		}
		eta := time.Duration(decoded.EtaSecs) * time.Second
		if eta <= 0 {
			eta = 45 * time.Second
		}
		return provider.Pending{ExternalRef: decoded.Ref, ExpectedWithin: eta, LatencyMS: resp.LatencyMS}
	}

	amount, err := decimal.NewFromString(decoded.Amount)
	if err != nil {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "unparseable amount"}
	}
	switch decoded.Verdict {
	case "pass", "fail", "review":
	default:
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "unknown verdict " + decoded.Verdict}
	}

	confidence := decoded.Confidence
	if decoded.Verdict == "review" && confidence >= 0.80 {
		// Delta marks borderline cases "review" with inflated scores;
		// cap so the orchestrator routes them to manual review.
		confidence = 0.79
	}
	return provider.Decided{
		Success:     decoded.Verdict != "fail",
		Confidence:  clamp01(confidence),
		PEPMatch:    decoded.PEPHit,
		CostCharged: amount,
		LatencyMS:   resp.LatencyMS,
	}
}

type callbackPayload struct {
	Event      string  `json:"event"`
	Ref        string  `json:"ref"`
	Verdict    string  `json:"verdict"`
	Confidence float64 `json:"confidence"`
	PEPHit     bool    `json:"pep_hit"`
	Amount     string  `json:"amount"`
}

// ParseCallback validates delta's base64 "X-Delta-Auth" signature.
func (a *Adapter) ParseCallback(raw []byte, signature string) provider.CallbackResult {
	if !provider.VerifyBase64(a.webhookSecret, raw, signature) {
		return provider.CallbackRejected{Reason: provider.RejectedSignature}
	}

	var payload callbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return provider.CallbackRejected{Reason: "malformed"}
	}
	if payload.Event == "" || payload.Ref == "" {
		return provider.CallbackRejected{Reason: "missing identifiers"}
	}
	amount, err := decimal.NewFromString(payload.Amount)
	if err != nil {
		return provider.CallbackRejected{Reason: "unparseable amount"}
	}

	return provider.CallbackVerified{
		EventID:     domain.EventID(payload.Event),
		ExternalRef: payload.Ref,
		Success:     payload.Verdict != "fail",
		Confidence:  clamp01(payload.Confidence),
		PEPMatch:    payload.PEPHit,
		CostCharged: amount,
	}
}

func (a *Adapter) Health(ctx context.Context) provider.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, kind := a.client.Do(ctx, http.MethodGet, a.baseURL+"/v2/health", nil, nil)
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
