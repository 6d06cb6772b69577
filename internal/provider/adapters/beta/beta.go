// Package beta integrates the "beta" verification vendor: document
// checks with Brazilian and international coverage. Beta is strictly
// asynchronous; every accepted check resolves through a webhook, and
// the vendor also exposes a result lookup the orchestrator can poll
// once before expiring a case.
package beta

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

// Adapter speaks beta's wire protocol.
type Adapter struct {
	cfg           provider.VendorConfig
	apiKey        string
	webhookSecret string
	client        *provider.Client
	baseURL       string
}

// New builds the beta adapter.
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
	return domain.VendorBeta
}

func (a *Adapter) Capabilities() domain.CapabilitySet {
	return a.cfg.Capabilities
}

func (a *Adapter) EstimatedCost(req provider.VerifyRequest) decimal.Decimal {
	return a.cfg.EstimateCost(req.Required)
}

type checkRequest struct {
	ClientRef string            `json:"client_ref"`
	Person    string            `json:"person"`
	Scopes    []string          `json:"scopes"`
	Documents map[string]string `json:"documents,omitempty"`
}

type checkAccepted struct {
	CheckID string `json:"check_id"`
	ETAMs   int    `json:"eta_ms"`
}

func (a *Adapter) Verify(ctx context.Context, req provider.VerifyRequest) provider.VerifyOutcome {
	payload, err := json.Marshal(checkRequest{
		ClientRef: req.CaseID.String(),
		Person:    req.SubjectID.String(),
		Scopes:    req.Required.Strings(),
		Documents: req.Attributes,
	})
	if err != nil {
		return provider.Failed{Kind: provider.FailureBadRequest, Detail: "encode request"}
	}

	resp, kind := a.client.Do(ctx, http.MethodPost, a.baseURL+"/api/checks", map[string]string{
		"X-Api-Key":    a.apiKey,
		"Content-Type": "application/json",
	}, payload)
	if kind != "" {
		return provider.Failed{Kind: kind, Detail: "check dispatch"}
	}
	if resp.Status != http.StatusAccepted {
		if kind := provider.ClassifyStatus(resp.Status); kind != "" {
			return provider.Failed{Kind: kind, LatencyMS: resp.LatencyMS, Detail: fmt.Sprintf("status %d", resp.Status)}
		}
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: fmt.Sprintf("unexpected status %d", resp.Status)}
	}

	var accepted checkAccepted
	if err := json.Unmarshal(resp.Body, &accepted); err != nil || accepted.CheckID == "" {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "malformed acceptance"}
	}
	eta := time.Duration(accepted.ETAMs) * time.Millisecond
	if eta <= 0 {
		eta = time.Minute
	}
	return provider.Pending{ExternalRef: accepted.CheckID, ExpectedWithin: eta, LatencyMS: resp.LatencyMS}
}

// checkResult is shared by the webhook payload and the poll endpoint.
type checkResult struct {
	ID         string `json:"id"`
	CheckID    string `json:"check_id"`
	Outcome    string `json:"outcome"` // "clear" | "flagged" | "failed"
	Score      int    `json:"score"`   // 0-100
	PEP        bool   `json:"pep"`
	PriceCents int64  `json:"price_cents"`
}

func (r checkResult) toVerified() provider.CallbackVerified {
	return provider.CallbackVerified{
		EventID:     domain.EventID(r.ID),
		ExternalRef: r.CheckID,
		Success:     r.Outcome == "clear",
		Confidence:  float64(r.Score) / 100,
		PEPMatch:    r.PEP || r.Outcome == "flagged",
		CostCharged: decimal.New(r.PriceCents, -2),
	}
}

// ParseCallback validates beta's raw-hex "X-Beta-Signature" header.
func (a *Adapter) ParseCallback(raw []byte, signature string) provider.CallbackResult {
	if !provider.VerifyHex(a.webhookSecret, raw, signature) {
		return provider.CallbackRejected{Reason: provider.RejectedSignature}
	}

	var result checkResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return provider.CallbackRejected{Reason: "malformed"}
	}
	if result.ID == "" || result.CheckID == "" {
		return provider.CallbackRejected{Reason: "missing identifiers"}
	}
	return result.toVerified()
}

// Poll fetches the current result for a pending check. Used exactly
// once per case, right before the pending deadline expires.
func (a *Adapter) Poll(ctx context.Context, externalRef string) provider.VerifyOutcome {
	resp, kind := a.client.Do(ctx, http.MethodGet, a.baseURL+"/api/checks/"+externalRef, map[string]string{
		"X-Api-Key": a.apiKey,
	}, nil)
	if kind != "" {
		return provider.Failed{Kind: kind, Detail: "poll"}
	}
	if kind := provider.ClassifyStatus(resp.Status); kind != "" {
		return provider.Failed{Kind: kind, LatencyMS: resp.LatencyMS, Detail: fmt.Sprintf("poll status %d", resp.Status)}
	}

	var body struct {
		State  string       `json:"state"` // "done" | "pending"
		Result *checkResult `json:"result,omitempty"`
	}
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "malformed poll body"}
	}
	if body.State != "done" || body.Result == nil {
		return provider.Pending{ExternalRef: externalRef, ExpectedWithin: time.Minute, LatencyMS: resp.LatencyMS}
	}

	verified := body.Result.toVerified()
	return provider.Decided{
		Success:     verified.Success,
		Confidence:  verified.Confidence,
		PEPMatch:    verified.PEPMatch,
		CostCharged: verified.CostCharged,
		LatencyMS:   resp.LatencyMS,
	}
}

func (a *Adapter) Health(ctx context.Context) provider.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, kind := a.client.Do(ctx, http.MethodGet, a.baseURL+"/api/ping", map[string]string{
		"X-Api-Key": a.apiKey,
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
