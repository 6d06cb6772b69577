// Package gamma integrates the "gamma" verification vendor: biometric
// and PEP screening with international coverage. Gamma is a legacy API
// that takes form-encoded requests and always answers synchronously;
// it never sends webhooks.
package gamma

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/internal/provider"
	"kycflow/pkg/domain"
)

// Adapter speaks gamma's wire protocol.
type Adapter struct {
	cfg     provider.VendorConfig
	apiKey  string
	client  *provider.Client
	baseURL string
}

// New builds the gamma adapter. Gamma has no webhook secret because it
// has no webhooks.
func New(cfg provider.VendorConfig, apiKey, baseURL string) *Adapter {
	return &Adapter{
		cfg:     cfg,
		apiKey:  apiKey,
		client:  provider.NewClient(cfg),
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

func (a *Adapter) ID() domain.VendorID {
	return domain.VendorGamma
}

func (a *Adapter) Capabilities() domain.CapabilitySet {
	return a.cfg.Capabilities
}

func (a *Adapter) EstimatedCost(req provider.VerifyRequest) decimal.Decimal {
	return a.cfg.EstimateCost(req.Required)
}

type screenResponse struct {
	Result string  `json:"result"` // "match" | "no_match" | "review"
	Score  float64 `json:"score"`  // 0.0-1.0
	PEP    bool    `json:"pep"`
	Fee    string  `json:"fee"`
}

func (a *Adapter) Verify(ctx context.Context, req provider.VerifyRequest) provider.VerifyOutcome {
	form := url.Values{}
	form.Set("api_key", a.apiKey)
	form.Set("reference", req.CaseID.String())
	form.Set("subject", req.SubjectID.String())
	form.Set("scopes", strings.Join(req.Required.Strings(), ","))
	for k, v := range req.Attributes {
		form.Set("attr_"+k, v)
	}

	resp, kind := a.client.Do(ctx, http.MethodPost, a.baseURL+"/screen", map[string]string{
		"Content-Type": "application/x-www-form-urlencoded",
	}, []byte(form.Encode()))
	if kind != "" {
		return provider.Failed{Kind: kind, Detail: "screen dispatch"}
	}
	if kind := provider.ClassifyStatus(resp.Status); kind != "" {
		return provider.Failed{Kind: kind, LatencyMS: resp.LatencyMS, Detail: fmt.Sprintf("status %d", resp.Status)}
	}

	var decoded screenResponse
	if err := json.Unmarshal(resp.Body, &decoded); err != nil {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "malformed response body"}
	}
	fee, err := decimal.NewFromString(decoded.Fee)
	if err != nil {
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "unparseable fee"}
	}

	switch decoded.Result {
	case "match", "no_match", "review":
	default:
		return provider.Failed{Kind: provider.FailureVendorInternal, LatencyMS: resp.LatencyMS, Detail: "unknown result " + decoded.Result}
	}

	score := decoded.Score
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return provider.Decided{
		Success:     decoded.Result == "match",
		Confidence:  score,
		PEPMatch:    decoded.PEP,
		CostCharged: fee,
		LatencyMS:   resp.LatencyMS,
	}
}

// ParseCallback always rejects: gamma has no webhook channel, so any
// callback claiming to be gamma is bogus.
func (a *Adapter) ParseCallback(_ []byte, _ string) provider.CallbackResult {
	return provider.CallbackRejected{Reason: "vendor has no webhook channel"}
}

func (a *Adapter) Health(ctx context.Context) provider.HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, kind := a.client.Do(ctx, http.MethodGet, a.baseURL+"/status", nil, nil)
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
