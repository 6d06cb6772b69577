// Package provider defines the uniform capability surface every
// external verification vendor is wrapped behind. Adapters translate
// heterogeneous vendor wire protocols into the closed outcome types
// below and never let a raw error cross into the orchestrator.
package provider

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
)

// VerifyRequest is the vendor-agnostic verification payload. The
// attribute bag carries opaque storage URIs and content hashes; raw
// document bytes never pass through this service.
type VerifyRequest struct {
	CaseID     domain.CaseID
	SubjectID  domain.SubjectID
	Required   domain.CapabilitySet
	Attributes map[string]string
}

// VerifyOutcome is the closed result union of Adapter.Verify. Exactly
// one of Decided, Pending or Failed comes back from every call.
type VerifyOutcome interface {
	isVerifyOutcome()
}

// Decided is a synchronous terminal outcome from the vendor.
type Decided struct {
	Success     bool
	Confidence  float64 // 0.0-1.0
	PEPMatch    bool
	CostCharged decimal.Decimal
	LatencyMS   int
	Details     map[string]string
}

// Pending means the vendor accepted the job and will deliver the result
// through a signed webhook correlated by ExternalRef.
type Pending struct {
	ExternalRef    string
	ExpectedWithin time.Duration
	LatencyMS      int
}

// Failed is a normalized vendor failure. Kind decides retryability.
type Failed struct {
	Kind      FailureKind
	LatencyMS int
	Detail    string
}

func (Decided) isVerifyOutcome() {}
func (Pending) isVerifyOutcome() {}
func (Failed) isVerifyOutcome()  {}

// CallbackResult is the closed result union of Adapter.ParseCallback.
type CallbackResult interface {
	isCallbackResult()
}

// CallbackVerified is a signature-valid callback mapped to the uniform
// shape. EventID is the vendor-supplied dedup key.
type CallbackVerified struct {
	EventID     domain.EventID
	ExternalRef string
	Success     bool
	Confidence  float64
	PEPMatch    bool
	CostCharged decimal.Decimal
}

// CallbackRejected reports why a callback must not be trusted. A
// signature mismatch is always Reason "signature".
type CallbackRejected struct {
	Reason string
}

func (CallbackVerified) isCallbackResult() {}
func (CallbackRejected) isCallbackResult() {}

// RejectedSignature is the fixed reason for HMAC mismatches; the
// ingress maps it to 401.
const RejectedSignature = "signature"

// HealthStatus is the result of a bounded-time adapter probe.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// Adapter is the universal interface all vendor integrations implement.
// One instance per vendor; no shared state between instances.
type Adapter interface {
	// ID returns the vendor this adapter speaks for.
	ID() domain.VendorID

	// Capabilities returns the verification features the vendor declares.
	Capabilities() domain.CapabilitySet

	// Verify dispatches one verification. The adapter enforces its own
	// per-call timeout and returns Failed rather than an error for any
	// external fault.
	Verify(ctx context.Context, req VerifyRequest) VerifyOutcome

	// ParseCallback validates the HMAC over the exact raw bytes received
	// and, only then, decodes the payload. Signature mismatches come back
	// as CallbackRejected{Reason: "signature"}.
	ParseCallback(raw []byte, signature string) CallbackResult

	// EstimatedCost prices a request before dispatch. Pure over the
	// vendor config and monotone in the features requested.
	EstimatedCost(req VerifyRequest) decimal.Decimal

	// Health probes the vendor within a 5 second budget.
	Health(ctx context.Context) HealthStatus
}

// Poller is implemented by adapters whose vendor exposes a result
// lookup; the orchestrator polls once before expiring a pending case.
type Poller interface {
	Poll(ctx context.Context, externalRef string) VerifyOutcome
}
