// Package caseflow owns the verification case: the durable state
// machine from creation through a terminal outcome, the exactly-once
// terminal charge, and the reconciliation of vendor callbacks.
package caseflow

import (
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// State is the case lifecycle state. PENDING covers both a fresh case
// and one waiting out a retry backoff.
type State string

const (
	StatePending          State = "PENDING"
	StateVendorChosen     State = "VENDOR_CHOSEN"
	StateAwaitingCallback State = "AWAITING_CALLBACK"
	StateApproved         State = "APPROVED"
	StateRejected         State = "REJECTED"
	StateManualReview     State = "MANUAL_REVIEW"
	StateExpired          State = "EXPIRED"
	StateFailed           State = "FAILED"
)

// Terminal reports whether the state is immutable.
func (s State) Terminal() bool {
	switch s {
	case StateApproved, StateRejected, StateManualReview, StateExpired, StateFailed:
		return true
	}
	return false
}

// ParseState validates a stored state string.
func ParseState(raw string) (State, error) {
	switch State(raw) {
	case StatePending, StateVendorChosen, StateAwaitingCallback,
		StateApproved, StateRejected, StateManualReview, StateExpired, StateFailed:
		return State(raw), nil
	}
	return "", dErrors.New(dErrors.CodeInternal, "unknown case state "+raw)
}

// TerminalReason explains non-decided terminal states.
type TerminalReason string

const (
	ReasonNone        TerminalReason = ""
	ReasonNoCapacity  TerminalReason = "no_capacity"
	ReasonConfigError TerminalReason = "config_error"
	ReasonSystemError TerminalReason = "system_error"
	ReasonExpired     TerminalReason = "expired"
)

// Case is one verification attempt for one subject.
type Case struct {
	ID         domain.CaseID
	SubjectID  domain.SubjectID
	Required   domain.CapabilitySet
	Attributes map[string]string

	State  State
	Vendor domain.VendorID // empty until selection
	// ExternalRef is the vendor correlation id for async flows.
	ExternalRef string

	Confidence  float64
	PEPMatch    bool
	CostCharged decimal.Decimal
	LatencyMS   int

	TerminalReason TerminalReason
	Retries        int
	NextRetryAt    *time.Time
	// CallbackDeadline is expected_within + grace for pending cases.
	CallbackDeadline *time.Time
	// ChargeSettled is set in the same transaction as the terminal
	// write; it is the exactly-once guard for the stats charge.
	ChargeSettled bool

	CreatedAt    time.Time
	UpdatedAt    time.Time
	TerminatedAt *time.Time
}

// Terminal reports whether the case has reached an immutable state.
func (c *Case) Terminal() bool {
	return c.State.Terminal()
}

// Classify maps a decided outcome to a terminal state. The approval
// threshold is a closed bound: confidence exactly at the threshold
// approves. A PEP hit dominates any confidence.
func Classify(success bool, confidence float64, pepMatch bool, thresholdApprove float64) State {
	if pepMatch {
		return StateManualReview
	}
	if !success || confidence < 0.55 {
		return StateRejected
	}
	if confidence >= thresholdApprove {
		return StateApproved
	}
	return StateManualReview
}
