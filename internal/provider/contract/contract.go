// Package contract provides a reusable validation suite every vendor
// adapter must pass. Adapter test packages point the suite at an
// httptest vendor stub and get the cross-cutting guarantees (outcome
// shape, signature discipline, cost monotonicity) checked uniformly.
package contract

import (
	"context"
	"testing"

	"kycflow/internal/provider"
	"kycflow/pkg/domain"
)

// VerifyCase is one scripted Verify call with a custom validation.
type VerifyCase struct {
	Name     string
	Request  provider.VerifyRequest
	Validate func(t *testing.T, outcome provider.VerifyOutcome)
}

// Suite bundles the contract checks for one adapter.
type Suite struct {
	Adapter provider.Adapter
	Vendor  domain.VendorID
	Cases   []VerifyCase
}

// Run executes every scripted case plus the uniform checks.
func (s *Suite) Run(t *testing.T) {
	t.Run("identity", func(t *testing.T) {
		if got := s.Adapter.ID(); got != s.Vendor {
			t.Fatalf("adapter reports vendor %s, want %s", got, s.Vendor)
		}
		if len(s.Adapter.Capabilities()) == 0 {
			t.Fatal("adapter declares no capabilities")
		}
	})

	for _, tc := range s.Cases {
		t.Run(tc.Name, func(t *testing.T) {
			outcome := s.Adapter.Verify(context.Background(), tc.Request)
			if outcome == nil {
				t.Fatal("Verify returned nil outcome")
			}
			if d, ok := outcome.(provider.Decided); ok {
				if d.Confidence < 0 || d.Confidence > 1 {
					t.Fatalf("confidence %f out of range [0, 1]", d.Confidence)
				}
				if d.CostCharged.IsNegative() {
					t.Fatalf("negative cost %s", d.CostCharged)
				}
			}
			if tc.Validate != nil {
				tc.Validate(t, outcome)
			}
		})
	}
}

// CheckCostMonotone asserts that adding a capability never lowers the
// estimated cost.
func CheckCostMonotone(t *testing.T, adapter provider.Adapter) {
	t.Helper()

	base := provider.VerifyRequest{Required: domain.NewCapabilitySet(domain.CapDocuments)}
	wider := provider.VerifyRequest{Required: domain.NewCapabilitySet(domain.CapDocuments, domain.CapBiometric)}

	if adapter.EstimatedCost(wider).LessThan(adapter.EstimatedCost(base)) {
		t.Fatalf("estimated cost shrank when biometric was added: %s < %s",
			adapter.EstimatedCost(wider), adapter.EstimatedCost(base))
	}
}

// CheckCallbackTamperRejected asserts that flipping one byte of a
// validly signed body yields a signature rejection, never a parse.
func CheckCallbackTamperRejected(t *testing.T, adapter provider.Adapter, body []byte, signature string) {
	t.Helper()

	if _, ok := adapter.ParseCallback(body, signature).(provider.CallbackVerified); !ok {
		t.Fatal("baseline callback did not verify; tamper check is meaningless")
	}

	tampered := append([]byte(nil), body...)
	tampered[len(tampered)/2] ^= 0x01

	result := adapter.ParseCallback(tampered, signature)
	rejected, ok := result.(provider.CallbackRejected)
	if !ok {
		t.Fatalf("tampered callback was accepted: %#v", result)
	}
	if rejected.Reason != provider.RejectedSignature {
		t.Fatalf("tampered callback rejected for %q, want %q", rejected.Reason, provider.RejectedSignature)
	}
}
