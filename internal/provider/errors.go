package provider

// FailureKind is the normalized vendor failure taxonomy. The
// orchestrator keys retry decisions off it.
type FailureKind string

const (
	// FailureTimeout indicates the vendor took longer than its
	// configured per-call timeout.
	FailureTimeout FailureKind = "timeout"

	// FailureUnauthorized indicates credential or permission problems;
	// retrying the same credentials cannot help.
	FailureUnauthorized FailureKind = "unauthorized"

	// FailureRateLimited indicates the vendor throttled us.
	FailureRateLimited FailureKind = "rate_limited"

	// FailureBadRequest indicates the vendor rejected the payload.
	FailureBadRequest FailureKind = "bad_request"

	// FailureTransport indicates a network-level fault or 5xx.
	FailureTransport FailureKind = "transport"

	// FailureVendorInternal indicates the vendor reported an internal
	// error in an otherwise well-formed response.
	FailureVendorInternal FailureKind = "vendor_internal"
)

// Retryable reports whether a new attempt (possibly on another vendor)
// is worth scheduling. Bad-request and unauthorized failures are
// configuration problems and must surface to an operator instead.
func (k FailureKind) Retryable() bool {
	switch k {
	case FailureTimeout, FailureRateLimited, FailureTransport, FailureVendorInternal:
		return true
	}
	return false
}

// ConfigProblem reports whether the failure flags the vendor for
// operator review.
func (k FailureKind) ConfigProblem() bool {
	return k == FailureUnauthorized || k == FailureBadRequest
}
