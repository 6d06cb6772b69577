package domain

import dErrors "kycflow/pkg/domain-errors"

// VendorID is the closed set of verification vendors this service can
// dispatch to. Adding a vendor means adding an adapter, so the enum is
// deliberately not open-ended.
type VendorID string

const (
	VendorAlpha VendorID = "alpha"
	VendorBeta  VendorID = "beta"
	VendorGamma VendorID = "gamma"
	VendorDelta VendorID = "delta"
)

// AllVendors returns the vendors in stable lexicographic order, which
// the router relies on for deterministic tie-breaking.
func AllVendors() []VendorID {
	return []VendorID{VendorAlpha, VendorBeta, VendorDelta, VendorGamma}
}

// ParseVendorID validates a vendor identifier from an untrusted source
// (URL path, database row).
func ParseVendorID(s string) (VendorID, error) {
	switch v := VendorID(s); v {
	case VendorAlpha, VendorBeta, VendorGamma, VendorDelta:
		return v, nil
	}
	return "", dErrors.New(dErrors.CodeNotFound, "unknown vendor: "+s)
}

func (v VendorID) String() string {
	return string(v)
}
