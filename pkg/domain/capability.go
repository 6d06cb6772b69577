package domain

import (
	"sort"

	dErrors "kycflow/pkg/domain-errors"
)

// Capability is an atomic verification feature a vendor may offer and a
// request may require.
type Capability string

const (
	CapDocuments    Capability = "documents"
	CapBiometric    Capability = "biometric"
	CapPEPSanctions Capability = "pep_sanctions"
	CapRegionBR     Capability = "region_BR"
	CapRegionINTL   Capability = "region_INTL"
)

// ParseCapability validates a capability string from a request body.
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(s); c {
	case CapDocuments, CapBiometric, CapPEPSanctions, CapRegionBR, CapRegionINTL:
		return c, nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown capability: "+s)
}

func (c Capability) String() string {
	return string(c)
}

// CapabilitySet is an unordered set of capabilities. The zero value is
// the empty set.
type CapabilitySet map[Capability]struct{}

// NewCapabilitySet builds a set from the given capabilities.
func NewCapabilitySet(caps ...Capability) CapabilitySet {
	set := make(CapabilitySet, len(caps))
	for _, c := range caps {
		set[c] = struct{}{}
	}
	return set
}

// ParseCapabilitySet validates a slice of capability strings. An empty
// slice is rejected: a verification request must require something.
func ParseCapabilitySet(raw []string) (CapabilitySet, error) {
	if len(raw) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "required_capabilities must not be empty")
	}
	set := make(CapabilitySet, len(raw))
	for _, s := range raw {
		c, err := ParseCapability(s)
		if err != nil {
			return nil, err
		}
		set[c] = struct{}{}
	}
	return set, nil
}

// Has reports whether the set contains c.
func (s CapabilitySet) Has(c Capability) bool {
	_, ok := s[c]
	return ok
}

// Covers reports whether s is a superset of required. A vendor is
// eligible for a request iff its capabilities cover the request's
// required capabilities.
func (s CapabilitySet) Covers(required CapabilitySet) bool {
	for c := range required {
		if !s.Has(c) {
			return false
		}
	}
	return true
}

// Slice returns the capabilities in sorted order for stable JSON and
// logging output.
func (s CapabilitySet) Slice() []Capability {
	out := make([]Capability, 0, len(s))
	for c := range s {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted capability names.
func (s CapabilitySet) Strings() []string {
	caps := s.Slice()
	out := make([]string, len(caps))
	for i, c := range caps {
		out[i] = string(c)
	}
	return out
}
