package handler

import (
	"time"

	"kycflow/internal/caseflow"
	"kycflow/pkg/domain"
)

// CaseResponse is the HTTP representation of a case. Money renders as a
// two-decimal string.
type CaseResponse struct {
	CaseID         string     `json:"case_id"`
	SubjectID      string     `json:"subject_id"`
	State          string     `json:"state"`
	Vendor         string     `json:"vendor,omitempty"`
	ExternalRef    string     `json:"external_ref,omitempty"`
	Confidence     float64    `json:"confidence"`
	PEPMatch       bool       `json:"pep_match"`
	CostCharged    string     `json:"cost_charged"`
	TerminalReason string     `json:"terminal_reason,omitempty"`
	Retries        int        `json:"retries"`
	CreatedAt      time.Time  `json:"created_at"`
	TerminatedAt   *time.Time `json:"terminated_at,omitempty"`
}

// FromCase converts a domain case to its HTTP response.
func FromCase(c *caseflow.Case) *CaseResponse {
	return &CaseResponse{
		CaseID:         c.ID.String(),
		SubjectID:      c.SubjectID.String(),
		State:          string(c.State),
		Vendor:         c.Vendor.String(),
		ExternalRef:    c.ExternalRef,
		Confidence:     c.Confidence,
		PEPMatch:       c.PEPMatch,
		CostCharged:    domain.FormatBRL(c.CostCharged),
		TerminalReason: string(c.TerminalReason),
		Retries:        c.Retries,
		CreatedAt:      c.CreatedAt,
		TerminatedAt:   c.TerminatedAt,
	}
}
