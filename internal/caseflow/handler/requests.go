package handler

import (
	"strings"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// CreateCaseRequest is the HTTP request body for POST /kyc/cases.
type CreateCaseRequest struct {
	SubjectID    string            `json:"subject_id"`
	Capabilities []string          `json:"required_capabilities"`
	Attributes   map[string]string `json:"attributes"`

	// Parsed values (populated by Validate)
	parsedSubject domain.SubjectID
	parsedCaps    domain.CapabilitySet
}

const (
	maxAttributes        = 32
	maxAttributeValueLen = 512
)

// Validate validates and parses the request.
// Implements the Validatable interface for httputil.DecodeAndPrepare.
func (r *CreateCaseRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}

	subject, err := domain.ParseSubjectID(strings.TrimSpace(r.SubjectID))
	if err != nil {
		return err
	}
	r.parsedSubject = subject

	if len(r.Capabilities) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "required_capabilities must not be empty")
	}
	caps, err := domain.ParseCapabilitySet(r.Capabilities)
	if err != nil {
		return err
	}
	r.parsedCaps = caps

	if len(r.Attributes) > maxAttributes {
		return dErrors.New(dErrors.CodeInvalidInput, "too many attributes")
	}
	for key, value := range r.Attributes {
		if key == "" {
			return dErrors.New(dErrors.CodeInvalidInput, "attribute keys must not be empty")
		}
		if len(value) > maxAttributeValueLen {
			return dErrors.New(dErrors.CodeInvalidInput, "attribute "+key+" exceeds 512 characters")
		}
	}
	return nil
}

// ParsedSubjectID returns the validated subject identifier.
func (r *CreateCaseRequest) ParsedSubjectID() domain.SubjectID {
	return r.parsedSubject
}

// ParsedCapabilities returns the validated capability set.
func (r *CreateCaseRequest) ParsedCapabilities() domain.CapabilitySet {
	return r.parsedCaps
}
