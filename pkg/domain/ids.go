// Package domain holds the shared domain primitives of the KYC service.
// IDs are validated at trust boundaries so downstream code can assume
// they are well-formed.
package domain

import (
	"github.com/google/uuid"

	dErrors "kycflow/pkg/domain-errors"
)

// CaseID identifies a single verification case.
type CaseID uuid.UUID

// SubjectID identifies the person being verified. The subject is opaque
// to this service; marketplace semantics live elsewhere.
type SubjectID string

// EventID is a vendor-supplied webhook event identifier, used as the
// dedup key. It is opaque and scoped per vendor.
type EventID string

// NewCaseID generates a fresh case identifier.
func NewCaseID() CaseID {
	return CaseID(uuid.New())
}

// ParseCaseID validates and returns a CaseID.
func ParseCaseID(s string) (CaseID, error) {
	if s == "" {
		return CaseID{}, dErrors.New(dErrors.CodeInvalidInput, "case_id is required")
	}
	parsed, err := uuid.Parse(s)
	if err != nil {
		return CaseID{}, dErrors.New(dErrors.CodeInvalidInput, "case_id must be a valid UUID")
	}
	if parsed == uuid.Nil {
		return CaseID{}, dErrors.New(dErrors.CodeInvalidInput, "case_id must not be the nil UUID")
	}
	return CaseID(parsed), nil
}

func (id CaseID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the ID is the zero value.
func (id CaseID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// ParseSubjectID validates a subject identifier. Subjects are opaque
// strings but must be non-empty and bounded.
func ParseSubjectID(s string) (SubjectID, error) {
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject_id is required")
	}
	if len(s) > 128 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "subject_id exceeds 128 characters")
	}
	return SubjectID(s), nil
}

func (id SubjectID) String() string {
	return string(id)
}

func (id EventID) String() string {
	return string(id)
}
