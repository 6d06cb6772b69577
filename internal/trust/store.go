package trust

import (
	"context"

	"kycflow/pkg/domain"
)

// Store persists trust profiles.
type Store interface {
	// Get returns the profile, or CodeNotFound for unknown subjects.
	Get(ctx context.Context, subject domain.SubjectID) (*Profile, error)

	// Upsert writes the profile, creating it on first sight.
	Upsert(ctx context.Context, profile *Profile) error
}
