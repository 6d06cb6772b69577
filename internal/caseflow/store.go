package caseflow

import (
	"context"
	"time"

	"kycflow/pkg/domain"
)

// Store persists cases. Terminal rows are immutable: Update refuses to
// touch them and MarkTerminal is conditional, so replays reduce to
// no-ops.
type Store interface {
	// Create inserts a new case. CodeConflict on duplicate id.
	Create(ctx context.Context, c *Case) error

	// Get returns a case by id, or CodeNotFound.
	Get(ctx context.Context, id domain.CaseID) (*Case, error)

	// GetByVendorRef resolves a vendor correlation id to its case, or
	// CodeNotFound. Only async cases have a vendor ref.
	GetByVendorRef(ctx context.Context, vendor domain.VendorID, externalRef string) (*Case, error)

	// Update rewrites a non-terminal case. CodeConflict when the stored
	// row is already terminal.
	Update(ctx context.Context, c *Case) error

	// MarkTerminal writes the terminal row and sets charge_settled in
	// the same statement. Returns false without writing when the stored
	// row is already terminal.
	MarkTerminal(ctx context.Context, c *Case) (bool, error)

	// ListRunnable returns PENDING cases whose retry backoff has
	// elapsed, oldest first.
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*Case, error)

	// ListExpired returns AWAITING_CALLBACK cases past their callback
	// deadline, oldest first.
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Case, error)

	// ListBySubject returns the subject's cases, newest first.
	ListBySubject(ctx context.Context, subject domain.SubjectID) ([]*Case, error)
}
