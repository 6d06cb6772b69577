// Package events carries the domain events other modules react to:
// the trust aggregator consumes case terminations, and an optional
// Kafka sink exports everything for downstream consumers.
package events

import (
	"time"

	"github.com/shopspring/decimal"

	"kycflow/pkg/domain"
)

// Event is the closed union of domain events.
type Event interface {
	// Kind names the event for routing and serialization.
	Kind() string
	// Key groups events for ordered delivery (kafka partition key).
	Key() string
	isEvent()
}

// CaseTerminated fires exactly once per case, when it reaches a
// terminal state.
type CaseTerminated struct {
	CaseID      domain.CaseID
	SubjectID   domain.SubjectID
	Vendor      domain.VendorID
	State       string
	Reason      string
	Confidence  float64
	PEPMatch    bool
	CostCharged decimal.Decimal
	OccurredAt  time.Time
}

func (CaseTerminated) Kind() string  { return "case.terminated" }
func (e CaseTerminated) Key() string { return e.SubjectID.String() }
func (CaseTerminated) isEvent()      {}

// LevelPromoted fires when a subject's trust level strictly increases.
type LevelPromoted struct {
	SubjectID  domain.SubjectID
	From       string
	To         string
	Score      float64
	OccurredAt time.Time
}

func (LevelPromoted) Kind() string  { return "trust.level_promoted" }
func (e LevelPromoted) Key() string { return e.SubjectID.String() }
func (LevelPromoted) isEvent()      {}
