// Package trust aggregates terminal verification outcomes into a
// per-subject trust profile: boolean verification flags, a weighted
// score and an ordinal level that never silently decreases.
package trust

import (
	"time"

	"kycflow/pkg/domain"
	dErrors "kycflow/pkg/domain-errors"
)

// Level is the subject's ordinal trust level.
type Level string

const (
	LevelBasic        Level = "BASIC"
	LevelIdentity     Level = "IDENTITY"
	LevelProfessional Level = "PROFESSIONAL"
	LevelElite        Level = "ELITE"
)

var levelRank = map[Level]int{
	LevelBasic:        0,
	LevelIdentity:     1,
	LevelProfessional: 2,
	LevelElite:        3,
}

// Rank orders levels; higher outranks lower.
func (l Level) Rank() int {
	return levelRank[l]
}

// ParseLevel validates a stored level string.
func ParseLevel(raw string) (Level, error) {
	l := Level(raw)
	if _, ok := levelRank[l]; !ok {
		return "", dErrors.New(dErrors.CodeInternal, "unknown trust level "+raw)
	}
	return l, nil
}

// Components holds the verification flags and the confidence backing
// each, as accumulated from approved cases.
type Components struct {
	IdentityVerified     bool    `json:"identity_verified"`
	AddressVerified      bool    `json:"address_verified"`
	BiometricVerified    bool    `json:"biometric_verified"`
	ProfessionalVerified bool    `json:"professional_verified"`
	IdentityConfidence   float64 `json:"identity_confidence"`
	AddressConfidence    float64 `json:"address_confidence"`
	BiometricConfidence  float64 `json:"biometric_confidence"`
	ProfessionalConf     float64 `json:"professional_confidence"`
}

// Score weights: documents 0.4, biometric 0.3, address 0.2,
// professional 0.1.
const (
	weightIdentity     = 0.4
	weightBiometric    = 0.3
	weightAddress      = 0.2
	weightProfessional = 0.1
)

// Score is the weighted sum over verified components.
func (c Components) Score() float64 {
	var score float64
	if c.IdentityVerified {
		score += weightIdentity * c.IdentityConfidence
	}
	if c.BiometricVerified {
		score += weightBiometric * c.BiometricConfidence
	}
	if c.AddressVerified {
		score += weightAddress * c.AddressConfidence
	}
	if c.ProfessionalVerified {
		score += weightProfessional * c.ProfessionalConf
	}
	return score
}

// EarnedLevel returns the highest level whose prerequisites the
// components satisfy. ELITE is never earned here; it is an explicit
// administrative grant.
func (c Components) EarnedLevel() Level {
	if c.IdentityVerified && c.AddressVerified && c.BiometricVerified {
		if c.ProfessionalVerified {
			return LevelProfessional
		}
		return LevelIdentity
	}
	return LevelBasic
}

// Profile is the aggregated trust state of one subject.
type Profile struct {
	SubjectID  domain.SubjectID
	Level      Level
	Score      float64
	Components Components
	UpdatedAt  time.Time
}
