// Package domain contains core business types and interfaces.
//
// This file defines subscription tiers and their limits. The limits table
// is a closed, enum-keyed map validated at startup: an unconfigured tier is
// a configuration error, never a silent allow or a runtime nil access.
package domain

import "fmt"

// Tier represents the pricing tier of a subscription.
type Tier string

const (
	TierFree         Tier = "free"
	TierProfessional Tier = "professional"
	TierBusiness     Tier = "business"
	TierPayg         Tier = "pay-as-you-go"
)

// AllTiers lists every tier a User record may reference. ValidateTierLimits
// checks the limits table against this list.
var AllTiers = []Tier{TierFree, TierProfessional, TierBusiness, TierPayg}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierProfessional, TierBusiness, TierPayg:
		return true
	}
	return false
}

// TierLimits defines the usage ceilings for a subscription tier.
// A zero value for any field means that dimension is unbounded; use the
// Unlimited* helpers rather than comparing against zero directly.
type TierLimits struct {
	TranscriptionsPerMonth   int     // hard monthly count cap
	HoursPerMonth            float64 // soft cap for overage tiers, hard for free
	MaxFileDurationMinutes   int     // per-file duration ceiling
	MaxFileSizeBytes         int64   // per-file size ceiling
	OnDemandAnalysesPerMonth int     // monthly cap on on-demand analyses
}

// UnlimitedTranscriptions reports whether the tier has no monthly count cap.
func (l TierLimits) UnlimitedTranscriptions() bool { return l.TranscriptionsPerMonth == 0 }

// UnlimitedHours reports whether the tier has no monthly hours cap.
func (l TierLimits) UnlimitedHours() bool { return l.HoursPerMonth == 0 }

// UnlimitedFileDuration reports whether the tier has no per-file duration cap.
func (l TierLimits) UnlimitedFileDuration() bool { return l.MaxFileDurationMinutes == 0 }

// UnlimitedFileSize reports whether the tier has no per-file size cap.
func (l TierLimits) UnlimitedFileSize() bool { return l.MaxFileSizeBytes == 0 }

// UnlimitedAnalyses reports whether the tier has no monthly analyses cap.
func (l TierLimits) UnlimitedAnalyses() bool { return l.OnDemandAnalysesPerMonth == 0 }

// DefaultTierLimits is the standard limits table. Free is hard-capped on
// every dimension; professional and business share a soft hours cap (usage
// beyond it bills as overage); pay-as-you-go is bounded by prepaid credits
// rather than a monthly allowance.
var DefaultTierLimits = map[Tier]TierLimits{
	TierFree: {
		TranscriptionsPerMonth:   10,
		HoursPerMonth:            5,
		MaxFileDurationMinutes:   30,
		MaxFileSizeBytes:         100 << 20, // 100 MB
		OnDemandAnalysesPerMonth: 5,
	},
	TierProfessional: {
		HoursPerMonth:    60,
		MaxFileSizeBytes: 2 << 30, // 2 GB
	},
	TierBusiness: {
		HoursPerMonth:    120,
		MaxFileSizeBytes: 5 << 30, // 5 GB
	},
	TierPayg: {
		MaxFileSizeBytes: 2 << 30,
	},
}

// ValidateTierLimits verifies that every tier in AllTiers has a row in the
// given table. Called at startup so a missing row fails the boot, not a
// user request.
func ValidateTierLimits(table map[Tier]TierLimits) error {
	const op = "domain.validate_tier_limits"
	for _, tier := range AllTiers {
		if _, ok := table[tier]; !ok {
			return InvalidConfiguration(op, fmt.Sprintf("no limits configured for tier %q", tier))
		}
	}
	return nil
}

// LimitsForTier resolves the limits row for a tier from the given table.
// Returns InvalidConfiguration if the tier has no row; there is no default.
func LimitsForTier(table map[Tier]TierLimits, tier Tier) (TierLimits, error) {
	const op = "domain.limits_for_tier"
	limits, ok := table[tier]
	if !ok {
		return TierLimits{}, InvalidConfiguration(op, fmt.Sprintf("no limits configured for tier %q", tier))
	}
	return limits, nil
}
