// Package risk derives concrete risk policies from a risk profile and an economic value.
package risk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// ErrUnknownProfile is returned by ParseProfile for unrecognised labels.
var ErrUnknownProfile = errors.New("unknown risk profile")

// HighValueFrom is the value at which a local request is treated as HIGH_VALUE.
var HighValueFrom = decimal.NewFromInt(5)

// lowRiskThreshold is effectively "never" for realistic request values.
var lowRiskThreshold = decimal.NewFromInt(10_000)

type profileRow struct {
	floor       decimal.Decimal
	factor      decimal.Decimal
	proofSteps  int
	strictGate  bool
	sensitivity intent.Sensitivity
}

var profiles = map[intent.RiskProfile]profileRow{
	intent.ProfileHighValue: {
		floor:       decimal.NewFromInt(5),
		factor:      decimal.RequireFromString("0.8"),
		proofSteps:  4,
		strictGate:  true,
		sensitivity: intent.SensitivityHigh,
	},
	intent.ProfileCrossBorder: {
		floor:       decimal.NewFromInt(3),
		factor:      decimal.RequireFromString("0.6"),
		proofSteps:  3,
		strictGate:  true,
		sensitivity: intent.SensitivityMedium,
	},
	intent.ProfileReputationSensitive: {
		floor:       decimal.NewFromInt(2),
		factor:      decimal.RequireFromString("0.4"),
		proofSteps:  3,
		strictGate:  true,
		sensitivity: intent.SensitivityHigh,
	},
}

// Derive returns the policy for profile at the given value. Any profile
// without a dedicated row, including LOW_RISK, gets the low-risk policy.
func Derive(profile intent.RiskProfile, value decimal.Decimal) intent.RiskPolicy {
	row, ok := profiles[profile]
	if !ok {
		return intent.RiskPolicy{
			RiskProfile:               profile,
			AutoDisputeValueThreshold: lowRiskThreshold,
			RequiredProofSteps:        2,
			StrictSettlementGate:      false,
			AnomalySensitivity:        intent.SensitivityLow,
		}
	}

	return intent.RiskPolicy{
		RiskProfile:               profile,
		AutoDisputeValueThreshold: decimal.Max(row.floor, value.Mul(row.factor)),
		RequiredProofSteps:        row.proofSteps,
		StrictSettlementGate:      row.strictGate,
		AnomalySensitivity:        row.sensitivity,
	}
}

// InferProfile picks a profile when the caller did not supply one.
func InferProfile(fromRegion, toRegion string, value decimal.Decimal) intent.RiskProfile {
	switch {
	case fromRegion != toRegion:
		return intent.ProfileCrossBorder
	case value.GreaterThanOrEqual(HighValueFrom):
		return intent.ProfileHighValue
	default:
		return intent.ProfileLowRisk
	}
}

// Resolve returns the explicit profile when set, otherwise the inferred one.
func Resolve(explicit intent.RiskProfile, fromRegion, toRegion string, value decimal.Decimal) intent.RiskProfile {
	if explicit != "" {
		return explicit
	}
	return InferProfile(fromRegion, toRegion, value)
}

// ParseProfile validates a profile label. Matching is case-insensitive.
func ParseProfile(s string) (intent.RiskProfile, error) {
	p := intent.RiskProfile(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case intent.ProfileLowRisk, intent.ProfileHighValue, intent.ProfileCrossBorder, intent.ProfileReputationSensitive:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownProfile, s)
}
