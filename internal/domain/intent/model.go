// Package intent holds the value types shared by the routing, risk, commitment
// and orchestration packages.
package intent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RiskProfile labels the risk class an execution is evaluated under.
type RiskProfile string

const (
	ProfileLowRisk             RiskProfile = "LOW_RISK"
	ProfileHighValue           RiskProfile = "HIGH_VALUE"
	ProfileCrossBorder         RiskProfile = "CROSS_BORDER"
	ProfileReputationSensitive RiskProfile = "REPUTATION_SENSITIVE"
)

// Sensitivity is the anomaly sensitivity of a risk policy.
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "LOW"
	SensitivityMedium Sensitivity = "MEDIUM"
	SensitivityHigh   Sensitivity = "HIGH"
)

// FeeOptimization is the fee strategy chosen for a route.
type FeeOptimization string

const (
	FeeSpeed    FeeOptimization = "SPEED"
	FeeBalanced FeeOptimization = "BALANCED"
	FeeLow      FeeOptimization = "LOW_FEE"
)

// RouteType distinguishes local from cross-border settlement.
type RouteType string

const (
	RouteLocal       RouteType = "LOCAL"
	RouteCrossBorder RouteType = "CROSS_BORDER"
)

// ExecutionStep is one off-chain step of an execution trace.
// Payload and Timestamp are optional; the zero value means absent.
type ExecutionStep struct {
	ID        string `json:"id"`
	Label     string `json:"label"`
	Payload   string `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

// StablecoinPair overrides the corridor stablecoins. Empty fields keep the routed value.
type StablecoinPair struct {
	SourceStable      string `json:"sourceStable,omitempty"`
	DestinationStable string `json:"destinationStable,omitempty"`
}

// TrustRequirements are the fully resolved trust settings of a run.
type TrustRequirements struct {
	RequireMerkleProof        bool    `json:"requireMerkleProof" yaml:"require_merkle_proof"`
	MinReputationScore        float64 `json:"minReputationScore" yaml:"min_reputation_score"`
	MaxExpectedLatencySeconds int64   `json:"maxExpectedLatencySeconds" yaml:"max_expected_latency_seconds"`
	AllowAutoDispute          bool    `json:"allowAutoDispute" yaml:"allow_auto_dispute"`
}

// TrustOverrides is a partial TrustRequirements. A nil field leaves the
// underlying layer untouched.
type TrustOverrides struct {
	RequireMerkleProof        *bool    `json:"requireMerkleProof,omitempty" yaml:"require_merkle_proof,omitempty"`
	MinReputationScore        *float64 `json:"minReputationScore,omitempty" yaml:"min_reputation_score,omitempty"`
	MaxExpectedLatencySeconds *int64   `json:"maxExpectedLatencySeconds,omitempty" yaml:"max_expected_latency_seconds,omitempty"`
	AllowAutoDispute          *bool    `json:"allowAutoDispute,omitempty" yaml:"allow_auto_dispute,omitempty"`
}

// ApplyTo returns base with every non-nil field of o substituted.
func (o *TrustOverrides) ApplyTo(base TrustRequirements) TrustRequirements {
	if o == nil {
		return base
	}
	if o.RequireMerkleProof != nil {
		base.RequireMerkleProof = *o.RequireMerkleProof
	}
	if o.MinReputationScore != nil {
		base.MinReputationScore = *o.MinReputationScore
	}
	if o.MaxExpectedLatencySeconds != nil {
		base.MaxExpectedLatencySeconds = *o.MaxExpectedLatencySeconds
	}
	if o.AllowAutoDispute != nil {
		base.AllowAutoDispute = *o.AllowAutoDispute
	}
	return base
}

// Amount is an economic value as supplied by a caller. JSON accepts either a
// number or a decimal string so that no precision is lost before parsing.
type Amount string

// UnmarshalJSON implements json.Unmarshaler.
func (a *Amount) UnmarshalJSON(b []byte) error {
	raw := strings.TrimSpace(string(b))
	switch {
	case raw == "null":
		*a = ""
	case strings.HasPrefix(raw, `"`):
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = Amount(s)
	default:
		*a = Amount(raw)
	}
	return nil
}

// Decimal parses the amount.
func (a Amount) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(string(a)))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value %q: %w", string(a), err)
	}
	return d, nil
}

// ExecutionRequest is a single high-level task handed to the orchestrator.
type ExecutionRequest struct {
	TaskType          string          `json:"taskType"`
	Value             Amount          `json:"value"`
	FromRegion        string          `json:"fromRegion"`
	ToRegion          string          `json:"toRegion"`
	Route             *StablecoinPair `json:"route,omitempty"`
	ExecutionSteps    []ExecutionStep `json:"executionSteps"`
	RiskProfile       RiskProfile     `json:"riskProfile,omitempty"`
	TrustRequirements *TrustOverrides `json:"trustRequirements,omitempty"`
	MetadataURI       string          `json:"metadataURI,omitempty"`
	Title             string          `json:"title,omitempty"`
	Description       string          `json:"description,omitempty"`
	ExistingIntentID  *uint64         `json:"existingIntentId,omitempty"`
}

// RoutePlan is the settlement corridor chosen for a region pair.
type RoutePlan struct {
	SourceRegionCode       int             `json:"sourceRegionCode"`
	DestinationRegionCode  int             `json:"destinationRegionCode"`
	SourceStable           string          `json:"sourceStable"`
	DestinationStable      string          `json:"destinationStable"`
	ExpectedLatencySeconds int64           `json:"expectedLatencySeconds"`
	FeeOptimization        FeeOptimization `json:"feeOptimization"`
	RouteType              RouteType       `json:"routeType"`
}

// CrossBorder reports whether the plan crosses regions.
func (p RoutePlan) CrossBorder() bool {
	return p.RouteType == RouteCrossBorder
}

// RiskPolicy is the policy derived for one request.
type RiskPolicy struct {
	RiskProfile               RiskProfile     `json:"riskProfile"`
	AutoDisputeValueThreshold decimal.Decimal `json:"autoDisputeValueThreshold"`
	RequiredProofSteps        int             `json:"requiredProofSteps"`
	StrictSettlementGate      bool            `json:"strictSettlementGate"`
	AnomalySensitivity        Sensitivity     `json:"anomalySensitivity"`
}
