// Package anomaly decides whether an execution should be routed to dispute
// instead of settlement.
package anomaly

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// Finding records which signals fired for a single evaluation.
type Finding struct {
	NoTrace   bool `json:"noTrace"`
	RouteSlow bool `json:"routeSlow"`
	HighValue bool `json:"highValue"`
	Anomalous bool `json:"anomalous"`
}

// Signals returns the names of the signals that fired, in a fixed order.
func (f Finding) Signals() []string {
	var out []string
	if f.NoTrace {
		out = append(out, "insufficient_trace")
	}
	if f.RouteSlow {
		out = append(out, "route_latency")
	}
	if f.HighValue {
		out = append(out, "value_threshold")
	}
	return out
}

func (f Finding) String() string {
	if len(f.Signals()) == 0 {
		return "none"
	}
	return strings.Join(f.Signals(), ",")
}

// Evaluate computes every signal and combines them according to the policy's
// sensitivity. Route latency only counts at HIGH sensitivity.
func Evaluate(stepCount int, value decimal.Decimal, trust intent.TrustRequirements, plan intent.RoutePlan, policy intent.RiskPolicy) Finding {
	f := Finding{
		NoTrace:   stepCount < policy.RequiredProofSteps,
		RouteSlow: plan.ExpectedLatencySeconds > trust.MaxExpectedLatencySeconds,
		HighValue: value.GreaterThanOrEqual(policy.AutoDisputeValueThreshold),
	}

	switch policy.AnomalySensitivity {
	case intent.SensitivityHigh:
		f.Anomalous = f.NoTrace || f.RouteSlow || f.HighValue
	case intent.SensitivityMedium:
		f.Anomalous = f.NoTrace || f.HighValue
	default:
		f.Anomalous = f.NoTrace && f.HighValue
	}
	return f
}

// Detect reports whether the execution described by the arguments is anomalous.
func Detect(stepCount int, value decimal.Decimal, trust intent.TrustRequirements, plan intent.RoutePlan, policy intent.RiskPolicy) bool {
	return Evaluate(stepCount, value, trust, plan, policy).Anomalous
}
