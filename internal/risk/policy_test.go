package risk

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestDerive_HighValue(t *testing.T) {
	p := Derive(intent.ProfileHighValue, dec("10"))

	assert.True(t, p.AutoDisputeValueThreshold.Equal(dec("8")), "got %s", p.AutoDisputeValueThreshold)
	assert.Equal(t, 4, p.RequiredProofSteps)
	assert.True(t, p.StrictSettlementGate)
	assert.Equal(t, intent.SensitivityHigh, p.AnomalySensitivity)
}

func TestDerive_Floors(t *testing.T) {
	tests := []struct {
		profile intent.RiskProfile
		value   string
		want    string
	}{
		{intent.ProfileHighValue, "1", "5"},
		{intent.ProfileCrossBorder, "2", "3"},
		{intent.ProfileCrossBorder, "10", "6"},
		{intent.ProfileReputationSensitive, "0", "2"},
		{intent.ProfileReputationSensitive, "20", "8"},
	}
	for _, tt := range tests {
		t.Run(string(tt.profile)+"/"+tt.value, func(t *testing.T) {
			p := Derive(tt.profile, dec(tt.value))
			assert.True(t, p.AutoDisputeValueThreshold.Equal(dec(tt.want)), "got %s", p.AutoDisputeValueThreshold)
		})
	}
}

func TestDerive_CrossBorderAndReputation(t *testing.T) {
	cb := Derive(intent.ProfileCrossBorder, dec("2"))
	assert.Equal(t, 3, cb.RequiredProofSteps)
	assert.Equal(t, intent.SensitivityMedium, cb.AnomalySensitivity)
	assert.True(t, cb.StrictSettlementGate)

	rep := Derive(intent.ProfileReputationSensitive, dec("2"))
	assert.Equal(t, 3, rep.RequiredProofSteps)
	assert.Equal(t, intent.SensitivityHigh, rep.AnomalySensitivity)
}

func TestDerive_LowRiskIgnoresValue(t *testing.T) {
	for _, v := range []string{"0", "1", "999999"} {
		p := Derive(intent.ProfileLowRisk, dec(v))
		assert.Equal(t, 2, p.RequiredProofSteps)
		assert.False(t, p.StrictSettlementGate)
		assert.Equal(t, intent.SensitivityLow, p.AnomalySensitivity)
		assert.True(t, p.AutoDisputeValueThreshold.Equal(dec("10000")))
	}
}

func TestDerive_UnrecognisedProfileFallsBackToLowRisk(t *testing.T) {
	p := Derive(intent.RiskProfile("SOMETHING_ELSE"), dec("50"))
	assert.Equal(t, intent.RiskProfile("SOMETHING_ELSE"), p.RiskProfile)
	assert.Equal(t, intent.SensitivityLow, p.AnomalySensitivity)
}

func TestInferProfile(t *testing.T) {
	assert.Equal(t, intent.ProfileCrossBorder, InferProfile("KE", "UG", dec("100")))
	assert.Equal(t, intent.ProfileHighValue, InferProfile("KE", "KE", dec("5")))
	assert.Equal(t, intent.ProfileLowRisk, InferProfile("KE", "KE", dec("4.99")))
}

func TestResolve_ExplicitWins(t *testing.T) {
	assert.Equal(t, intent.ProfileReputationSensitive, Resolve(intent.ProfileReputationSensitive, "KE", "UG", dec("1")))
	assert.Equal(t, intent.ProfileCrossBorder, Resolve("", "KE", "UG", dec("1")))
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile(" high_value ")
	require.NoError(t, err)
	assert.Equal(t, intent.ProfileHighValue, p)

	_, err = ParseProfile("reckless")
	assert.True(t, errors.Is(err, ErrUnknownProfile))
}
