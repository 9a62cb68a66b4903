package routing

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

func TestPlan_Local(t *testing.T) {
	plan := Plan("KE", "KE", decimal.NewFromInt(50))

	assert.Equal(t, intent.RouteLocal, plan.RouteType)
	assert.Equal(t, intent.FeeSpeed, plan.FeeOptimization)
	assert.Equal(t, 1, plan.SourceRegionCode)
	assert.Equal(t, 1, plan.DestinationRegionCode)
	// max(45, round(20 + 25))
	assert.Equal(t, int64(45), plan.ExpectedLatencySeconds)
	assert.Equal(t, DefaultPair.SourceStable, plan.SourceStable)
}

func TestPlan_CrossBorderLargeValue(t *testing.T) {
	plan := Plan("KE", "UG", decimal.NewFromInt(150))

	assert.Equal(t, intent.RouteCrossBorder, plan.RouteType)
	assert.Equal(t, intent.FeeLow, plan.FeeOptimization)
	assert.Equal(t, "cUSD", plan.SourceStable)
	assert.Equal(t, "USDm", plan.DestinationStable)
	// max(120, 35 + 300)
	assert.Equal(t, int64(335), plan.ExpectedLatencySeconds)
}

func TestPlan_CrossBorderSmallValueIsBalanced(t *testing.T) {
	plan := Plan("NG", "PH", decimal.NewFromInt(10))

	assert.Equal(t, intent.FeeBalanced, plan.FeeOptimization)
	assert.Equal(t, "USDm", plan.SourceStable)
	assert.Equal(t, "PHPm", plan.DestinationStable)
	assert.Equal(t, int64(120), plan.ExpectedLatencySeconds)
}

func TestPlan_LatencyRounding(t *testing.T) {
	tests := []struct {
		name        string
		src, dst    string
		value       string
		wantLatency int64
	}{
		{"local below floor", "KE", "KE", "0", 45},
		{"local rounds half up", "KE", "KE", "51", 46}, // 20 + 25.5
		{"local large", "GH", "GH", "1000", 520},       // 20 + 500
		{"cross floor", "KE", "TZ", "1", 120},          // 35 + 2
		{"cross rounds", "KE", "TZ", "60.25", 156},     // 35 + 120.5
		{"cross above floor", "TZ", "KE", "100", 235},  // 35 + 200
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			plan := Plan(tt.src, tt.dst, decimal.RequireFromString(tt.value))
			assert.Equal(t, tt.wantLatency, plan.ExpectedLatencySeconds)
		})
	}
}

func TestPlan_FeeBoundaryIsStrict(t *testing.T) {
	assert.Equal(t, intent.FeeSpeed, Plan("KE", "KE", decimal.NewFromInt(100)).FeeOptimization)
	assert.Equal(t, intent.FeeLow, Plan("KE", "KE", decimal.RequireFromString("100.01")).FeeOptimization)
}

func TestPlan_UnknownRegionsAndCorridor(t *testing.T) {
	plan := Plan("US", "MX", decimal.NewFromInt(5))

	assert.Equal(t, UnknownRegionCode, plan.SourceRegionCode)
	assert.Equal(t, UnknownRegionCode, plan.DestinationRegionCode)
	assert.Equal(t, DefaultPair.SourceStable, plan.SourceStable)
	assert.Equal(t, DefaultPair.DestinationStable, plan.DestinationStable)
	assert.True(t, plan.CrossBorder())
}

func TestCorridor_IsOrdered(t *testing.T) {
	_, ok := Corridor("KE", "TZ")
	assert.True(t, ok)

	pair, ok := Corridor("TZ", "KE")
	assert.False(t, ok)
	assert.Equal(t, DefaultPair, pair)
}

type countingPlanner struct{ calls int }

func (c *countingPlanner) Plan(source, destination string, value decimal.Decimal) intent.RoutePlan {
	c.calls++
	return Plan(source, destination, value)
}

func TestMemoized_CachesByNormalizedValue(t *testing.T) {
	inner := &countingPlanner{}
	memo, err := NewMemoized(inner, 8)
	require.NoError(t, err)

	first := memo.Plan("KE", "UG", decimal.RequireFromString("2"))
	second := memo.Plan("KE", "UG", decimal.RequireFromString("2.0"))
	memo.Plan("KE", "UG", decimal.RequireFromString("3"))

	assert.Equal(t, first, second)
	assert.Equal(t, 2, inner.calls)
	assert.Equal(t, 2, memo.Len())
}

func TestMemoized_Defaults(t *testing.T) {
	memo, err := NewMemoized(nil, 0)
	require.NoError(t, err)
	assert.Equal(t, Plan("KE", "KE", decimal.NewFromInt(1)), memo.Plan("KE", "KE", decimal.NewFromInt(1)))
}

func TestPlan_LatencySaturatesForHugeValues(t *testing.T) {
	huge := decimal.RequireFromString("1e20")
	assert.Equal(t, int64(math.MaxInt64), Plan("KE", "UG", huge).ExpectedLatencySeconds)
	assert.Equal(t, int64(math.MaxInt64), Plan("KE", "KE", huge).ExpectedLatencySeconds)
}
