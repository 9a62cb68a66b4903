// Package routing maps a region pair and an economic value to a settlement corridor.
package routing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/pramadanif/meshforge/internal/domain/intent"
)

// UnknownRegionCode is assigned to regions missing from the region table.
const UnknownRegionCode = 99

var regionCodes = map[string]int{
	"KE": 1,
	"UG": 2,
	"TZ": 3,
	"NG": 4,
	"PH": 5,
	"GH": 6,
}

// corridors is keyed by "SOURCE:DESTINATION". The pair is ordered.
var corridors = map[string]intent.StablecoinPair{
	"KE:UG": {SourceStable: "cUSD", DestinationStable: "USDm"},
	"NG:PH": {SourceStable: "USDm", DestinationStable: "PHPm"},
	"KE:TZ": {SourceStable: "cUSD", DestinationStable: "TZSm"},
}

// DefaultPair is used for corridors without a dedicated rail.
var DefaultPair = intent.StablecoinPair{SourceStable: "cUSD", DestinationStable: "USDm"}

var (
	crossBorderFloor = decimal.NewFromInt(120)
	crossBorderBase  = decimal.NewFromInt(35)
	crossBorderSlope = decimal.NewFromInt(2)
	localFloor       = decimal.NewFromInt(45)
	localBase        = decimal.NewFromInt(20)
	localSlope       = decimal.RequireFromString("0.5")
	lowFeeAbove      = decimal.NewFromInt(100)
	maxLatency       = decimal.NewFromInt(math.MaxInt64)
)

// Planner produces route plans.
type Planner interface {
	Plan(source, destination string, value decimal.Decimal) intent.RoutePlan
}

// Engine is the table-driven Planner. The zero value is ready to use.
type Engine struct{}

// Plan implements Planner.
func (Engine) Plan(source, destination string, value decimal.Decimal) intent.RoutePlan {
	return Plan(source, destination, value)
}

// RegionCode returns the numeric code of a region, or UnknownRegionCode.
func RegionCode(region string) int {
	if code, ok := regionCodes[region]; ok {
		return code
	}
	return UnknownRegionCode
}

// Corridor returns the stablecoin pair for an ordered region pair and whether a
// dedicated rail exists.
func Corridor(source, destination string) (intent.StablecoinPair, bool) {
	pair, ok := corridors[source+":"+destination]
	if !ok {
		return DefaultPair, false
	}
	return pair, true
}

// Plan computes the route plan for moving value from source to destination.
// It has no side effects.
func Plan(source, destination string, value decimal.Decimal) intent.RoutePlan {
	pair, _ := Corridor(source, destination)
	crossBorder := source != destination

	plan := intent.RoutePlan{
		SourceRegionCode:       RegionCode(source),
		DestinationRegionCode:  RegionCode(destination),
		SourceStable:           pair.SourceStable,
		DestinationStable:      pair.DestinationStable,
		ExpectedLatencySeconds: expectedLatency(value, crossBorder),
		FeeOptimization:        feeOptimization(value, crossBorder),
		RouteType:              intent.RouteLocal,
	}
	if crossBorder {
		plan.RouteType = intent.RouteCrossBorder
	}
	return plan
}

// expectedLatency saturates at math.MaxInt64 seconds.
func expectedLatency(value decimal.Decimal, crossBorder bool) int64 {
	var secs decimal.Decimal
	if crossBorder {
		secs = decimal.Max(crossBorderFloor, crossBorderBase.Add(value.Mul(crossBorderSlope)).Round(0))
	} else {
		secs = decimal.Max(localFloor, localBase.Add(value.Mul(localSlope)).Round(0))
	}
	return decimal.Min(secs, maxLatency).IntPart()
}

func feeOptimization(value decimal.Decimal, crossBorder bool) intent.FeeOptimization {
	switch {
	case value.GreaterThan(lowFeeAbove):
		return intent.FeeLow
	case crossBorder:
		return intent.FeeBalanced
	default:
		return intent.FeeSpeed
	}
}
