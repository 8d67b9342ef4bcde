package simulation

// BranchFactors are the intermediate multipliers a branch derives before the
// shared projection arithmetic runs.
type BranchFactors struct {
	InventoryHoldingCostRate float64 `json:"inventory_holding_cost_rate"`
	LeadTimeFactor           float64 `json:"lead_time_factor"`
	ScaleBonus               float64 `json:"scale_bonus"`
	Elasticity               float64 `json:"elasticity"`
	InflationFactor          float64 `json:"inflation_factor"`
}

type strategyTable struct {
	HoldingRate float64
	LeadTime    float64
	Scale       float64
}

var industrialStrategies = map[Strategy]strategyTable{
	StrategyPullKanban: {HoldingRate: 0.04, LeadTime: 0.85, Scale: 1.05},
	StrategyPushMRP:    {HoldingRate: 0.28, LeadTime: 1.20, Scale: 1.15},
	StrategyDefault:    {HoldingRate: 0.15, LeadTime: 1.00, Scale: 1.00},
}

const (
	industrialElasticity  = -1.2
	commercialElasticity  = -1.6
	commercialHoldingRate = 0.10
)

func branchFactors(branch Branch, strategy Strategy, eco EcosystemConfig) BranchFactors {
	if branch == BranchIndustrial {
		return industrialFactors(strategy, eco)
	}
	return commercialFactors(eco)
}

func industrialFactors(strategy Strategy, eco EcosystemConfig) BranchFactors {
	t, ok := industrialStrategies[strategy]
	if !ok {
		t = industrialStrategies[StrategyDefault]
	}
	return BranchFactors{
		InventoryHoldingCostRate: t.HoldingRate,
		LeadTimeFactor:           t.LeadTime,
		ScaleBonus:               t.Scale,
		Elasticity:               industrialElasticity,
		InflationFactor:          1 + eco.InflationRate,
	}
}

// Inflation makes retail buyers more price sensitive.
func commercialFactors(eco EcosystemConfig) BranchFactors {
	return BranchFactors{
		InventoryHoldingCostRate: commercialHoldingRate,
		LeadTimeFactor:           1.0,
		ScaleBonus:               1.0,
		Elasticity:               commercialElasticity * (1 + eco.InflationRate),
		InflationFactor:          1 + eco.InflationRate,
	}
}
