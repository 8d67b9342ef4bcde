// Package simulation projects a team's pro-forma round result from its
// decisions and the arena's macro configuration. Everything here is pure.
package simulation

import (
	"math"
	"sort"
)

const (
	// LegacyRegionDivisor is the fixed region count the average price is taken
	// over, independent of the arena's configured regions.
	LegacyRegionDivisor = 9

	ReferencePrice      = 320.0
	BaseCapacity        = 12_000.0
	BaseStaff           = 50
	EffectiveTaxFactor  = 0.85
	MarketingUnitCost   = 1_000.0
	DefaultActiveTeams  = 8
	laborHoursPerUnit   = 1.0 / 40
	rdImageDivisor      = 20_000.0
	marketingImageScale = 0.5
)

// CalculateProjections returns the deterministic projection for one team.
// indicators may be nil.
func CalculateProjections(d DecisionData, branch Branch, eco EcosystemConfig, indicators *MarketIndicators) ProjectionResult {
	var ind MarketIndicators
	if indicators != nil {
		ind = *indicators
	}
	f := branchFactors(branch, d.Production.Strategy, eco)

	oee := OEE(d.HR.TrainingPercent, d.Production.AutomationLevel)
	avgPrice, totalMarketing := regionTotals(d.Regions)

	imageScore := clamp(50+totalMarketing*marketingImageScale+d.Production.RDInvestment/rdImageDivisor, 0, 100)
	potential := eco.MarketPotential * eco.DemandMultiplier * (1 + ind.DemandVariation/100)
	demand := potential * math.Pow(avgPrice/ReferencePrice, f.Elasticity) * (1 + (imageScore-50)/100)
	if demand < 0 || math.IsNaN(demand) {
		demand = 0
	}

	activity := clamp(d.Production.ActivityLevel, 0, 100) / 100
	extra := clamp(d.Production.ExtraProduction, 0, 100) / 100
	capacity := BaseCapacity * activity * (1 + extra*0.5) * f.ScaleBonus * (0.6 + 0.4*oee/100)

	sales := math.Min(demand, capacity)

	salary := firstPositive(d.HR.Salary, ind.AverageSalary, eco.BaseSalary)
	rawMaterial := firstPositive(ind.RawMaterialPrice, eco.RawMaterialPrice)
	unitVariable := (rawMaterial + salary*laborHoursPerUnit) * f.InflationFactor * f.LeadTimeFactor

	staff := BaseStaff + d.HR.Hired - d.HR.Fired
	if staff < 0 {
		staff = 0
	}
	payroll := float64(staff) * salary
	trainingCost := clamp(d.HR.TrainingPercent, 0, 100) / 100 * payroll
	interest := d.Finance.LoanRequest * eco.InterestRate

	revenue := sales * avgPrice
	variableCost := sales * unitVariable
	fixedCost := payroll + totalMarketing*MarketingUnitCost + trainingCost + interest + d.Production.RDInvestment
	holdingCost := math.Max(0, capacity-sales) * unitVariable * f.InventoryHoldingCostRate
	ebitda := revenue - variableCost - fixedCost - holdingCost
	netProfit := ebitda * EffectiveTaxFactor

	divisor := sales
	if divisor == 0 {
		divisor = 1
	}

	teams := ind.ActiveTeams
	if teams <= 0 {
		teams = DefaultActiveTeams
	}
	share := 0.0
	if total := potential * float64(teams); total > 0 {
		share = clamp(sales/total*100, 0, 100)
	}

	return ProjectionResult{
		Revenue:        revenue,
		VariableCost:   variableCost,
		FixedCost:      fixedCost,
		HoldingCost:    holdingCost,
		EBITDA:         ebitda,
		NetProfit:      netProfit,
		SalesVolume:    sales,
		Demand:         demand,
		Capacity:       capacity,
		OEE:            oee,
		ImageScore:     imageScore,
		UnitCost:       (variableCost + fixedCost + holdingCost) / divisor,
		AvgPrice:       avgPrice,
		TotalMarketing: totalMarketing,
		InventoryRisk:  inventoryRisk(capacity, sales),
		MarketShare:    share,
		CreditRating:   CreditRating(revenue, netProfit, d.Finance.LoanRequest),
		Factors:        f,
	}
}

// OEE maps training and automation percentages onto a 0..100 efficiency score.
func OEE(trainingPercent, automationLevel float64) float64 {
	staffEfficiency := 0.4 + 0.6*clamp(trainingPercent, 0, 100)/100
	automation := clamp(automationLevel, 0, 100) / 100
	return clamp(staffEfficiency*65+automation*35, 0, 100)
}

func regionTotals(regions map[int]RegionDecision) (avgPrice, totalMarketing float64) {
	ids := make([]int, 0, len(regions))
	for id := range regions {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	var priceSum float64
	for _, id := range ids {
		r := regions[id]
		priceSum += r.Price
		totalMarketing += r.Marketing
	}
	avgPrice = priceSum / LegacyRegionDivisor
	if avgPrice <= 0 {
		avgPrice = ReferencePrice
	}
	return avgPrice, totalMarketing
}

func inventoryRisk(capacity, sales float64) InventoryRisk {
	if capacity <= 0 {
		return InventoryRiskLow
	}
	unsold := (capacity - sales) / capacity
	switch {
	case unsold < 0.10:
		return InventoryRiskLow
	case unsold < 0.30:
		return InventoryRiskMedium
	default:
		return InventoryRiskHigh
	}
}

func firstPositive(values ...float64) float64 {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
