package simulation

import (
	"errors"
	"fmt"
	"strings"
)

type Branch string

const (
	BranchIndustrial   Branch = "industrial"
	BranchCommercial   Branch = "commercial"
	BranchServices     Branch = "services"
	BranchAgribusiness Branch = "agribusiness"
	BranchFinance      Branch = "finance"
	BranchConstruction Branch = "construction"
)

type Strategy string

const (
	StrategyDefault    Strategy = ""
	StrategyPullKanban Strategy = "pull_kanban"
	StrategyPushMRP    Strategy = "push_mrp"
)

var (
	ErrInvalidBranch   = errors.New("unknown branch")
	ErrInvalidStrategy = errors.New("strategy must be pull_kanban, push_mrp or empty")
)

func ParseBranch(v string) (Branch, error) {
	b := Branch(strings.ToLower(strings.TrimSpace(v)))
	switch b {
	case BranchIndustrial, BranchCommercial, BranchServices, BranchAgribusiness, BranchFinance, BranchConstruction:
		return b, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBranch, v)
}

type RegionDecision struct {
	Price     float64 `json:"price" yaml:"price"`
	Term      int     `json:"term" yaml:"term"`
	Marketing float64 `json:"marketing" yaml:"marketing"`
}

type HRDecision struct {
	Hired                int     `json:"hired" yaml:"hired"`
	Fired                int     `json:"fired" yaml:"fired"`
	Salary               float64 `json:"salary" yaml:"salary"`
	TrainingPercent      float64 `json:"training_percent" yaml:"training_percent"`
	ParticipationPercent float64 `json:"participation_percent" yaml:"participation_percent"`
}

type ProductionDecision struct {
	PurchaseMPA     int      `json:"purchase_mpa" yaml:"purchase_mpa"`
	PurchaseMPB     int      `json:"purchase_mpb" yaml:"purchase_mpb"`
	PaymentType     int      `json:"payment_type" yaml:"payment_type"`
	ActivityLevel   float64  `json:"activity_level" yaml:"activity_level"`
	ExtraProduction float64  `json:"extra_production" yaml:"extra_production"`
	RDInvestment    float64  `json:"rd_investment" yaml:"rd_investment"`
	AutomationLevel float64  `json:"automation_level" yaml:"automation_level"`
	Strategy        Strategy `json:"strategy" yaml:"strategy"`
}

type MachineCounts struct {
	Alfa  int `json:"alfa" yaml:"alfa"`
	Beta  int `json:"beta" yaml:"beta"`
	Gamma int `json:"gamma" yaml:"gamma"`
}

type FinanceDecision struct {
	LoanRequest  float64       `json:"loan_request" yaml:"loan_request"`
	Application  float64       `json:"application" yaml:"application"`
	BuyMachines  MachineCounts `json:"buy_machines" yaml:"buy_machines"`
	SellMachines MachineCounts `json:"sell_machines" yaml:"sell_machines"`
}

// DecisionData is one team's input for one round. It is submitted wholesale.
type DecisionData struct {
	Regions    map[int]RegionDecision `json:"regions" yaml:"regions"`
	HR         HRDecision             `json:"hr" yaml:"hr"`
	Production ProductionDecision     `json:"production" yaml:"production"`
	Finance    FinanceDecision        `json:"finance" yaml:"finance"`
}

// Validate checks ranges a form would enforce. The engine itself never fails.
func (d DecisionData) Validate() error {
	for id, r := range d.Regions {
		if r.Price < 0 {
			return fmt.Errorf("region %d: price must be >= 0", id)
		}
		if r.Term < 0 || r.Term > 2 {
			return fmt.Errorf("region %d: term must be 0, 1 or 2", id)
		}
		if r.Marketing < 0 || r.Marketing > 9 {
			return fmt.Errorf("region %d: marketing must be within 0..9", id)
		}
	}
	if d.HR.Hired < 0 || d.HR.Fired < 0 {
		return errors.New("hr: hired and fired must be >= 0")
	}
	if d.HR.TrainingPercent < 0 || d.HR.TrainingPercent > 100 {
		return errors.New("hr: training_percent must be within 0..100")
	}
	if d.Production.ActivityLevel < 0 || d.Production.ActivityLevel > 100 {
		return errors.New("production: activity_level must be within 0..100")
	}
	if d.Production.AutomationLevel < 0 || d.Production.AutomationLevel > 100 {
		return errors.New("production: automation_level must be within 0..100")
	}
	switch d.Production.Strategy {
	case StrategyDefault, StrategyPullKanban, StrategyPushMRP:
	default:
		return ErrInvalidStrategy
	}
	if d.Finance.LoanRequest < 0 {
		return errors.New("finance: loan_request must be >= 0")
	}
	return nil
}

type MachinePrices struct {
	Alfa  float64 `json:"alfa" yaml:"alfa"`
	Beta  float64 `json:"beta" yaml:"beta"`
	Gamma float64 `json:"gamma" yaml:"gamma"`
}

// EcosystemConfig holds the tutor-set macro parameters for an arena round.
type EcosystemConfig struct {
	InflationRate    float64       `json:"inflation_rate" yaml:"inflation_rate"`
	InterestRate     float64       `json:"interest_rate" yaml:"interest_rate"`
	DemandMultiplier float64       `json:"demand_multiplier" yaml:"demand_multiplier"`
	TaxRate          float64       `json:"tax_rate" yaml:"tax_rate"`
	MarketPotential  float64       `json:"market_potential" yaml:"market_potential"`
	RawMaterialPrice float64       `json:"raw_material_price" yaml:"raw_material_price"`
	BaseSalary       float64       `json:"base_salary" yaml:"base_salary"`
	MachinePrices    MachinePrices `json:"machine_prices" yaml:"machine_prices"`
}

// DefaultEcosystem is the macro configuration a new arena starts with. Callers
// decode tutor input on top of it, so keys that are absent keep these values
// while an explicit zero is kept as zero.
func DefaultEcosystem() EcosystemConfig {
	return EcosystemConfig{
		InflationRate:    0.01,
		InterestRate:     0.03,
		DemandMultiplier: 1.0,
		TaxRate:          0.15,
		MarketPotential:  10_000,
		RawMaterialPrice: 60,
		BaseSalary:       1_300,
		MachinePrices: MachinePrices{
			Alfa:  500_000,
			Beta:  1_500_000,
			Gamma: 3_000_000,
		},
	}
}

func (e EcosystemConfig) Validate() error {
	if e.InflationRate < -1 || e.InflationRate > 5 {
		return errors.New("inflation_rate must be within -1..5")
	}
	if e.InterestRate < 0 || e.InterestRate > 5 {
		return errors.New("interest_rate must be within 0..5")
	}
	if e.DemandMultiplier < 0 {
		return errors.New("demand_multiplier must be >= 0")
	}
	if e.TaxRate < 0 || e.TaxRate > 1 {
		return errors.New("tax_rate must be within 0..1")
	}
	if e.MarketPotential < 0 {
		return errors.New("market_potential must be >= 0")
	}
	return nil
}

// MarketIndicators are optional per-round observations. Zero fields fall back
// to the ecosystem values.
type MarketIndicators struct {
	RawMaterialPrice float64 `json:"raw_material_price" yaml:"raw_material_price"`
	AverageSalary    float64 `json:"average_salary" yaml:"average_salary"`
	ActiveTeams      int     `json:"active_teams" yaml:"active_teams"`
	DemandVariation  float64 `json:"demand_variation" yaml:"demand_variation"`
}

type InventoryRisk string

const (
	InventoryRiskLow    InventoryRisk = "low"
	InventoryRiskMedium InventoryRisk = "medium"
	InventoryRiskHigh   InventoryRisk = "high"
)

// ProjectionResult is derived on demand and never stored.
type ProjectionResult struct {
	Revenue        float64       `json:"revenue"`
	VariableCost   float64       `json:"variable_cost"`
	FixedCost      float64       `json:"fixed_cost"`
	HoldingCost    float64       `json:"holding_cost"`
	EBITDA         float64       `json:"ebitda"`
	NetProfit      float64       `json:"net_profit"`
	SalesVolume    float64       `json:"sales_volume"`
	Demand         float64       `json:"demand"`
	Capacity       float64       `json:"capacity"`
	OEE            float64       `json:"oee"`
	ImageScore     float64       `json:"image_score"`
	UnitCost       float64       `json:"unit_cost"`
	AvgPrice       float64       `json:"avg_price"`
	TotalMarketing float64       `json:"total_marketing"`
	InventoryRisk  InventoryRisk `json:"inventory_risk"`
	MarketShare    float64       `json:"market_share"`
	CreditRating   string        `json:"credit_rating"`
	Factors        BranchFactors `json:"factors"`
}
