package simulation

import "sort"

// CreditRating grades a projection by net margin and loan leverage.
func CreditRating(revenue, netProfit, loan float64) string {
	margin, leverage := 0.0, 0.0
	if revenue > 0 {
		margin = netProfit / revenue
		leverage = loan / revenue
	}
	switch {
	case margin >= 0.15 && leverage < 0.5:
		return "AAA"
	case margin >= 0.10:
		return "AA"
	case margin >= 0.05:
		return "A"
	case margin >= 0:
		return "B"
	case margin >= -0.10:
		return "C"
	default:
		return "D"
	}
}

type TeamProjection struct {
	TeamID     string           `json:"team_id"`
	Projection ProjectionResult `json:"projection"`
}

// ProjectTeams runs the engine for every team and orders the result by net
// profit, best first. Ties keep team id order.
func ProjectTeams(decisions map[string]DecisionData, branch Branch, eco EcosystemConfig, indicators *MarketIndicators) []TeamProjection {
	out := make([]TeamProjection, 0, len(decisions))
	for teamID, d := range decisions {
		out = append(out, TeamProjection{
			TeamID:     teamID,
			Projection: CalculateProjections(d, branch, eco, indicators),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Projection.NetProfit != out[j].Projection.NetProfit {
			return out[i].Projection.NetProfit > out[j].Projection.NetProfit
		}
		return out[i].TeamID < out[j].TeamID
	})
	return out
}
