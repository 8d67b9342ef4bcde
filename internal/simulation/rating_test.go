package simulation

import "testing"

func TestCreditRating(t *testing.T) {
	tests := []struct {
		revenue, net, loan float64
		want               string
	}{
		{revenue: 1_000_000, net: 200_000, loan: 100_000, want: "AAA"},
		{revenue: 1_000_000, net: 200_000, loan: 800_000, want: "AA"},
		{revenue: 1_000_000, net: 60_000, want: "A"},
		{revenue: 1_000_000, net: 0, want: "B"},
		{revenue: 1_000_000, net: -50_000, want: "C"},
		{revenue: 1_000_000, net: -500_000, want: "D"},
		{revenue: 0, net: -10, want: "B"},
		{revenue: 0, net: -10, loan: 50_000, want: "B"},
		{revenue: 0, net: 0, want: "B"},
	}
	for _, tc := range tests {
		if got := CreditRating(tc.revenue, tc.net, tc.loan); got != tc.want {
			t.Fatalf("revenue=%f net=%f loan=%f got=%s want=%s", tc.revenue, tc.net, tc.loan, got, tc.want)
		}
	}
}

func TestProjectTeamsOrdersByNetProfit(t *testing.T) {
	base := DecisionData{Regions: nineRegions(320, 0)}
	base.Production.ActivityLevel = 100

	idle := DecisionData{Regions: nineRegions(320, 0)}

	trained := base
	trained.HR.TrainingPercent = 40
	trained.Production.AutomationLevel = 60

	got := ProjectTeams(map[string]DecisionData{
		"idle":    idle,
		"base":    base,
		"trained": trained,
	}, BranchIndustrial, DefaultEcosystem(), nil)

	if len(got) != 3 {
		t.Fatalf("expected 3 projections, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].Projection.NetProfit < got[i].Projection.NetProfit {
			t.Fatalf("not sorted at %d: %f < %f", i, got[i-1].Projection.NetProfit, got[i].Projection.NetProfit)
		}
	}
	if got[len(got)-1].TeamID != "idle" {
		t.Fatalf("idle team should rank last, got %s", got[len(got)-1].TeamID)
	}
}
