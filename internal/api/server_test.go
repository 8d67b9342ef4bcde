package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"empirion/internal/auth"
	"empirion/internal/config"
	"empirion/internal/simulation"
	"empirion/internal/store"
)

type fakeAuth struct {
	Authenticator
	users map[string]auth.SupabaseUser
}

func (f *fakeAuth) VerifyAccessToken(_ context.Context, token string) (auth.SupabaseUser, error) {
	u, ok := f.users[token]
	if !ok {
		return auth.SupabaseUser{}, &auth.APIError{Status: http.StatusUnauthorized, Message: "invalid JWT"}
	}
	return u, nil
}

// fakeBackend implements only what the tests exercise; anything else panics
// and surfaces as a 500 through the recoverer.
type fakeBackend struct {
	Backend
	champ     store.Championship
	teams     []store.Team
	decisions map[string]simulation.DecisionData
	saved     []store.SaveDecisionsInput
	saveErr   error
	ecoSaved  []simulation.EcosystemConfig
	created   []store.CreateChampionshipInput
	teamKeys  map[string]bool
}

func (f *fakeBackend) CreateTeam(_ context.Context, in store.CreateTeamInput) (store.Team, error) {
	if f.teamKeys == nil {
		f.teamKeys = map[string]bool{}
	}
	if f.teamKeys[in.UserID+"/"+in.IdempotencyKey] {
		return store.Team{}, store.ErrDuplicateIdempotency
	}
	f.teamKeys[in.UserID+"/"+in.IdempotencyKey] = true
	return store.Team{ID: "t-" + in.Name, ChampionshipID: in.ChampionshipID, Name: in.Name, CreatedBy: in.UserID}, nil
}

func (f *fakeBackend) UpdateEcosystem(_ context.Context, userID, _ string, eco simulation.EcosystemConfig) (simulation.EcosystemConfig, error) {
	if userID != f.champ.CreatedBy {
		return simulation.EcosystemConfig{}, store.ErrForbidden
	}
	if err := eco.Validate(); err != nil {
		return simulation.EcosystemConfig{}, fmt.Errorf("%w: %v", store.ErrInvalidInput, err)
	}
	f.ecoSaved = append(f.ecoSaved, eco)
	return eco, nil
}

func (f *fakeBackend) CreateChampionship(_ context.Context, in store.CreateChampionshipInput) (store.Championship, error) {
	f.created = append(f.created, in)
	c := store.Championship{ID: "c-new", Name: in.Name, CreatedBy: in.UserID}
	if in.Ecosystem != nil {
		c.Ecosystem = *in.Ecosystem
	}
	return c, nil
}

func (f *fakeBackend) GetChampionship(_ context.Context, id string) (store.Championship, error) {
	if id != f.champ.ID {
		return store.Championship{}, fmt.Errorf("get championship: %w", store.ErrNotFound)
	}
	return f.champ, nil
}

func (f *fakeBackend) GetEcosystem(ctx context.Context, id string) (simulation.EcosystemConfig, error) {
	c, err := f.GetChampionship(ctx, id)
	if err != nil {
		return simulation.EcosystemConfig{}, err
	}
	return c.Ecosystem, nil
}

func (f *fakeBackend) ListTeams(context.Context, string) ([]store.Team, error) {
	return f.teams, nil
}

func (f *fakeBackend) SaveDecisions(_ context.Context, in store.SaveDecisionsInput) (store.DecisionRecord, error) {
	if f.saveErr != nil {
		return store.DecisionRecord{}, f.saveErr
	}
	f.saved = append(f.saved, in)
	return store.DecisionRecord{ChampionshipID: in.ChampionshipID, TeamID: in.TeamID, Round: in.Round, Data: in.Data}, nil
}

func (f *fakeBackend) ListRoundDecisions(_ context.Context, userID, _ string, _ int) (map[string]simulation.DecisionData, error) {
	if userID != f.champ.CreatedBy {
		return nil, store.ErrForbidden
	}
	return f.decisions, nil
}

func nineRegions(price float64) map[int]simulation.RegionDecision {
	out := make(map[int]simulation.RegionDecision, 9)
	for i := 1; i <= 9; i++ {
		out[i] = simulation.RegionDecision{Price: price}
	}
	return out
}

func newTestServer(t *testing.T, backend *fakeBackend) http.Handler {
	t.Helper()
	a := &fakeAuth{users: map[string]auth.SupabaseUser{
		"tutor-token":  {ID: "tutor-1", Email: "tutor@uni.edu"},
		"player-token": {ID: "player-1", Email: "player@uni.edu"},
	}}
	cfg := config.APIConfig{RequestTimeout: 5 * time.Second, MonitorEnabled: true}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger, a, backend, nil).Handler()
}

func do(t *testing.T, h http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := do(t, newTestServer(t, &fakeBackend{}), http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status=%d", rec.Code)
	}
}

func TestProjectionEndpointMatchesEngine(t *testing.T) {
	h := newTestServer(t, &fakeBackend{})
	in := map[string]any{
		"branch":    "industrial",
		"decisions": simulation.DecisionData{Regions: nineRegions(320)},
	}
	rec := do(t, h, http.MethodPost, "/v1/projections", "", in)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got simulation.ProjectionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := simulation.CalculateProjections(simulation.DecisionData{Regions: nineRegions(320)},
		simulation.BranchIndustrial, simulation.DefaultEcosystem(), nil)
	if math.Abs(got.AvgPrice-320) > 1e-9 || math.Abs(got.OEE-26) > 1e-9 {
		t.Fatalf("unexpected projection avg=%f oee=%f", got.AvgPrice, got.OEE)
	}
	if math.Abs(got.Demand-want.Demand) > 1e-9 || got.InventoryRisk != want.InventoryRisk {
		t.Fatalf("http result diverges from engine: %+v vs %+v", got, want)
	}
}

func TestProjectionEndpointRejectsBadInput(t *testing.T) {
	h := newTestServer(t, &fakeBackend{})
	tests := []struct {
		name string
		body map[string]any
	}{
		{"unknown branch", map[string]any{"branch": "mining", "decisions": simulation.DecisionData{}}},
		{"bad strategy", map[string]any{"branch": "industrial", "decisions": map[string]any{
			"production": map[string]any{"strategy": "just_in_case"},
		}}},
		{"unknown field", map[string]any{"branch": "industrial", "foo": 1}},
		{"inflation too high", map[string]any{"branch": "industrial", "ecosystem": map[string]any{"inflation_rate": 9}}},
		{"negative interest", map[string]any{"branch": "industrial", "ecosystem": map[string]any{"interest_rate": -0.2}}},
		{"tax above one", map[string]any{"branch": "commercial", "ecosystem": map[string]any{"tax_rate": 1.5}}},
		{"negative market potential", map[string]any{"branch": "commercial", "ecosystem": map[string]any{"market_potential": -1}}},
		{"unknown ecosystem key", map[string]any{"branch": "commercial", "ecosystem": map[string]any{"gdp": 3}}},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPost, "/v1/projections", "", tt.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tt.name, rec.Code, rec.Body.String())
		}
	}
}

func TestAuthRequired(t *testing.T) {
	h := newTestServer(t, &fakeBackend{})
	if rec := do(t, h, http.MethodGet, "/v1/championships/c1", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token status=%d", rec.Code)
	}
	if rec := do(t, h, http.MethodGet, "/v1/championships/c1", "forged", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad token status=%d", rec.Code)
	}
}

func TestSaveDecisionsPassesPathAndUser(t *testing.T) {
	backend := &fakeBackend{}
	h := newTestServer(t, backend)
	body := simulation.DecisionData{Regions: nineRegions(300)}
	rec := do(t, h, http.MethodPut, "/v1/championships/c1/teams/t1/decisions/2", "player-token", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(backend.saved) != 1 {
		t.Fatalf("expected one save, got %d", len(backend.saved))
	}
	got := backend.saved[0]
	if got.UserID != "player-1" || got.ChampionshipID != "c1" || got.TeamID != "t1" || got.Round != 2 {
		t.Fatalf("unexpected save input %+v", got)
	}
	if got.Data.Regions[5].Price != 300 {
		t.Fatalf("region prices not decoded: %+v", got.Data.Regions)
	}
}

func TestSaveDecisionsErrorMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{store.ErrForbidden, http.StatusForbidden},
		{fmt.Errorf("%w: round 3 is not open", store.ErrInvalidRound), http.StatusBadRequest},
		{store.ErrArenaClosed, http.StatusConflict},
		{store.ErrTxConflict, http.StatusConflict},
		{fmt.Errorf("get: %w", store.ErrNotFound), http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		h := newTestServer(t, &fakeBackend{saveErr: tt.err})
		rec := do(t, h, http.MethodPut, "/v1/championships/c1/teams/t1/decisions/1", "player-token", simulation.DecisionData{})
		if rec.Code != tt.want {
			t.Fatalf("err %v: status=%d want=%d", tt.err, rec.Code, tt.want)
		}
	}
}

func TestSaveDecisionsRejectsBadRound(t *testing.T) {
	h := newTestServer(t, &fakeBackend{})
	rec := do(t, h, http.MethodPut, "/v1/championships/c1/teams/t1/decisions/zero", "player-token", simulation.DecisionData{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestRoundReportRanksTeams(t *testing.T) {
	cheap := simulation.DecisionData{Regions: nineRegions(250)}
	cheap.Production.ActivityLevel = 100
	idle := simulation.DecisionData{Regions: nineRegions(320)}
	backend := &fakeBackend{
		champ: store.Championship{ID: "c1", Branch: simulation.BranchIndustrial, CreatedBy: "tutor-1",
			Ecosystem: simulation.DefaultEcosystem()},
		teams:     []store.Team{{ID: "t-idle", Name: "Idle"}, {ID: "t-busy", Name: "Busy"}},
		decisions: map[string]simulation.DecisionData{"t-idle": idle, "t-busy": cheap},
	}
	h := newTestServer(t, backend)

	if rec := do(t, h, http.MethodGet, "/v1/championships/c1/rounds/1/report", "player-token", nil); rec.Code != http.StatusForbidden {
		t.Fatalf("player should not read the report, status=%d", rec.Code)
	}

	rec := do(t, h, http.MethodGet, "/v1/championships/c1/rounds/1/report", "tutor-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out struct {
		Submitted int `json:"submitted"`
		Ranking   []struct {
			TeamID     string                      `json:"team_id"`
			TeamName   string                      `json:"team_name"`
			Rank       int                         `json:"rank"`
			Projection simulation.ProjectionResult `json:"projection"`
		} `json:"ranking"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Submitted != 2 || len(out.Ranking) != 2 {
		t.Fatalf("unexpected report %+v", out)
	}
	if out.Ranking[0].Projection.NetProfit < out.Ranking[1].Projection.NetProfit {
		t.Fatalf("ranking not ordered by net profit: %+v", out.Ranking)
	}
	if out.Ranking[0].Rank != 1 || out.Ranking[0].TeamName == "" {
		t.Fatalf("rank/name missing: %+v", out.Ranking[0])
	}
}

func TestMonitorUnknownChampionship(t *testing.T) {
	h := newTestServer(t, &fakeBackend{champ: store.Championship{ID: "c1"}})
	rec := do(t, h, http.MethodGet, "/v1/championships/zzz/monitor", "player-token", nil)
	// Hub is nil in tests, so the endpoint reports the monitor as unavailable.
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"":             "",
		"Bearer":       "",
	}
	for in, want := range tests {
		if got := bearerToken(in); got != want {
			t.Fatalf("header %q got=%q want=%q", in, got, want)
		}
	}
}

func TestGetEcosystem(t *testing.T) {
	eco := simulation.DefaultEcosystem()
	eco.InflationRate = 0.07
	h := newTestServer(t, &fakeBackend{champ: store.Championship{ID: "c1", CreatedBy: "tutor-1", Ecosystem: eco}})

	rec := do(t, h, http.MethodGet, "/v1/championships/c1/ecosystem", "player-token", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got simulation.EcosystemConfig
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.InflationRate != 0.07 {
		t.Fatalf("inflation got=%f", got.InflationRate)
	}

	rec = do(t, h, http.MethodGet, "/v1/championships/missing/ecosystem", "player-token", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("missing championship status=%d", rec.Code)
	}
}

func TestProjectionKeepsExplicitZeroEcosystem(t *testing.T) {
	h := newTestServer(t, &fakeBackend{})
	decisions := simulation.DecisionData{Regions: nineRegions(320)}
	decisions.Finance.LoanRequest = 100_000
	rec := do(t, h, http.MethodPost, "/v1/projections", "", map[string]any{
		"branch":    "industrial",
		"decisions": decisions,
		"ecosystem": map[string]any{"inflation_rate": 0, "interest_rate": 0},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var got simulation.ProjectionResult
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Factors.InflationFactor != 1 {
		t.Fatalf("inflation factor got=%f want=1", got.Factors.InflationFactor)
	}

	eco := simulation.DefaultEcosystem()
	eco.InflationRate = 0
	eco.InterestRate = 0
	want := simulation.CalculateProjections(decisions, simulation.BranchIndustrial, eco, nil)
	if math.Abs(got.FixedCost-want.FixedCost) > 1e-6 {
		t.Fatalf("zero interest not applied: fixed=%f want=%f", got.FixedCost, want.FixedCost)
	}
}

func TestUpdateEcosystemKeepsZeroAndDefaultsAbsentKeys(t *testing.T) {
	backend := &fakeBackend{champ: store.Championship{ID: "c1", CreatedBy: "tutor-1"}}
	h := newTestServer(t, backend)

	rec := do(t, h, http.MethodPut, "/v1/championships/c1/ecosystem", "tutor-token", map[string]any{
		"inflation_rate": 0,
		"tax_rate":       0,
		"machine_prices": map[string]any{"beta": 0},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(backend.ecoSaved) != 1 {
		t.Fatalf("expected one update, got %d", len(backend.ecoSaved))
	}
	got := backend.ecoSaved[0]
	def := simulation.DefaultEcosystem()
	if got.InflationRate != 0 || got.TaxRate != 0 || got.MachinePrices.Beta != 0 {
		t.Fatalf("explicit zeros replaced: %+v", got)
	}
	if got.InterestRate != def.InterestRate || got.MarketPotential != def.MarketPotential || got.MachinePrices.Alfa != def.MachinePrices.Alfa {
		t.Fatalf("absent keys should keep defaults: %+v", got)
	}

	tests := []struct {
		name  string
		token string
		body  map[string]any
		want  int
	}{
		{"out of range", "tutor-token", map[string]any{"inflation_rate": 7}, http.StatusBadRequest},
		{"not the owner", "player-token", map[string]any{"inflation_rate": 0}, http.StatusForbidden},
	}
	for _, tt := range tests {
		rec := do(t, h, http.MethodPut, "/v1/championships/c1/ecosystem", tt.token, tt.body)
		if rec.Code != tt.want {
			t.Fatalf("%s: status=%d want=%d body=%s", tt.name, rec.Code, tt.want, rec.Body.String())
		}
	}
}

func TestCreateChampionshipKeepsZeroEcosystem(t *testing.T) {
	backend := &fakeBackend{}
	h := newTestServer(t, backend)
	rec := do(t, h, http.MethodPost, "/v1/championships", "tutor-token", map[string]any{
		"name":         "Copa Zero",
		"branch":       "industrial",
		"total_rounds": 4,
		"ecosystem":    map[string]any{"interest_rate": 0},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if len(backend.created) != 1 || backend.created[0].Ecosystem == nil {
		t.Fatalf("create input missing ecosystem: %+v", backend.created)
	}
	eco := *backend.created[0].Ecosystem
	if eco.InterestRate != 0 || eco.InflationRate != simulation.DefaultEcosystem().InflationRate {
		t.Fatalf("unexpected ecosystem %+v", eco)
	}

	rec = do(t, h, http.MethodPost, "/v1/championships", "tutor-token", map[string]any{
		"name": "Copa Default", "branch": "commercial", "total_rounds": 2,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	if got := *backend.created[1].Ecosystem; got != simulation.DefaultEcosystem() {
		t.Fatalf("missing ecosystem should be the default, got %+v", got)
	}
}

func TestCreateTeamHonorsIdempotencyKey(t *testing.T) {
	h := newTestServer(t, &fakeBackend{})
	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/championships/c1/teams", bytes.NewReader([]byte(`{"name":"Gama"}`)))
		req.Header.Set("Authorization", "Bearer player-token")
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}
	if rec := post("key-1"); rec.Code != http.StatusCreated {
		t.Fatalf("first create status=%d body=%s", rec.Code, rec.Body.String())
	}
	if rec := post("key-1"); rec.Code != http.StatusConflict {
		t.Fatalf("replayed key status=%d", rec.Code)
	}
	// no header means a fresh server-side key each time
	if rec := post(""); rec.Code != http.StatusCreated {
		t.Fatalf("keyless create status=%d", rec.Code)
	}
	if rec := post(""); rec.Code != http.StatusCreated {
		t.Fatalf("second keyless create status=%d", rec.Code)
	}
}
