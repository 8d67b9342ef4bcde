package cli

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"empirion/internal/auth"
	"empirion/internal/simulation"
)

func TestSubmitDecisionsSendsBearerAndPath(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody simulation.DecisionData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"championship_id":"c 1","team_id":"t1","round":3}`))
	}))
	defer srv.Close()

	data := simulation.DecisionData{Regions: map[int]simulation.RegionDecision{1: {Price: 310}}}
	rec, err := NewClient(srv.URL+"/").SubmitDecisions(context.Background(), "tok", "c 1", "t1", 3, data)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if gotPath != "/v1/championships/c 1/teams/t1/decisions/3" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotAuth != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if gotBody.Regions[1].Price != 310 || rec.Round != 3 {
		t.Fatalf("unexpected round trip body=%+v rec=%+v", gotBody, rec)
	}
}

func TestStatusErrorUsesAPIMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid token: expired"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Me(context.Background(), "old")
	if !IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err.Error() != "api status 401: invalid token: expired" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestMonitorURL(t *testing.T) {
	tests := map[string]string{
		"http://localhost:8080":    "ws://localhost:8080/v1/championships/c1/monitor",
		"https://api.empirion.io/": "wss://api.empirion.io/v1/championships/c1/monitor",
		"https://x.io/base":        "wss://x.io/base/v1/championships/c1/monitor",
	}
	for base, want := range tests {
		got, err := NewClient(base).MonitorURL("c1")
		if err != nil || got != want {
			t.Fatalf("base %q got=%q err=%v want=%q", base, got, err, want)
		}
	}
	if _, err := NewClient("ftp://x").MonitorURL("c1"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}

func TestSessionRoundTrip(t *testing.T) {
	t.Setenv("EMPIRION_HOME", t.TempDir())
	if _, err := LoadSession(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession, got %v", err)
	}
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	in := Session{AccessToken: "a", RefreshToken: "r", ExpiresAt: expires, Email: "p@x.io", UserID: "u1"}
	if err := SaveSession(in); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := LoadSession()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || got.UserID != "u1" || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("load got=%+v", got)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if _, err := LoadSession(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("session should be gone, got %v", err)
	}
	if err := ClearSession(); err != nil {
		t.Fatalf("clearing twice: %v", err)
	}
}

func TestSessionExpiryAndRefresh(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	sess := NewSession(auth.Session{
		AccessToken:  "a1",
		RefreshToken: "r1",
		ExpiresIn:    3600,
		User:         auth.SupabaseUser{ID: "u1", Email: "p@x.io", UserMetadata: map[string]any{"name": " Ana "}},
	}, now)
	if sess.Name != "Ana" || sess.UserID != "u1" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Expired(now) {
		t.Fatalf("fresh session reported expired")
	}
	if !sess.Expired(now.Add(59*time.Minute + 45*time.Second)) {
		t.Fatalf("session inside the skew window should count as expired")
	}

	sess.Apply(auth.Session{AccessToken: "a2", ExpiresIn: 60}, now)
	if sess.AccessToken != "a2" || sess.RefreshToken != "r1" {
		t.Fatalf("refresh should keep the old refresh token: %+v", sess)
	}
	if !sess.ExpiresAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("expires_at got=%s", sess.ExpiresAt)
	}

	if (Session{AccessToken: "x"}).Expired(now) {
		t.Fatalf("session without expiry should not expire")
	}
}

func TestTeamRequestsCarryPathsAndIdempotencyKey(t *testing.T) {
	type seen struct {
		method, path, idem, auth string
		body                     map[string]string
	}
	var reqs []seen
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := seen{method: r.Method, path: r.URL.Path, idem: r.Header.Get("Idempotency-Key"), auth: r.Header.Get("Authorization")}
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
		reqs = append(reqs, rec)
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/championships/c1":
			_, _ = w.Write([]byte(`{"id":"c1","name":"Copa","branch":"industrial","total_rounds":4}`))
		case r.Method == http.MethodGet && r.URL.Path == "/v1/championships/c1/teams":
			_, _ = w.Write([]byte(`{"teams":[{"id":"t1","name":"Alfa"},{"id":"t2","name":"Beta"}]}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/championships/c1/teams":
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":"t3","championship_id":"c1","name":"Gama"}`))
		case r.Method == http.MethodPost && r.URL.Path == "/v1/championships/c1/teams/t3/join":
			_, _ = w.Write([]byte(`{"ok":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	ctx := context.Background()
	client := NewClient(srv.URL)
	champ, err := client.Championship(ctx, "tok", "c1")
	if err != nil || champ.Name != "Copa" {
		t.Fatalf("championship got=%+v err=%v", champ, err)
	}
	teams, err := client.Teams(ctx, "tok", "c1")
	if err != nil || len(teams) != 2 || teams[1].Name != "Beta" {
		t.Fatalf("teams got=%+v err=%v", teams, err)
	}
	team, err := client.CreateTeam(ctx, "tok", "c1", "Gama", "key-123")
	if err != nil || team.ID != "t3" {
		t.Fatalf("create team got=%+v err=%v", team, err)
	}
	if err := client.JoinTeam(ctx, "tok", "c1", "t3"); err != nil {
		t.Fatalf("join team: %v", err)
	}

	if len(reqs) != 4 {
		t.Fatalf("expected 4 requests, got %d", len(reqs))
	}
	create := reqs[2]
	if create.idem != "key-123" || create.body["name"] != "Gama" {
		t.Fatalf("create request missing key or body: %+v", create)
	}
	for i, r := range reqs {
		if r.auth != "Bearer tok" {
			t.Fatalf("request %d auth=%q", i, r.auth)
		}
		if i != 2 && r.idem != "" {
			t.Fatalf("request %d should not send an idempotency key", i)
		}
	}
}

func TestCreateTeamReplayIsConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"error":"duplicate idempotency key"}`))
	}))
	defer srv.Close()
	_, err := NewClient(srv.URL).CreateTeam(context.Background(), "tok", "c1", "Gama", "key-123")
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusConflict {
		t.Fatalf("expected 409 status error, got %v", err)
	}
}
