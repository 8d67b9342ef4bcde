package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"empirion/internal/auth"
	"empirion/internal/simulation"
	"empirion/internal/store"
)

// StatusError is returned for any non-2xx API answer.
type StatusError struct {
	Status  int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is a 401 from the API.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusUnauthorized
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

func (c *Client) Signup(ctx context.Context, email, password, name string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/signup", "", map[string]any{
		"email":    email,
		"password": password,
		"name":     name,
	}, &out, "")
	return out, err
}

func (c *Client) Login(ctx context.Context, email, password string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/login", "", map[string]any{
		"email":    email,
		"password": password,
	}, &out, "")
	return out, err
}

func (c *Client) Refresh(ctx context.Context, refreshToken string) (auth.Session, error) {
	var out auth.Session
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/auth/refresh", "", map[string]any{
		"refresh_token": refreshToken,
	}, &out, "")
	return out, err
}

func (c *Client) Me(ctx context.Context, accessToken string) (store.UserProfile, error) {
	var out store.UserProfile
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/me", accessToken, nil, &out, "")
	return out, err
}

func (c *Client) PublicChampionships(ctx context.Context, limit int) ([]store.Championship, error) {
	var out struct {
		Championships []store.Championship `json:"championships"`
	}
	path := "/v1/championships/public"
	if limit > 0 {
		path += fmt.Sprintf("?limit=%d", limit)
	}
	err := c.jsonRequest(ctx, http.MethodGet, path, "", nil, &out, "")
	return out.Championships, err
}

func (c *Client) Championship(ctx context.Context, accessToken, id string) (store.Championship, error) {
	var out store.Championship
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/championships/"+url.PathEscape(id), accessToken, nil, &out, "")
	return out, err
}

func (c *Client) Teams(ctx context.Context, accessToken, championshipID string) ([]store.Team, error) {
	var out struct {
		Teams []store.Team `json:"teams"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/championships/"+url.PathEscape(championshipID)+"/teams", accessToken, nil, &out, "")
	return out.Teams, err
}

// CreateTeam registers a team. Reusing idemKey on a retry makes the server
// answer 409 instead of creating a second team.
func (c *Client) CreateTeam(ctx context.Context, accessToken, championshipID, name, idemKey string) (store.Team, error) {
	var out store.Team
	path := "/v1/championships/" + url.PathEscape(championshipID) + "/teams"
	err := c.jsonRequest(ctx, http.MethodPost, path, accessToken, map[string]any{"name": name}, &out, idemKey)
	return out, err
}

func (c *Client) JoinTeam(ctx context.Context, accessToken, championshipID, teamID string) error {
	path := fmt.Sprintf("/v1/championships/%s/teams/%s/join", url.PathEscape(championshipID), url.PathEscape(teamID))
	return c.jsonRequest(ctx, http.MethodPost, path, accessToken, nil, nil, "")
}

func (c *Client) SubmitDecisions(ctx context.Context, accessToken, championshipID, teamID string, round int, data simulation.DecisionData) (store.DecisionRecord, error) {
	var out store.DecisionRecord
	err := c.jsonRequest(ctx, http.MethodPut, decisionsPath(championshipID, teamID, round), accessToken, data, &out, "")
	return out, err
}

func (c *Client) DecisionProjection(ctx context.Context, accessToken, championshipID, teamID string, round int) (simulation.ProjectionResult, error) {
	var out struct {
		Projection simulation.ProjectionResult `json:"projection"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, decisionsPath(championshipID, teamID, round)+"/projection", accessToken, nil, &out, "")
	return out.Projection, err
}

// RoundReport is the tutor's ranking for one round.
type RoundReport struct {
	ChampionshipID string            `json:"championship_id"`
	Branch         simulation.Branch `json:"branch"`
	Round          int               `json:"round"`
	Submitted      int               `json:"submitted"`
	TeamsTotal     int               `json:"teams_total"`
	Ranking        []ReportRow       `json:"ranking"`
}

type ReportRow struct {
	TeamID     string                      `json:"team_id"`
	TeamName   string                      `json:"team_name"`
	Rank       int                         `json:"rank"`
	Projection simulation.ProjectionResult `json:"projection"`
}

func (c *Client) RoundReport(ctx context.Context, accessToken, championshipID string, round int) (RoundReport, error) {
	var out RoundReport
	path := fmt.Sprintf("/v1/championships/%s/rounds/%d/report", url.PathEscape(championshipID), round)
	err := c.jsonRequest(ctx, http.MethodGet, path, accessToken, nil, &out, "")
	return out, err
}

// MonitorURL turns the API base into the websocket address of an arena monitor.
func (c *Client) MonitorURL(championshipID string) (string, error) {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported api scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/v1/championships/" + url.PathEscape(championshipID) + "/monitor"
	return u.String(), nil
}

func decisionsPath(championshipID, teamID string, round int) string {
	return fmt.Sprintf("/v1/championships/%s/teams/%s/decisions/%d", url.PathEscape(championshipID), url.PathEscape(teamID), round)
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := strings.TrimSpace(string(raw))
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return &StatusError{Status: resp.StatusCode, Message: msg}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
