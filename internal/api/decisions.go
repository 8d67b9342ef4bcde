package api

import (
	"net/http"

	"empirion/internal/simulation"
	"empirion/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleSaveDecisions(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	round, err := roundParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	var data simulation.DecisionData
	if err := decodeJSON(r, &data); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.SaveDecisions(r.Context(), store.SaveDecisionsInput{
		UserID:         user.UserID,
		ChampionshipID: chi.URLParam(r, "id"),
		TeamID:         chi.URLParam(r, "team"),
		Round:          round,
		Data:           data,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetDecisions(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	round, err := roundParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.store.GetDecisions(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "team"), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// handleDecisionProjection projects the stored decisions under the arena's own
// branch and ecosystem.
func (s *Server) handleDecisionProjection(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	round, err := roundParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	championshipID := chi.URLParam(r, "id")
	rec, err := s.store.GetDecisions(r.Context(), user.UserID, championshipID, chi.URLParam(r, "team"), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	champ, err := s.store.GetChampionship(r.Context(), championshipID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	teams, err := s.store.ListTeams(r.Context(), championshipID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	indicators := &simulation.MarketIndicators{ActiveTeams: len(teams)}
	writeJSON(w, http.StatusOK, map[string]any{
		"decisions":  rec,
		"projection": simulation.CalculateProjections(rec.Data, champ.Branch, champ.Ecosystem, indicators),
	})
}

func (s *Server) handleRoundStatus(w http.ResponseWriter, r *http.Request) {
	round, err := roundParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out, err := s.store.RoundSubmissionStatus(r.Context(), chi.URLParam(r, "id"), round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"round": round, "teams": out})
}

type reportRow struct {
	simulation.TeamProjection
	TeamName string `json:"team_name"`
	Rank     int    `json:"rank"`
}

// handleRoundReport ranks every submitted team of a round. Only the tutor who
// owns the arena can read it.
func (s *Server) handleRoundReport(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	round, err := roundParam(r)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	championshipID := chi.URLParam(r, "id")
	decisions, err := s.store.ListRoundDecisions(r.Context(), user.UserID, championshipID, round)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	champ, err := s.store.GetChampionship(r.Context(), championshipID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	teams, err := s.store.ListTeams(r.Context(), championshipID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	names := make(map[string]string, len(teams))
	for _, t := range teams {
		names[t.ID] = t.Name
	}

	indicators := &simulation.MarketIndicators{ActiveTeams: len(teams)}
	ranked := simulation.ProjectTeams(decisions, champ.Branch, champ.Ecosystem, indicators)
	rows := make([]reportRow, 0, len(ranked))
	for i, tp := range ranked {
		rows = append(rows, reportRow{TeamProjection: tp, TeamName: names[tp.TeamID], Rank: i + 1})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"championship_id": championshipID,
		"branch":          champ.Branch,
		"round":           round,
		"submitted":       len(decisions),
		"teams_total":     len(teams),
		"ranking":         rows,
	})
}
