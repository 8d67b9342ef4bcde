package api

import (
	"net/http"
	"strconv"

	"empirion/internal/simulation"
	"empirion/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handlePublicChampionships(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	out, err := s.store.GetPublicChampionships(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"championships": out})
}

func (s *Server) handleCreateChampionship(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name                string                     `json:"name"`
		Branch              string                     `json:"branch"`
		IsPublic            bool                       `json:"is_public"`
		TotalRounds         int                        `json:"total_rounds"`
		RegionsCount        int                        `json:"regions_count"`
		RoundFrequencyHours int                        `json:"round_frequency_hours"`
		Ecosystem           simulation.EcosystemConfig `json:"ecosystem"`
	}
	in.Ecosystem = simulation.DefaultEcosystem()
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.CreateChampionship(r.Context(), store.CreateChampionshipInput{
		UserID:              user.UserID,
		Name:                in.Name,
		Branch:              in.Branch,
		IsPublic:            in.IsPublic,
		TotalRounds:         in.TotalRounds,
		RegionsCount:        in.RegionsCount,
		RoundFrequencyHours: in.RoundFrequencyHours,
		Ecosystem:           &in.Ecosystem,
		IdempotencyKey:      idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleGetChampionship(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.GetChampionship(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStartChampionship(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	out, err := s.store.StartChampionship(r.Context(), user.UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetEcosystem(w http.ResponseWriter, r *http.Request) {
	eco, err := s.store.GetEcosystem(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, eco)
}

func (s *Server) handleUpdateEcosystem(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	eco := simulation.DefaultEcosystem()
	if err := decodeJSON(r, &eco); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.UpdateEcosystem(r.Context(), user.UserID, chi.URLParam(r, "id"), eco)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListTeams(w http.ResponseWriter, r *http.Request) {
	out, err := s.store.ListTeams(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"teams": out})
}

func (s *Server) handleCreateTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	var in struct {
		Name string `json:"name"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, err := s.store.CreateTeam(r.Context(), store.CreateTeamInput{
		UserID:         user.UserID,
		ChampionshipID: chi.URLParam(r, "id"),
		Name:           in.Name,
		IdempotencyKey: idempotencyKey(r),
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

func (s *Server) handleJoinTeam(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	if err := s.store.JoinTeam(r.Context(), user.UserID, chi.URLParam(r, "id"), chi.URLParam(r, "team")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
