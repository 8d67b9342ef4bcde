package api

import (
	"context"
	"net/http"

	"empirion/internal/realtime"
	"empirion/internal/store"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handleMonitor(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil || !s.cfg.MonitorEnabled {
		writeError(w, http.StatusNotFound, "monitor disabled")
		return
	}
	championshipID := chi.URLParam(r, "id")
	if _, err := s.store.GetChampionship(r.Context(), championshipID); err != nil {
		writeDomainError(w, err)
		return
	}
	s.hub.ServeWS(w, r, championshipID)
}

// OnDecisionEvent is the listener callback: it re-reads the round's submission
// board and pushes it with the event to the arena's monitors.
func (s *Server) OnDecisionEvent(ctx context.Context, ev store.DecisionEvent) {
	if s.hub == nil {
		return
	}
	payload := map[string]any{"event": ev}
	status, err := s.store.RoundSubmissionStatus(ctx, ev.ChampionshipID, ev.Round)
	if err != nil {
		s.log.Warn("monitor status refresh failed", "championship_id", ev.ChampionshipID, "round", ev.Round, "err", err)
	} else {
		payload["status"] = status
	}
	s.hub.Broadcast(ev.ChampionshipID, realtime.Message{Type: "decision_submitted", Payload: payload})
}
