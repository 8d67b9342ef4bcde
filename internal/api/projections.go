package api

import (
	"fmt"
	"net/http"

	"empirion/internal/simulation"
	"empirion/internal/store"
)

type projectionRequest struct {
	Branch     string                       `json:"branch"`
	Decisions  simulation.DecisionData      `json:"decisions"`
	Ecosystem  simulation.EcosystemConfig   `json:"ecosystem"`
	Indicators *simulation.MarketIndicators `json:"indicators"`
}

// handleProjection runs the engine on the posted inputs. Nothing is read from
// or written to the database.
func (s *Server) handleProjection(w http.ResponseWriter, r *http.Request) {
	in := projectionRequest{Ecosystem: simulation.DefaultEcosystem()}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	branch, err := simulation.ParseBranch(in.Branch)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if err := in.Decisions.Validate(); err != nil {
		writeDomainError(w, fmt.Errorf("%w: %v", store.ErrInvalidInput, err))
		return
	}
	if err := in.Ecosystem.Validate(); err != nil {
		writeDomainError(w, fmt.Errorf("%w: %v", store.ErrInvalidInput, err))
		return
	}
	writeJSON(w, http.StatusOK, simulation.CalculateProjections(in.Decisions, branch, in.Ecosystem, in.Indicators))
}
