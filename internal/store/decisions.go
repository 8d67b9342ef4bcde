package store

import (
	"context"
	"encoding/json"
	"fmt"

	"empirion/internal/simulation"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveDecisions upserts a team's decisions for the arena's current round and
// notifies monitor listeners. Resubmission replaces the stored row.
func (s *Store) SaveDecisions(ctx context.Context, in SaveDecisionsInput) (DecisionRecord, error) {
	if in.Round <= 0 {
		return DecisionRecord{}, ErrInvalidRound
	}
	if err := in.Data.Validate(); err != nil {
		return DecisionRecord{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	raw, err := json.Marshal(in.Data)
	if err != nil {
		return DecisionRecord{}, err
	}

	out := DecisionRecord{
		ChampionshipID: in.ChampionshipID,
		TeamID:         in.TeamID,
		Round:          in.Round,
		Data:           in.Data,
		SubmittedBy:    in.UserID,
	}
	err = s.withSerializableTx(ctx, func(tx pgx.Tx) error {
		var status string
		var currentRound int
		if err := tx.QueryRow(ctx, `
			SELECT status, current_round
			FROM arena.championships
			WHERE id = $1
		`, in.ChampionshipID).Scan(&status, &currentRound); err != nil {
			return err
		}
		if status != StatusActive {
			return ErrArenaClosed
		}
		if in.Round != currentRound {
			return fmt.Errorf("%w: round %d is not open (current %d)", ErrInvalidRound, in.Round, currentRound)
		}
		ok, err := canActForTeam(ctx, tx, in.UserID, in.ChampionshipID, in.TeamID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrForbidden
		}

		if err := tx.QueryRow(ctx, `
			INSERT INTO arena.current_decisions (championship_id, team_id, round, data, submitted_by, updated_at)
			VALUES ($1, $2, $3, $4::jsonb, $5, now())
			ON CONFLICT (championship_id, team_id, round)
			DO UPDATE SET data = EXCLUDED.data, submitted_by = EXCLUDED.submitted_by, updated_at = now()
			RETURNING updated_at
		`, in.ChampionshipID, in.TeamID, in.Round, string(raw), in.UserID).Scan(&out.UpdatedAt); err != nil {
			return err
		}

		payload, err := json.Marshal(DecisionEvent{
			ID:             uuid.NewString(),
			ChampionshipID: in.ChampionshipID,
			TeamID:         in.TeamID,
			Round:          in.Round,
		})
		if err != nil {
			return err
		}
		// Delivered on commit only.
		_, err = tx.Exec(ctx, `SELECT pg_notify($1, $2)`, s.notifyChannel, string(payload))
		return err
	})
	if err != nil {
		return DecisionRecord{}, s.handleStoreError("save decisions", err)
	}
	s.log.Info("decisions saved", "championship_id", in.ChampionshipID, "team_id", in.TeamID, "round", in.Round)
	return out, nil
}

// GetDecisions returns the stored decisions of one team for one round.
func (s *Store) GetDecisions(ctx context.Context, userID, championshipID, teamID string, round int) (DecisionRecord, error) {
	ok, err := canActForTeam(ctx, s.db, userID, championshipID, teamID)
	if err != nil {
		return DecisionRecord{}, s.handleStoreError("get decisions", err)
	}
	if !ok {
		return DecisionRecord{}, ErrForbidden
	}

	out := DecisionRecord{ChampionshipID: championshipID, TeamID: teamID, Round: round}
	var raw []byte
	if err := s.db.QueryRow(ctx, `
		SELECT data, submitted_by, updated_at
		FROM arena.current_decisions
		WHERE championship_id = $1 AND team_id = $2 AND round = $3
	`, championshipID, teamID, round).Scan(&raw, &out.SubmittedBy, &out.UpdatedAt); err != nil {
		return DecisionRecord{}, s.handleStoreError("get decisions", err)
	}
	if err := json.Unmarshal(raw, &out.Data); err != nil {
		return DecisionRecord{}, s.handleStoreError("get decisions", fmt.Errorf("decode decisions: %w", err))
	}
	return out, nil
}

// ListRoundDecisions returns every team's submission for a round keyed by team
// id. Only the championship owner may read the whole round.
func (s *Store) ListRoundDecisions(ctx context.Context, userID, championshipID string, round int) (map[string]simulation.DecisionData, error) {
	var owner string
	if err := s.db.QueryRow(ctx, `
		SELECT created_by FROM arena.championships WHERE id = $1
	`, championshipID).Scan(&owner); err != nil {
		return nil, s.handleStoreError("list round decisions", err)
	}
	if owner != userID {
		return nil, ErrForbidden
	}

	rows, err := s.db.Query(ctx, `
		SELECT team_id, data
		FROM arena.current_decisions
		WHERE championship_id = $1 AND round = $2
	`, championshipID, round)
	if err != nil {
		return nil, s.handleStoreError("list round decisions", err)
	}
	defer rows.Close()
	out := make(map[string]simulation.DecisionData)
	for rows.Next() {
		var teamID string
		var raw []byte
		if err := rows.Scan(&teamID, &raw); err != nil {
			return nil, s.handleStoreError("list round decisions", err)
		}
		var d simulation.DecisionData
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, s.handleStoreError("list round decisions", fmt.Errorf("decode team %s: %w", teamID, err))
		}
		out[teamID] = d
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleStoreError("list round decisions", err)
	}
	return out, nil
}

// RoundSubmissionStatus lists which teams have submitted for a round; the
// monitor re-fetches this on every notification.
func (s *Store) RoundSubmissionStatus(ctx context.Context, championshipID string, round int) ([]SubmissionStatus, error) {
	rows, err := s.db.Query(ctx, `
		SELECT t.id, t.name, d.updated_at
		FROM arena.teams t
		LEFT JOIN arena.current_decisions d
		       ON d.team_id = t.id AND d.championship_id = t.championship_id AND d.round = $2
		WHERE t.championship_id = $1
		ORDER BY t.name
	`, championshipID, round)
	if err != nil {
		return nil, s.handleStoreError("round submission status", err)
	}
	defer rows.Close()
	out := make([]SubmissionStatus, 0)
	for rows.Next() {
		var st SubmissionStatus
		if err := rows.Scan(&st.TeamID, &st.TeamName, &st.SubmittedAt); err != nil {
			return nil, s.handleStoreError("round submission status", err)
		}
		st.Submitted = st.SubmittedAt != nil
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleStoreError("round submission status", err)
	}
	return out, nil
}
