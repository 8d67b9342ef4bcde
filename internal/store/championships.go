package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"empirion/internal/simulation"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const championshipColumns = `
	id, name, branch, status, is_public, current_round, total_rounds, regions_count,
	round_frequency_hours, round_deadline, ecosystem, created_by, created_at
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChampionship(row rowScanner) (Championship, error) {
	var c Championship
	var branch string
	var eco []byte
	if err := row.Scan(
		&c.ID, &c.Name, &branch, &c.Status, &c.IsPublic, &c.CurrentRound, &c.TotalRounds, &c.RegionsCount,
		&c.RoundFrequencyHours, &c.RoundDeadline, &eco, &c.CreatedBy, &c.CreatedAt,
	); err != nil {
		return c, err
	}
	c.Branch = simulation.Branch(branch)
	c.Ecosystem = simulation.DefaultEcosystem()
	if len(eco) > 0 {
		if err := json.Unmarshal(eco, &c.Ecosystem); err != nil {
			return c, fmt.Errorf("decode ecosystem: %w", err)
		}
	}
	return c, nil
}

func (s *Store) CreateChampionship(ctx context.Context, in CreateChampionshipInput) (Championship, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateEntityName(in.Name); err != nil {
		return Championship{}, err
	}
	branch, err := simulation.ParseBranch(in.Branch)
	if err != nil {
		return Championship{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if in.TotalRounds <= 0 || in.TotalRounds > 24 {
		return Championship{}, fmt.Errorf("%w: total rounds must be within 1..24", ErrInvalidRound)
	}
	if in.RegionsCount <= 0 {
		in.RegionsCount = simulation.LegacyRegionDivisor
	}
	if in.RoundFrequencyHours <= 0 {
		in.RoundFrequencyHours = 24
	}
	eco := simulation.DefaultEcosystem()
	if in.Ecosystem != nil {
		eco = *in.Ecosystem
	}
	if err := eco.Validate(); err != nil {
		return Championship{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	ecoJSON, err := json.Marshal(eco)
	if err != nil {
		return Championship{}, err
	}

	var out Championship
	err = s.withSerializableTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "create_championship"); err != nil {
			return err
		}
		row := tx.QueryRow(ctx, `
			INSERT INTO arena.championships
			    (id, name, branch, status, is_public, current_round, total_rounds, regions_count,
			     round_frequency_hours, round_deadline, ecosystem, created_by)
			VALUES ($1, $2, $3, 'draft', $4, 0, $5, $6, $7, NULL, $8::jsonb, $9)
			RETURNING `+championshipColumns,
			uuid.NewString(), in.Name, string(branch), in.IsPublic, in.TotalRounds, in.RegionsCount,
			in.RoundFrequencyHours, string(ecoJSON), in.UserID)
		c, err := scanChampionship(row)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return Championship{}, s.handleStoreError("create championship", err)
	}
	s.log.Info("championship created", "championship_id", out.ID, "branch", out.Branch, "rounds", out.TotalRounds)
	return out, nil
}

func (s *Store) GetChampionship(ctx context.Context, id string) (Championship, error) {
	row := s.db.QueryRow(ctx, `SELECT `+championshipColumns+` FROM arena.championships WHERE id = $1`, id)
	c, err := scanChampionship(row)
	if err != nil {
		return Championship{}, s.handleStoreError("get championship", err)
	}
	return c, nil
}

// GetPublicChampionships lists arenas open to spectators, newest first.
func (s *Store) GetPublicChampionships(ctx context.Context, limit int) ([]Championship, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.Query(ctx, `
		SELECT `+championshipColumns+`
		FROM arena.championships
		WHERE is_public = true AND status <> 'draft'
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, s.handleStoreError("get public championships", err)
	}
	defer rows.Close()
	out := make([]Championship, 0)
	for rows.Next() {
		c, err := scanChampionship(rows)
		if err != nil {
			return nil, s.handleStoreError("get public championships", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleStoreError("get public championships", err)
	}
	return out, nil
}

// UpdateEcosystem replaces the macro configuration as given. Only the tutor who
// created the arena may change it.
func (s *Store) UpdateEcosystem(ctx context.Context, userID, championshipID string, eco simulation.EcosystemConfig) (simulation.EcosystemConfig, error) {
	if err := eco.Validate(); err != nil {
		return simulation.EcosystemConfig{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	raw, err := json.Marshal(eco)
	if err != nil {
		return simulation.EcosystemConfig{}, err
	}
	cmd, err := s.db.Exec(ctx, `
		UPDATE arena.championships
		SET ecosystem = $1::jsonb, updated_at = now()
		WHERE id = $2 AND created_by = $3
	`, string(raw), championshipID, userID)
	if err != nil {
		return simulation.EcosystemConfig{}, s.handleStoreError("update ecosystem", err)
	}
	if cmd.RowsAffected() == 0 {
		return simulation.EcosystemConfig{}, ErrForbidden
	}
	return eco, nil
}

func (s *Store) GetEcosystem(ctx context.Context, championshipID string) (simulation.EcosystemConfig, error) {
	c, err := s.GetChampionship(ctx, championshipID)
	if err != nil {
		return simulation.EcosystemConfig{}, err
	}
	return c.Ecosystem, nil
}

// StartChampionship opens round 1 and sets its deadline.
func (s *Store) StartChampionship(ctx context.Context, userID, championshipID string) (Championship, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE arena.championships
		SET status = 'active',
		    current_round = 1,
		    round_deadline = now() + make_interval(hours => round_frequency_hours),
		    updated_at = now()
		WHERE id = $1 AND created_by = $2 AND status = 'draft'
		RETURNING `+championshipColumns, championshipID, userID)
	c, err := scanChampionship(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return Championship{}, ErrForbidden
		}
		return Championship{}, s.handleStoreError("start championship", err)
	}
	s.log.Info("championship started", "championship_id", c.ID)
	return c, nil
}

// AdvanceDueRounds moves every active arena whose deadline passed to its next
// round, finishing it after the last one. It returns the ids it touched.
func (s *Store) AdvanceDueRounds(ctx context.Context, now time.Time) ([]string, error) {
	var advanced []string
	err := s.withSerializableTx(ctx, func(tx pgx.Tx) error {
		advanced = advanced[:0]
		rows, err := tx.Query(ctx, `
			UPDATE arena.championships
			SET current_round = CASE WHEN current_round >= total_rounds THEN current_round ELSE current_round + 1 END,
			    status = CASE WHEN current_round >= total_rounds THEN 'finished' ELSE status END,
			    round_deadline = CASE WHEN current_round >= total_rounds THEN NULL
			                          ELSE $1::timestamptz + make_interval(hours => round_frequency_hours) END,
			    updated_at = now()
			WHERE status = 'active' AND round_deadline IS NOT NULL AND round_deadline <= $1
			RETURNING id
		`, now)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			advanced = append(advanced, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, s.handleStoreError("advance due rounds", err)
	}
	return advanced, nil
}
