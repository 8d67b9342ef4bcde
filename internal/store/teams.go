package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateTeam(ctx context.Context, in CreateTeamInput) (Team, error) {
	in.Name = strings.TrimSpace(in.Name)
	if err := validateEntityName(in.Name); err != nil {
		return Team{}, err
	}

	var out Team
	err := s.withSerializableTx(ctx, func(tx pgx.Tx) error {
		if err := claimIdempotency(ctx, tx, in.UserID, in.IdempotencyKey, "create_team"); err != nil {
			return err
		}
		var status string
		if err := tx.QueryRow(ctx, `
			SELECT status FROM arena.championships WHERE id = $1
		`, in.ChampionshipID).Scan(&status); err != nil {
			return err
		}
		if status == StatusFinished {
			return ErrArenaClosed
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO arena.teams (id, championship_id, name, created_by)
			VALUES ($1, $2, $3, $4)
			RETURNING id, championship_id, name, created_by, created_at
		`, uuid.NewString(), in.ChampionshipID, in.Name, in.UserID).Scan(
			&out.ID, &out.ChampionshipID, &out.Name, &out.CreatedBy, &out.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return ErrInvalidName
			}
			return err
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO arena.team_members (team_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (team_id, user_id) DO NOTHING
		`, out.ID, in.UserID)
		return err
	})
	if err != nil {
		return Team{}, s.handleStoreError("create team", err)
	}
	return out, nil
}

func (s *Store) ListTeams(ctx context.Context, championshipID string) ([]Team, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, championship_id, name, created_by, created_at
		FROM arena.teams
		WHERE championship_id = $1
		ORDER BY created_at, name
	`, championshipID)
	if err != nil {
		return nil, s.handleStoreError("list teams", err)
	}
	defer rows.Close()
	out := make([]Team, 0)
	for rows.Next() {
		var t Team
		if err := rows.Scan(&t.ID, &t.ChampionshipID, &t.Name, &t.CreatedBy, &t.CreatedAt); err != nil {
			return nil, s.handleStoreError("list teams", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, s.handleStoreError("list teams", err)
	}
	return out, nil
}

// JoinTeam adds userID to a team of a championship that is still open.
func (s *Store) JoinTeam(ctx context.Context, userID, championshipID, teamID string) error {
	cmd, err := s.db.Exec(ctx, `
		INSERT INTO arena.team_members (team_id, user_id)
		SELECT t.id, $1
		FROM arena.teams t
		JOIN arena.championships c ON c.id = t.championship_id
		WHERE t.id = $2 AND t.championship_id = $3 AND c.status <> 'finished'
		ON CONFLICT (team_id, user_id) DO NOTHING
	`, userID, teamID, championshipID)
	if err != nil {
		return s.handleStoreError("join team", err)
	}
	if cmd.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM arena.team_members WHERE team_id = $1 AND user_id = $2)
		`, teamID, userID).Scan(&exists); err != nil {
			return s.handleStoreError("join team", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// canActForTeam reports whether userID is a member of the team or the tutor
// who owns the championship.
func canActForTeam(ctx context.Context, q querier, userID, championshipID, teamID string) (bool, error) {
	var ok bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM arena.team_members m
			JOIN arena.teams t ON t.id = m.team_id
			WHERE m.team_id = $2 AND m.user_id = $1 AND t.championship_id = $3
		) OR EXISTS (
			SELECT 1 FROM arena.championships c
			JOIN arena.teams t ON t.championship_id = c.id
			WHERE c.id = $3 AND t.id = $2 AND c.created_by = $1
		)
	`, userID, teamID, championshipID).Scan(&ok)
	return ok, err
}
