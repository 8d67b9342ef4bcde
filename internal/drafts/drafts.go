// Package drafts keeps decision drafts in a local SQLite file so a team can
// prepare a round offline and submit it later.
package drafts

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"empirion/internal/simulation"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("draft not found")

type Draft struct {
	Name           string
	ChampionshipID string
	TeamID         string
	Round          int
	Branch         simulation.Branch
	Data           simulation.DecisionData
	UpdatedAt      time.Time
	SubmittedAt    *time.Time
}

type draftRow struct {
	Name           string         `db:"name"`
	ChampionshipID string         `db:"championship_id"`
	TeamID         string         `db:"team_id"`
	Round          int            `db:"round"`
	Branch         string         `db:"branch"`
	DataJSON       string         `db:"data_json"`
	UpdatedAt      string         `db:"updated_at"`
	SubmittedAt    sql.NullString `db:"submitted_at"`
}

type DB struct {
	conn *sqlx.DB
}

// Open opens or creates the drafts database at path.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("create drafts dir: %w", err)
		}
	}
	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open drafts db: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
	CREATE TABLE IF NOT EXISTS drafts (
		name TEXT PRIMARY KEY,
		championship_id TEXT NOT NULL DEFAULT '',
		team_id TEXT NOT NULL DEFAULT '',
		round INTEGER NOT NULL DEFAULT 0,
		branch TEXT NOT NULL,
		data_json TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		submitted_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_drafts_target ON drafts(championship_id, team_id, round);
	`)
	return err
}

// Save inserts or replaces a draft by name and clears its submitted mark.
func (db *DB) Save(d Draft) (Draft, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return Draft{}, errors.New("draft name is required")
	}
	if d.Branch == "" {
		d.Branch = simulation.BranchIndustrial
	}
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return Draft{}, err
	}
	d.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	d.SubmittedAt = nil
	_, err = db.conn.NamedExec(`
		INSERT INTO drafts (name, championship_id, team_id, round, branch, data_json, updated_at, submitted_at)
		VALUES (:name, :championship_id, :team_id, :round, :branch, :data_json, :updated_at, NULL)
		ON CONFLICT(name) DO UPDATE SET
			championship_id = excluded.championship_id,
			team_id = excluded.team_id,
			round = excluded.round,
			branch = excluded.branch,
			data_json = excluded.data_json,
			updated_at = excluded.updated_at,
			submitted_at = NULL
	`, draftRow{
		Name:           d.Name,
		ChampionshipID: d.ChampionshipID,
		TeamID:         d.TeamID,
		Round:          d.Round,
		Branch:         string(d.Branch),
		DataJSON:       string(raw),
		UpdatedAt:      d.UpdatedAt.Format(time.RFC3339),
	})
	if err != nil {
		return Draft{}, fmt.Errorf("save draft %s: %w", d.Name, err)
	}
	return d, nil
}

func (db *DB) Get(name string) (Draft, error) {
	var row draftRow
	err := db.conn.Get(&row, `SELECT * FROM drafts WHERE name = ?`, strings.TrimSpace(name))
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Draft{}, err
	}
	return row.draft()
}

// List returns every draft, most recently edited first.
func (db *DB) List() ([]Draft, error) {
	var rows []draftRow
	if err := db.conn.Select(&rows, `SELECT * FROM drafts ORDER BY updated_at DESC, name`); err != nil {
		return nil, err
	}
	out := make([]Draft, 0, len(rows))
	for _, r := range rows {
		d, err := r.draft()
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (db *DB) Delete(name string) error {
	res, err := db.conn.Exec(`DELETE FROM drafts WHERE name = ?`, strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (db *DB) MarkSubmitted(name string, at time.Time) error {
	res, err := db.conn.Exec(`UPDATE drafts SET submitted_at = ? WHERE name = ?`,
		at.UTC().Format(time.RFC3339), strings.TrimSpace(name))
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return nil
}

func (r draftRow) draft() (Draft, error) {
	d := Draft{
		Name:           r.Name,
		ChampionshipID: r.ChampionshipID,
		TeamID:         r.TeamID,
		Round:          r.Round,
		Branch:         simulation.Branch(r.Branch),
	}
	if err := json.Unmarshal([]byte(r.DataJSON), &d.Data); err != nil {
		return Draft{}, fmt.Errorf("decode draft %s: %w", r.Name, err)
	}
	var err error
	if d.UpdatedAt, err = time.Parse(time.RFC3339, r.UpdatedAt); err != nil {
		return Draft{}, fmt.Errorf("draft %s updated_at: %w", r.Name, err)
	}
	if r.SubmittedAt.Valid {
		at, err := time.Parse(time.RFC3339, r.SubmittedAt.String)
		if err != nil {
			return Draft{}, fmt.Errorf("draft %s submitted_at: %w", r.Name, err)
		}
		d.SubmittedAt = &at
	}
	return d, nil
}
