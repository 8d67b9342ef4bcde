// Package store is the pass-through layer over the Supabase Postgres tables.
// Each exported call is one logical round trip; failures are logged with the
// Postgres error fields and returned to the caller unchanged in kind.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrForbidden            = errors.New("forbidden")
	ErrDuplicateIdempotency = errors.New("duplicate idempotency key")
	ErrTxConflict           = errors.New("transaction conflict, retry")
	ErrInvalidRound         = errors.New("invalid round")
	ErrInvalidRating        = errors.New("score must be between 1 and 5")
	ErrInvalidName          = errors.New("invalid name")
	ErrArenaClosed          = errors.New("championship is not accepting decisions")
	ErrInvalidInput         = errors.New("invalid input")
)

var blockedNameFragments = []string{
	"admin",
	"moderator",
	"support",
	"shit",
	"fuck",
	"nazi",
}

type Store struct {
	db            *pgxpool.Pool
	log           *slog.Logger
	notifyChannel string
}

func New(db *pgxpool.Pool, logger *slog.Logger, notifyChannel string) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if notifyChannel == "" {
		notifyChannel = "empirion_decisions"
	}
	return &Store{
		db:            db,
		log:           logger,
		notifyChannel: notifyChannel,
	}
}

func (s *Store) NotifyChannel() string {
	return s.notifyChannel
}

// handleStoreError logs err with the Postgres diagnostic fields and returns it.
// pgx.ErrNoRows becomes ErrNotFound so callers can map it.
func (s *Store) handleStoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	if isDomainError(err) || errors.Is(err, context.Canceled) {
		return err
	}
	attrs := []any{"op", op, "err", err}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		attrs = append(attrs,
			"message", pgErr.Message,
			"code", pgErr.Code,
			"details", pgErr.Detail,
			"hint", pgErr.Hint,
		)
	}
	s.log.Error("store call failed", attrs...)
	return fmt.Errorf("%s: %w", op, err)
}

func isDomainError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrForbidden, ErrDuplicateIdempotency, ErrTxConflict,
		ErrInvalidRound, ErrInvalidRating, ErrInvalidName, ErrArenaClosed, ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// withSerializableTx runs fn in a serializable transaction and retries on
// serialization failures with a doubling delay.
func (s *Store) withSerializableTx(ctx context.Context, fn func(pgx.Tx) error) error {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return err
		}
		err = func() error {
			defer tx.Rollback(ctx)
			if err := fn(tx); err != nil {
				return err
			}
			return tx.Commit(ctx)
		}()
		if err == nil {
			return nil
		}
		if !isSerializationError(err) {
			return err
		}
		if attempt == maxAttempts-1 {
			break
		}
		s.log.Debug("serialization conflict, retrying", "attempt", attempt+1, "delay", retryDelay.String())
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return ErrTxConflict
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func claimIdempotency(ctx context.Context, tx pgx.Tx, userID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	cmd, err := tx.Exec(ctx, `
		INSERT INTO arena.idempotency_keys (user_id, key, action, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, key) DO NOTHING
	`, userID, key, action)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ErrDuplicateIdempotency
	}
	return nil
}

func validateEntityName(name string) error {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidName)
	}
	if len(clean) > 64 {
		return fmt.Errorf("%w: name too long (max 64 chars)", ErrInvalidName)
	}
	lower := strings.ToLower(clean)
	for _, fragment := range blockedNameFragments {
		if strings.Contains(lower, fragment) {
			return fmt.Errorf("%w: name contains blocked content", ErrInvalidName)
		}
	}
	return nil
}
