package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"empirion/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const reconnectDelay = 2 * time.Second

// EventHandler receives every decoded decision notification.
type EventHandler func(ctx context.Context, ev store.DecisionEvent)

// Listener holds one pooled connection in LISTEN mode on the decisions channel.
type Listener struct {
	db      *pgxpool.Pool
	channel string
	log     *slog.Logger
	handle  EventHandler
}

func NewListener(db *pgxpool.Pool, channel string, logger *slog.Logger, handle EventHandler) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	return &Listener{db: db, channel: channel, log: logger, handle: handle}
}

// Run blocks until ctx is done, re-acquiring a connection whenever the current
// one fails.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("decision listener disconnected", "channel", l.channel, "err", err)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(reconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire listener conn: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen %s: %w", l.channel, err)
	}
	l.log.Info("decision listener started", "channel", l.channel)

	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		ev, err := DecodeEvent(n.Payload)
		if err != nil {
			l.log.Warn("dropping malformed decision event", "payload", n.Payload, "err", err)
			continue
		}
		l.handle(ctx, ev)
	}
}

func DecodeEvent(payload string) (store.DecisionEvent, error) {
	var ev store.DecisionEvent
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return store.DecisionEvent{}, err
	}
	if ev.ChampionshipID == "" || ev.TeamID == "" {
		return store.DecisionEvent{}, fmt.Errorf("event missing championship or team id")
	}
	return ev, nil
}
