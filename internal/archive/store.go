// Package archive persists the message history of finished sessions to
// PostgreSQL.
//
// Sessions removed by an explicit end or by expiry are handed to a [Worker],
// which writes them through a [Writer] on a single goroutine. [Store] is the
// pgx-backed Writer.
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/voxgate/internal/session"
)

// Writer persists one finished session.
type Writer interface {
	WriteSession(ctx context.Context, s session.Session) error
}

var _ Writer = (*Store)(nil)

const ddlConversationMessages = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    id              BIGSERIAL    PRIMARY KEY,
    client_id       TEXT         NOT NULL,
    seq             INTEGER      NOT NULL,
    is_user         BOOLEAN      NOT NULL,
    text            TEXT         NOT NULL,
    voice           TEXT         NOT NULL DEFAULT '',
    sent_at         TIMESTAMPTZ  NOT NULL,
    session_started TIMESTAMPTZ  NOT NULL,
    archived_at     TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_client
    ON conversation_messages (client_id, session_started, seq);
`

// Migrate creates the archive table if it does not exist. It is idempotent.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlConversationMessages); err != nil {
		return fmt.Errorf("archive: migrate: %w", err)
	}
	return nil
}

// Store writes session histories into the conversation_messages table.
// It is safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, pings the server and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("archive: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// WriteSession copies every message of sess into the archive table. A session
// without messages is a no-op.
func (s *Store) WriteSession(ctx context.Context, sess session.Session) error {
	if len(sess.History) == 0 {
		return nil
	}
	rows := make([][]any, len(sess.History))
	for i, m := range sess.History {
		sent := m.Timestamp
		if sent.IsZero() {
			sent = sess.LastActivity
		}
		rows[i] = []any{sess.ClientID, i, m.IsUser, m.Text, string(sess.Voice), sent, sess.CreatedAt}
	}

	_, err := s.pool.CopyFrom(ctx,
		pgx.Identifier{"conversation_messages"},
		[]string{"client_id", "seq", "is_user", "text", "voice", "sent_at", "session_started"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("archive: write session %q: %w", sess.ClientID, err)
	}
	return nil
}

// Message is one archived history entry.
type Message struct {
	Seq    int
	IsUser bool
	Text   string
	Voice  string
	SentAt time.Time
}

// Messages returns the archived messages of clientID, oldest session first.
func (s *Store) Messages(ctx context.Context, clientID string) ([]Message, error) {
	const q = `
		SELECT seq, is_user, text, voice, sent_at
		FROM   conversation_messages
		WHERE  client_id = $1
		ORDER  BY session_started, seq`

	rows, err := s.pool.Query(ctx, q, clientID)
	if err != nil {
		return nil, fmt.Errorf("archive: query messages: %w", err)
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		err := row.Scan(&m.Seq, &m.IsUser, &m.Text, &m.Voice, &m.SentAt)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("archive: scan messages: %w", err)
	}
	return msgs, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}
