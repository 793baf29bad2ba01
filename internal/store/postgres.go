package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Hakan2211/memdia-sub000/pkg/types"
)

// ddlTurns is the turn log schema. Idempotent; safe to run on every start.
const ddlTurns = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id             TEXT         PRIMARY KEY,
    session_id     TEXT         NOT NULL,
    speaker        TEXT         NOT NULL,
    text           TEXT         NOT NULL,
    sequence_order INT          NOT NULL,
    started_at     TIMESTAMPTZ  NOT NULL DEFAULT now(),
    duration_ns    BIGINT       NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_turns_session_id
    ON conversation_turns (session_id);

CREATE INDEX IF NOT EXISTS idx_turns_session_sequence
    ON conversation_turns (session_id, sequence_order);
`

// PostgresTurnStore is a [TurnStore] backed by a PostgreSQL conversation_turns
// table. All operations are safe for concurrent use.
type PostgresTurnStore struct {
	pool *pgxpool.Pool
}

var _ TurnStore = (*PostgresTurnStore)(nil)

// NewPostgresTurnStore establishes a connection pool to the PostgreSQL
// database at dsn and runs [Migrate] to ensure the turn table exists.
func NewPostgresTurnStore(ctx context.Context, dsn string) (*PostgresTurnStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("turn store: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("turn store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turn store: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("turn store: migrate: %w", err)
	}

	return &PostgresTurnStore{pool: pool}, nil
}

// Migrate creates or ensures the turn table exists. It is idempotent and safe
// to call on every application start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, ddlTurns); err != nil {
		return fmt.Errorf("turn store migrate: %w", err)
	}
	return nil
}

// AppendTurn implements [TurnStore].
func (s *PostgresTurnStore) AppendTurn(ctx context.Context, sessionID string, turn types.ConversationTurn) error {
	const q = `
		INSERT INTO conversation_turns
		    (id, session_id, speaker, text, sequence_order, started_at, duration_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.pool.Exec(ctx, q,
		turn.ID,
		sessionID,
		string(turn.Speaker),
		turn.Text,
		turn.SequenceOrder,
		turn.StartedAt,
		turn.Duration.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("turn store: append turn: %w", err)
	}
	return nil
}

// ListTurns implements [TurnStore]. It returns the most recent limit turns
// for sessionID in ascending sequence order; limit <= 0 returns all turns.
func (s *PostgresTurnStore) ListTurns(ctx context.Context, sessionID string, limit int) ([]types.ConversationTurn, error) {
	q := `
		SELECT id, speaker, text, sequence_order, started_at, duration_ns
		FROM   conversation_turns
		WHERE  session_id = $1
		ORDER  BY sequence_order`
	args := []any{sessionID}

	if limit > 0 {
		// Take the tail of the log, then restore ascending order.
		q = `
		SELECT id, speaker, text, sequence_order, started_at, duration_ns
		FROM (
		    SELECT id, speaker, text, sequence_order, started_at, duration_ns
		    FROM   conversation_turns
		    WHERE  session_id = $1
		    ORDER  BY sequence_order DESC
		    LIMIT  $2
		) tail
		ORDER BY sequence_order`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("turn store: list turns: %w", err)
	}
	return collectTurns(rows)
}

// Ping verifies the database connection is alive. Used by readiness checks.
func (s *PostgresTurnStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
func (s *PostgresTurnStore) Close() {
	s.pool.Close()
}

// collectTurns scans pgx rows into a slice of ConversationTurn values.
func collectTurns(rows pgx.Rows) ([]types.ConversationTurn, error) {
	turns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (types.ConversationTurn, error) {
		var (
			t          types.ConversationTurn
			speaker    string
			durationNS int64
		)
		if err := row.Scan(
			&t.ID,
			&speaker,
			&t.Text,
			&t.SequenceOrder,
			&t.StartedAt,
			&durationNS,
		); err != nil {
			return types.ConversationTurn{}, err
		}
		t.Speaker = types.Speaker(speaker)
		t.Duration = time.Duration(durationNS)
		return t, nil
	})
	if err != nil {
		return nil, fmt.Errorf("turn store: scan rows: %w", err)
	}
	if turns == nil {
		turns = []types.ConversationTurn{}
	}
	return turns, nil
}
