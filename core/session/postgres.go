package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/paybot/core/identity"
	"github.com/m3rciful/paybot/core/logger"
)

// PostgresStore persists sessions in the sessions table with an optimistic
// version column.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type sessionRow struct {
	Identity string    `db:"identity"`
	Version  int64     `db:"version"`
	Data     []byte    `db:"data"`
	Updated  time.Time `db:"updated_at"`
}

// Get loads the session for id, or the default session at version 0 when
// no record exists.
func (s *PostgresStore) Get(ctx context.Context, id identity.Identity) (Session, error) {
	var row sessionRow
	err := s.db.GetContext(ctx, &row,
		`SELECT identity, version, data, updated_at FROM sessions WHERE identity = $1`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return NewDefault(time.Now()), nil
	}
	if err != nil {
		return Session{}, fmt.Errorf("session get: %w", err)
	}

	var sess Session
	if err := json.Unmarshal(row.Data, &sess); err != nil {
		// A corrupt row must not lock the user out; start over loudly.
		logger.SESS.Error("corrupt session record",
			slog.String("event", "session.decode"),
			slog.String("identity", id.String()),
			slog.String("err", err.Error()),
		)
		sess = NewDefault(time.Now())
	}
	sess.Version = row.Version
	return sess, nil
}

// CompareAndSet writes next if the stored version still equals expected.
func (s *PostgresStore) CompareAndSet(ctx context.Context, id identity.Identity, expected int64, next Session) error {
	next.UpdatedAt = time.Now().UTC()
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("session encode: %w", err)
	}

	var res sql.Result
	if expected == 0 {
		res, err = s.db.ExecContext(ctx,
			`INSERT INTO sessions (identity, version, data, updated_at)
			 VALUES ($1, 1, $2, $3)
			 ON CONFLICT (identity) DO NOTHING`,
			id.String(), data, next.UpdatedAt)
	} else {
		res, err = s.db.ExecContext(ctx,
			`UPDATE sessions SET version = $2 + 1, data = $3, updated_at = $4
			 WHERE identity = $1 AND version = $2`,
			id.String(), expected, data, next.UpdatedAt)
	}
	if err != nil {
		return fmt.Errorf("session cas: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session cas: %w", err)
	}
	if n == 0 {
		logger.SESS.Debug("session cas conflict",
			slog.String("event", "session.cas"),
			slog.String("status", "retry"),
			slog.String("identity", id.String()),
			slog.Int64("expected", expected),
		)
		return ErrConflict
	}
	return nil
}

// Delete removes the record for id. Deleting an absent record is not an error.
func (s *PostgresStore) Delete(ctx context.Context, id identity.Identity) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE identity = $1`, id.String()); err != nil {
		return fmt.Errorf("session delete: %w", err)
	}
	return nil
}
