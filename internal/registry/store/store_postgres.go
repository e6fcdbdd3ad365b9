package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"examboard/internal/platform/postgres"
	"examboard/internal/registry"
	"examboard/pkg/platform/sentinel"
	txcontext "examboard/pkg/platform/tx"
)

// PostgresStore persists reservations in identifier_registry. The primary key
// on (namespace, value) is the only arbiter of who owns a value.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) IsUsed(ctx context.Context, ns registry.Namespace, value string) (bool, error) {
	var used bool
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM identifier_registry WHERE namespace = $1 AND value = $2)`,
		string(ns), value,
	).Scan(&used)
	if err != nil {
		return false, fmt.Errorf("check identifier: %w", err)
	}
	return used, nil
}

// Reserve inserts the row or does nothing when (namespace, value) exists. A
// conflict leaves the surrounding transaction usable.
func (s *PostgresStore) Reserve(ctx context.Context, ns registry.Namespace, value string, owner uuid.UUID) (registry.Outcome, error) {
	query := `
		INSERT INTO identifier_registry (namespace, value, owner_id, reserved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (namespace, value) DO NOTHING
		RETURNING value
	`
	var reserved string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx, query,
		string(ns), value, owner, time.Now().UTC(),
	).Scan(&reserved)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return registry.Collision, nil
	case err != nil:
		if postgres.IsUniqueViolation(err) {
			return 0, fmt.Errorf("owner %s in %s: %w", owner, ns, sentinel.ErrAlreadyUsed)
		}
		return 0, fmt.Errorf("reserve identifier: %w", err)
	}
	return registry.Assigned, nil
}

func (s *PostgresStore) Release(ctx context.Context, ns registry.Namespace, value string, owner uuid.UUID) error {
	res, err := txcontext.Executor(ctx, s.db).ExecContext(ctx,
		`DELETE FROM identifier_registry WHERE namespace = $1 AND value = $2 AND owner_id = $3`,
		string(ns), value, owner,
	)
	if err != nil {
		return fmt.Errorf("release identifier: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("release identifier rows affected: %w", err)
	}
	if rows == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ValueOf(ctx context.Context, ns registry.Namespace, owner uuid.UUID) (string, error) {
	var value string
	err := txcontext.Executor(ctx, s.db).QueryRowContext(ctx,
		`SELECT value FROM identifier_registry WHERE namespace = $1 AND owner_id = $2`,
		string(ns), owner,
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", sentinel.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("lookup identifier: %w", err)
	}
	return value, nil
}
