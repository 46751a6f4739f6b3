package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"dataspace.app/orchestrator/core/db"
	"dataspace.app/orchestrator/internal/model"
)

const requestSchema = `
CREATE TABLE IF NOT EXISTS tool_requests (
	id                TEXT PRIMARY KEY,
	user_id           TEXT NOT NULL,
	building_id       TEXT NOT NULL,
	optimization_type TEXT NOT NULL,
	status            TEXT NOT NULL,
	dss_job_id        TEXT,
	result            JSONB,
	error             TEXT,
	created_at        TIMESTAMPTZ NOT NULL,
	updated_at        TIMESTAMPTZ NOT NULL,
	completed_at      TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS tool_requests_user_job_idx
	ON tool_requests (user_id, dss_job_id) WHERE dss_job_id IS NOT NULL;
`

const requestColumns = `id, user_id, building_id, optimization_type, status, dss_job_id, result, error, created_at, updated_at, completed_at`

const uniqueViolation = "23505"

// PostgresRequestStore persists the ledger in a single tool_requests table.
type PostgresRequestStore struct {
	db  *db.DB
	now func() time.Time
}

// NewPostgresRequestStore creates the table if needed.
func NewPostgresRequestStore(ctx context.Context, database *db.DB) (*PostgresRequestStore, error) {
	if _, err := database.Pool().Exec(ctx, requestSchema); err != nil {
		return nil, fmt.Errorf("creating tool_requests table: %w", err)
	}
	return &PostgresRequestStore{db: database, now: time.Now}, nil
}

func (s *PostgresRequestStore) Create(ctx context.Context, userID, buildingID, optimizationType string) (model.RequestRecord, error) {
	rec := newRequestRecord(s.now(), userID, buildingID, optimizationType)

	_, err := s.db.Pool().Exec(ctx,
		`INSERT INTO tool_requests (`+requestColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.UserID, rec.BuildingID, rec.OptimizationType, string(rec.Status),
		rec.DSSJobID, nullableJSON(rec.Result), rec.Error, rec.CreatedAt, rec.UpdatedAt, rec.CompletedAt,
	)
	if err != nil {
		return model.RequestRecord{}, fmt.Errorf("inserting request: %w", err)
	}
	return rec, nil
}

func (s *PostgresRequestStore) Get(ctx context.Context, id string) (model.RequestRecord, error) {
	row := s.db.Pool().QueryRow(ctx, `SELECT `+requestColumns+` FROM tool_requests WHERE id = $1`, id)
	return scanRequest(row)
}

func (s *PostgresRequestStore) List(ctx context.Context) ([]model.RequestRecord, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT `+requestColumns+` FROM tool_requests ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing requests: %w", err)
	}
	defer rows.Close()

	var out []model.RequestRecord
	for rows.Next() {
		rec, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *PostgresRequestStore) UpdateStatus(ctx context.Context, id string, status model.RequestStatus) error {
	_, err := s.mutate(ctx, `WHERE id = $1`, []any{id}, func(rec *model.RequestRecord) error {
		return transition(rec, status, s.now())
	})
	return err
}

func (s *PostgresRequestStore) RecordJob(ctx context.Context, id, jobID string) error {
	_, err := s.mutate(ctx, `WHERE id = $1`, []any{id}, func(rec *model.RequestRecord) error {
		return assignJob(rec, jobID, s.now())
	})
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, jobID)
	}
	return err
}

func (s *PostgresRequestStore) RecordResult(ctx context.Context, id string, result json.RawMessage) error {
	_, err := s.mutate(ctx, `WHERE id = $1`, []any{id}, func(rec *model.RequestRecord) error {
		return complete(rec, result, s.now())
	})
	return err
}

func (s *PostgresRequestStore) RecordError(ctx context.Context, id string, message string) error {
	_, err := s.mutate(ctx, `WHERE id = $1`, []any{id}, func(rec *model.RequestRecord) error {
		return fail(rec, message, s.now())
	})
	return err
}

func (s *PostgresRequestStore) FindByCallback(ctx context.Context, userID, jobID string) (model.RequestRecord, error) {
	row := s.db.Pool().QueryRow(ctx,
		`SELECT `+requestColumns+` FROM tool_requests WHERE user_id = $1 AND dss_job_id = $2`, userID, jobID)
	return scanRequest(row)
}

func (s *PostgresRequestStore) ResolveByCallback(ctx context.Context, userID, jobID string, result json.RawMessage) (model.RequestRecord, error) {
	return s.mutate(ctx, `WHERE user_id = $1 AND dss_job_id = $2`, []any{userID, jobID}, func(rec *model.RequestRecord) error {
		return complete(rec, result, s.now())
	})
}

// mutate locks the single row matched by where, applies fn and writes the
// mutable columns back in one transaction.
func (s *PostgresRequestStore) mutate(ctx context.Context, where string, args []any, fn func(rec *model.RequestRecord) error) (model.RequestRecord, error) {
	var out model.RequestRecord
	err := s.db.WithTx(ctx, func(tx pgx.Tx) error {
		rec, err := scanRequest(tx.QueryRow(ctx, `SELECT `+requestColumns+` FROM tool_requests `+where+` FOR UPDATE`, args...))
		if err != nil {
			return err
		}
		if err := fn(&rec); err != nil {
			return err
		}

		_, err = tx.Exec(ctx,
			`UPDATE tool_requests SET status = $2, dss_job_id = $3, result = $4, error = $5, updated_at = $6, completed_at = $7 WHERE id = $1`,
			rec.ID, string(rec.Status), rec.DSSJobID, nullableJSON(rec.Result), rec.Error, rec.UpdatedAt, rec.CompletedAt,
		)
		if err != nil {
			return fmt.Errorf("updating request %s: %w", rec.ID, err)
		}
		out = rec
		return nil
	})
	return out, err
}

func scanRequest(row pgx.Row) (model.RequestRecord, error) {
	var (
		rec    model.RequestRecord
		status string
		result []byte
	)
	err := row.Scan(&rec.ID, &rec.UserID, &rec.BuildingID, &rec.OptimizationType, &status,
		&rec.DSSJobID, &result, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.RequestRecord{}, ErrNotFound
		}
		return model.RequestRecord{}, fmt.Errorf("scanning request: %w", err)
	}
	rec.Status = model.RequestStatus(status)
	if len(result) > 0 {
		rec.Result = json.RawMessage(result)
	}
	return rec, nil
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
