package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/assemble"
	"github.com/snarg/scribe-engine/internal/entities"
)

// PostgresStore persists jobs in a single jobs table with JSONB payload
// columns. Read-modify-write runs under SELECT ... FOR UPDATE so concurrent
// writers serialize per job.
type PostgresStore struct {
	pool      *pgxpool.Pool
	retention Retention
	log       zerolog.Logger
}

const jobsSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id         TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	progress   INT  NOT NULL DEFAULT 0,
	language   TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	payload    JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_created_at_idx ON jobs (created_at);
`

// jobPayload holds the large result fields stored in the JSONB column.
type jobPayload struct {
	Chunks               json.RawMessage `json:"chunks,omitempty"`
	TranscriptionResults json.RawMessage `json:"transcription_results,omitempty"`
	Transcript           json.RawMessage `json:"transcript,omitempty"`
	Entities             json.RawMessage `json:"entities,omitempty"`
}

// ConnectPostgres opens a pool, verifies connectivity, and ensures the
// schema exists.
func ConnectPostgres(ctx context.Context, databaseURL string, retention Retention, log zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, jobsSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	log.Info().Str("url", maskDSN(databaseURL)).Msg("job store connected")
	return &PostgresStore{pool: pool, retention: retention, log: log}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.log.Info().Msg("closing job store pool")
	s.pool.Close()
}

// HealthCheck pings the database with a short timeout.
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Create(ctx context.Context, params CreateParams) (*Job, error) {
	now := time.Now().UTC()
	j := &Job{
		ID:        uuid.NewString(),
		Status:    StatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
		Language:  params.Language,
		Chunks:    params.Chunks,
	}

	payload, err := encodePayload(j)
	if err != nil {
		return nil, err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, progress, language, error, created_at, updated_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, j.ID, j.Status, j.Progress, j.Language, j.Error, j.CreatedAt, j.UpdatedAt, payload)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, status, progress, language, error, created_at, updated_at, payload
		FROM jobs WHERE id = $1
	`, id)
	return scanJob(row)
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		SELECT id, status, progress, language, error, created_at, updated_at, payload
		FROM jobs WHERE id = $1 FOR UPDATE
	`, id)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}

	if err := fn(j); err != nil {
		return nil, err
	}
	j.UpdatedAt = time.Now().UTC()

	payload, err := encodePayload(j)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, progress = $3, language = $4, error = $5,
			updated_at = $6, payload = $7
		WHERE id = $1
	`, j.ID, j.Status, j.Progress, j.Language, j.Error, j.UpdatedAt, payload)
	if err != nil {
		return nil, fmt.Errorf("update job: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id, reason string) error {
	_, err := s.Update(ctx, id, markFailed(reason, time.Now().UTC()))
	return err
}

func (s *PostgresStore) MarkCompleted(ctx context.Context, id string, transcript *assemble.AssembledTranscript, result *entities.Result) error {
	_, err := s.Update(ctx, id, markCompleted(transcript, result, time.Now().UTC()))
	return err
}

func (s *PostgresStore) Retry(ctx context.Context, id string) (*Job, error) {
	return s.Update(ctx, id, retry(time.Now().UTC()))
}

func (s *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	purged := 0

	if s.retention.Jobs > 0 {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM jobs WHERE created_at < now() - $1::interval`,
			s.retention.Jobs.String())
		if err != nil {
			return purged, err
		}
		purged += int(tag.RowsAffected())
	}

	if s.retention.FailedJobs > 0 {
		tag, err := s.pool.Exec(ctx,
			`DELETE FROM jobs WHERE status = $1 AND updated_at < now() - $2::interval`,
			StatusFailed, s.retention.FailedJobs.String())
		if err != nil {
			return purged, err
		}
		purged += int(tag.RowsAffected())
	}

	return purged, nil
}

func encodePayload(j *Job) ([]byte, error) {
	p := jobPayload{}
	var err error
	if j.Chunks != nil {
		if p.Chunks, err = json.Marshal(j.Chunks); err != nil {
			return nil, fmt.Errorf("encode chunks: %w", err)
		}
	}
	if j.TranscriptionResults != nil {
		if p.TranscriptionResults, err = json.Marshal(j.TranscriptionResults); err != nil {
			return nil, fmt.Errorf("encode transcription results: %w", err)
		}
	}
	if j.Transcript != nil {
		if p.Transcript, err = json.Marshal(j.Transcript); err != nil {
			return nil, fmt.Errorf("encode transcript: %w", err)
		}
	}
	if j.Entities != nil {
		if p.Entities, err = json.Marshal(j.Entities); err != nil {
			return nil, fmt.Errorf("encode entities: %w", err)
		}
	}
	return json.Marshal(p)
}

func scanJob(row pgx.Row) (*Job, error) {
	j := &Job{}
	var payload []byte
	err := row.Scan(&j.ID, &j.Status, &j.Progress, &j.Language, &j.Error,
		&j.CreatedAt, &j.UpdatedAt, &payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p jobPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if p.Chunks != nil {
		if err := json.Unmarshal(p.Chunks, &j.Chunks); err != nil {
			return nil, fmt.Errorf("decode chunks: %w", err)
		}
	}
	if p.TranscriptionResults != nil {
		if err := json.Unmarshal(p.TranscriptionResults, &j.TranscriptionResults); err != nil {
			return nil, fmt.Errorf("decode transcription results: %w", err)
		}
	}
	if p.Transcript != nil {
		if err := json.Unmarshal(p.Transcript, &j.Transcript); err != nil {
			return nil, fmt.Errorf("decode transcript: %w", err)
		}
	}
	if p.Entities != nil {
		if err := json.Unmarshal(p.Entities, &j.Entities); err != nil {
			return nil, fmt.Errorf("decode entities: %w", err)
		}
	}
	return j, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
