package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ogolikhin/procgraph/internal/process"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS processes (
    id          BIGINT PRIMARY KEY,
    name        TEXT NOT NULL DEFAULT '',
    revision    TEXT NOT NULL,
    shape_count INTEGER NOT NULL DEFAULT 0,
    model       JSONB NOT NULL,
    updated_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_processes_name ON processes(name);
`

// PostgresBackend stores processes in a PostgreSQL table, one JSONB row per
// process.
type PostgresBackend struct {
	mu       sync.RWMutex
	db       *pgxpool.Pool
	readOnly bool
}

// NewPostgresBackend creates a backend. Pass a pool to share one, or nil to
// have Initialize connect using its location as the database URL.
func NewPostgresBackend(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{db: pool}
}

// Initialize connects to the database and creates the schema.
func (p *PostgresBackend) Initialize(ctx context.Context, url string, readOnly bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		pool, err := pgxpool.New(ctx, url)
		if err != nil {
			return fmt.Errorf("connecting to postgres: %w", err)
		}
		p.db = pool
	}
	p.readOnly = readOnly

	if readOnly {
		return nil
	}
	return p.createSchema(ctx)
}

func (p *PostgresBackend) createSchema(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// DropSchema drops the processes table.
func (p *PostgresBackend) DropSchema(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db == nil {
		return ErrClosed
	}
	_, err := p.db.Exec(ctx, `DROP TABLE IF EXISTS processes CASCADE;`)
	return err
}

// Close releases the connection pool.
func (p *PostgresBackend) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.db != nil {
		p.db.Close()
		p.db = nil
	}
	return nil
}

// Save implements Backend.
func (p *PostgresBackend) Save(ctx context.Context, m *process.Model) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return "", ErrClosed
	}
	if p.readOnly {
		return "", ErrReadOnly
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("marshaling process: %w", err)
	}
	revision := uuid.NewString()

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO processes (id, name, revision, shape_count, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			revision = EXCLUDED.revision,
			shape_count = EXCLUDED.shape_count,
			model = EXCLUDED.model,
			updated_at = EXCLUDED.updated_at`,
		m.ID, m.Name, revision, m.ShapeCount(), data,
	); err != nil {
		return "", fmt.Errorf("saving process %d: %w", m.ID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return revision, nil
}

// Get implements Backend.
func (p *PostgresBackend) Get(ctx context.Context, id int) (*Record, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, ErrClosed
	}

	var (
		data []byte
		r    Record
	)
	err := p.db.QueryRow(ctx,
		`SELECT model, revision, updated_at FROM processes WHERE id = $1`, id,
	).Scan(&data, &r.Revision, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProcessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading process %d: %w", id, err)
	}

	if err := json.Unmarshal(data, &r.Model); err != nil {
		return nil, fmt.Errorf("decoding process %d: %w", id, err)
	}
	r.UpdatedAt = r.UpdatedAt.UTC()
	return &r, nil
}

// Delete implements Backend.
func (p *PostgresBackend) Delete(ctx context.Context, id int) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return ErrClosed
	}
	if p.readOnly {
		return ErrReadOnly
	}

	tag, err := p.db.Exec(ctx, `DELETE FROM processes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting process %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrProcessNotFound
	}
	return nil
}

// List implements Backend.
func (p *PostgresBackend) List(ctx context.Context) ([]Summary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, ErrClosed
	}

	rows, err := p.db.Query(ctx,
		`SELECT id, name, revision, shape_count, updated_at FROM processes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing processes: %w", err)
	}
	defer rows.Close()

	result := make([]Summary, 0)
	for rows.Next() {
		var (
			s       Summary
			updated time.Time
		)
		if err := rows.Scan(&s.ID, &s.Name, &s.Revision, &s.Shapes, &updated); err != nil {
			return nil, fmt.Errorf("scanning process: %w", err)
		}
		s.UpdatedAt = updated.UTC()
		result = append(result, s)
	}
	return result, rows.Err()
}

// Search implements Backend. Ranking matches the other backends, so every
// row is decoded and scored in process.
func (p *PostgresBackend) Search(ctx context.Context, query string, limit int) ([]Summary, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.db == nil {
		return nil, ErrClosed
	}

	rows, err := p.db.Query(ctx,
		`SELECT model, revision, updated_at FROM processes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("searching processes: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var (
			data []byte
			r    Record
		)
		if err := rows.Scan(&data, &r.Revision, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning process: %w", err)
		}
		if err := json.Unmarshal(data, &r.Model); err != nil {
			return nil, fmt.Errorf("decoding process: %w", err)
		}
		r.UpdatedAt = r.UpdatedAt.UTC()
		records = append(records, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return searchRecords(records, query, limit), nil
}
