// Package storage persists aggregated validation results to PostgreSQL.
// Per-folder metric vectors are stored as pgvector embeddings so past runs
// with similar quality profiles can be found with a nearest-neighbour query.
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// PostgresConfig holds connection details for PostgreSQL.
type PostgresConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

func (c PostgresConfig) connString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s",
		c.User,
		c.Password,
		c.Host,
		c.Port,
		c.DBName,
	)
}

// RunResult is one completed validation pass as reported by rank 0.
type RunResult struct {
	Experiment  string
	Dataset     string
	Iteration   int
	MetricNames []string
	// Totals are the global per-metric averages, ordered like MetricNames.
	Totals []float64
	// Folders maps each folder to its per-metric averages.
	Folders map[string][]float64
}

// RunSearchResult is one hit from a similarity search over past runs.
type RunSearchResult struct {
	RunID      uuid.UUID
	Experiment string
	Dataset    string
	Iteration  int
	Similarity float64
}

// PostgresStore manages interaction with PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL storage connection.
func NewPostgresStore(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, config.connString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SaveRun stores one validation pass and its per-folder results, returning
// the new run's identifier.
func (s *PostgresStore) SaveRun(ctx context.Context, result RunResult) (uuid.UUID, error) {
	runID := uuid.New()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO validation_runs
		(id, experiment, dataset, iteration, metric_names, totals, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		runID, result.Experiment, result.Dataset, result.Iteration,
		result.MetricNames, pgvector.NewVector(toFloat32(result.Totals)), time.Now())
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to store validation run: %w", err)
	}

	for folder, scores := range result.Folders {
		_, err = s.pool.Exec(ctx,
			`INSERT INTO folder_results
			(run_id, folder, scores, created_at)
			VALUES ($1, $2, $3, $4)`,
			runID, folder, pgvector.NewVector(toFloat32(scores)), time.Now())
		if err != nil {
			return uuid.Nil, fmt.Errorf("failed to store folder result %q: %w", folder, err)
		}
	}

	return runID, nil
}

// SearchSimilarRuns finds past runs whose global metric profile is closest
// to the given one, most similar first.
func (s *PostgresStore) SearchSimilarRuns(ctx context.Context, totals []float64, limit int) ([]RunSearchResult, error) {
	query := pgvector.NewVector(toFloat32(totals))

	rows, err := s.pool.Query(ctx,
		`SELECT id, experiment, dataset, iteration,
		1 - (totals <=> $1) AS similarity
		FROM validation_runs
		ORDER BY totals <=> $1
		LIMIT $2`,
		query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search similar runs: %w", err)
	}
	defer rows.Close()

	var results []RunSearchResult
	for rows.Next() {
		var r RunSearchResult
		if err := rows.Scan(&r.RunID, &r.Experiment, &r.Dataset,
			&r.Iteration, &r.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan search results: %w", err)
		}
		results = append(results, r)
	}

	return results, rows.Err()
}

// InitSchema creates the database schema if it doesn't exist.
func InitSchema(ctx context.Context, config PostgresConfig) error {
	conn, err := pgx.Connect(ctx, config.connString())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer conn.Close(ctx)

	// Check if vector extension exists
	var exists bool
	err = conn.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_extension WHERE extname = 'vector')").Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check for vector extension: %w", err)
	}

	if !exists {
		if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
	}

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS validation_runs (
			id UUID PRIMARY KEY,
			experiment TEXT NOT NULL,
			dataset TEXT NOT NULL,
			iteration INTEGER NOT NULL,
			metric_names TEXT[] NOT NULL,
			totals vector,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create validation_runs table: %w", err)
	}

	_, err = conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS folder_results (
			id SERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES validation_runs(id),
			folder TEXT NOT NULL,
			scores vector,
			created_at TIMESTAMPTZ NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create folder_results table: %w", err)
	}
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
