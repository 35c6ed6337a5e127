package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"

	"github.com/canopy-ai/canopy/internal/model"
)

// Postgres is a Store backed by JSONB document tables.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres creates a Postgres store with a connection pool and
// verifies connectivity.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("docstore: parse DSN: %w", err)
	}

	// Register pgvector types on each new connection. Best-effort: the
	// extension may not exist yet on first startup before migrations.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		if err := pgxvector.RegisterTypes(ctx, conn); err != nil {
			logger.Debug("docstore: pgvector types not registered (extension may not exist yet)", "error", err)
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("docstore: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("docstore: ping: %w", err)
	}
	return &Postgres{pool: pool, logger: logger}, nil
}

// Ping checks connectivity to the database.
func (s *Postgres) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (s *Postgres) Close() {
	s.pool.Close()
}

// RunMigrations executes unapplied SQL migration files from the
// provided filesystem in order, tracking applied files in a
// schema_migrations table so each runs at most once.
func (s *Postgres) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	if _, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return fmt.Errorf("docstore: create schema_migrations: %w", err)
	}

	applied := map[string]bool{}
	rows, err := s.pool.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return fmt.Errorf("docstore: load applied migrations: %w", err)
	}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("docstore: scan migration version: %w", err)
		}
		applied[v] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("docstore: read applied migrations: %w", err)
	}

	entries, err := fs.ReadDir(migrationsFS, ".")
	if err != nil {
		return fmt.Errorf("docstore: read migrations dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		name := entry.Name()
		if applied[name] {
			s.logger.Debug("migration already applied, skipping", "file", name)
			continue
		}
		content, err := fs.ReadFile(migrationsFS, name)
		if err != nil {
			return fmt.Errorf("docstore: read migration %s: %w", name, err)
		}
		s.logger.Info("running migration", "file", name)
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("docstore: execute migration %s: %w", name, err)
		}
		if _, err := s.pool.Exec(ctx,
			`INSERT INTO schema_migrations (version) VALUES ($1)`, name); err != nil {
			return fmt.Errorf("docstore: record migration %s: %w", name, err)
		}
	}
	return nil
}

func (s *Postgres) GetTrace(ctx context.Context, projectID, traceID string) (model.Trace, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM traces WHERE project_id = $1 AND trace_id = $2`,
		projectID, traceID,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Trace{}, ErrNotFound
		}
		return model.Trace{}, fmt.Errorf("docstore: get trace: %w", err)
	}
	var trace model.Trace
	if err := json.Unmarshal(doc, &trace); err != nil {
		return model.Trace{}, fmt.Errorf("docstore: decode trace: %w", err)
	}
	return trace, nil
}

func (s *Postgres) UpsertTrace(ctx context.Context, trace model.Trace) error {
	doc, err := json.Marshal(trace)
	if err != nil {
		return fmt.Errorf("docstore: encode trace: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO traces (project_id, trace_id, doc, updated_at)
		 VALUES ($1, $2, $3, now())
		 ON CONFLICT (project_id, trace_id)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		trace.ProjectID, trace.TraceID, doc,
	)
	if err != nil {
		return fmt.Errorf("docstore: upsert trace: %w", err)
	}
	return nil
}

func (s *Postgres) SpansByTrace(ctx context.Context, projectID, traceID string) ([]*model.Span, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM spans WHERE project_id = $1 AND trace_id = $2`,
		projectID, traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: list spans: %w", err)
	}
	defer rows.Close()

	var spans []*model.Span
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("docstore: scan span: %w", err)
		}
		var sp model.Span
		if err := json.Unmarshal(doc, &sp); err != nil {
			return nil, fmt.Errorf("docstore: decode span: %w", err)
		}
		spans = append(spans, &sp)
	}
	return spans, rows.Err()
}

func (s *Postgres) UpsertSpan(ctx context.Context, span *model.Span) error {
	doc, err := json.Marshal(span)
	if err != nil {
		return fmt.Errorf("docstore: encode span: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO spans (project_id, trace_id, span_id, doc, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (project_id, trace_id, span_id)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		span.ProjectID, span.TraceID, span.SpanID, doc,
	)
	if err != nil {
		return fmt.Errorf("docstore: upsert span: %w", err)
	}
	return nil
}

func (s *Postgres) GetCheck(ctx context.Context, projectID, traceID, checkID string) (model.CheckResult, error) {
	var doc []byte
	err := s.pool.QueryRow(ctx,
		`SELECT doc FROM checks WHERE project_id = $1 AND trace_id = $2 AND check_id = $3`,
		projectID, traceID, checkID,
	).Scan(&doc)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.CheckResult{}, ErrNotFound
		}
		return model.CheckResult{}, fmt.Errorf("docstore: get check: %w", err)
	}
	var result model.CheckResult
	if err := json.Unmarshal(doc, &result); err != nil {
		return model.CheckResult{}, fmt.Errorf("docstore: decode check: %w", err)
	}
	return result, nil
}

func (s *Postgres) UpsertCheck(ctx context.Context, result model.CheckResult) error {
	doc, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("docstore: encode check: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO checks (project_id, trace_id, check_id, doc, updated_at)
		 VALUES ($1, $2, $3, $4, now())
		 ON CONFLICT (project_id, trace_id, check_id)
		 DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		result.ProjectID, result.TraceID, result.CheckID, doc,
	)
	if err != nil {
		return fmt.Errorf("docstore: upsert check: %w", err)
	}
	return nil
}

func (s *Postgres) ChecksByTrace(ctx context.Context, projectID, traceID string) ([]model.CheckResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM checks WHERE project_id = $1 AND trace_id = $2`,
		projectID, traceID,
	)
	if err != nil {
		return nil, fmt.Errorf("docstore: list checks: %w", err)
	}
	defer rows.Close()

	var results []model.CheckResult
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("docstore: scan check: %w", err)
		}
		var r model.CheckResult
		if err := json.Unmarshal(doc, &r); err != nil {
			return nil, fmt.Errorf("docstore: decode check: %w", err)
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

func (s *Postgres) DeleteProjectTraces(ctx context.Context, projectID string) error {
	for _, table := range []string{"checks", "spans", "traces"} {
		if _, err := s.pool.Exec(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE project_id = $1`, table), projectID); err != nil {
			return fmt.Errorf("docstore: delete project %s: %w", table, err)
		}
	}
	return nil
}

var _ Store = (*Postgres)(nil)
