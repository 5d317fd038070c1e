package memory

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/MrDeox/Autogs/internal/evolution/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts the pgx pool so the backend can be exercised against
// pgxmock in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS episodes (
	id         TEXT PRIMARY KEY,
	component  TEXT NOT NULL,
	kind       TEXT NOT NULL,
	outcome    TEXT NOT NULL,
	detail     TEXT NOT NULL DEFAULT '',
	state_key  TEXT NOT NULL,
	state      JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS episodes_pair_idx ON episodes (component, kind, created_at DESC);`

// Postgres is the durable episodic memory backend. Statistics semantics
// are identical to the in-memory backend; only the storage differs.
type Postgres struct {
	log  *zap.Logger
	pool DBPool
	opts Options
}

var _ Store = (*Postgres)(nil)

// NewPostgres connects to the given DSN and ensures the schema exists.
func NewPostgres(ctx context.Context, logger *zap.Logger, dsn string, opts Options) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting episodic memory pool: %w", err)
	}
	return NewPostgresWithPool(ctx, logger, pool, opts)
}

// NewPostgresWithPool wraps an existing pool (or a pgxmock pool in
// tests) and ensures the schema exists.
func NewPostgresWithPool(ctx context.Context, logger *zap.Logger, pool DBPool, opts Options) (*Postgres, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &Postgres{
		log:  logger.Named("EpisodicMemoryPG"),
		pool: pool,
		opts: opts,
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging episodic memory database: %w", err)
	}
	if _, err := pool.Exec(ctx, schemaDDL); err != nil {
		return nil, fmt.Errorf("ensuring episodic memory schema: %w", err)
	}
	return p, nil
}

// Record inserts the episode and prunes everything beyond the cap,
// oldest first.
func (p *Postgres) Record(ctx context.Context, ep models.Episode) error {
	stateJSON, err := json.Marshal(ep.State)
	if err != nil {
		return fmt.Errorf("encoding episode state: %w", err)
	}

	_, err = p.pool.Exec(ctx,
		`INSERT INTO episodes (id, component, kind, outcome, detail, state_key, state, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		ep.ID, ep.Action.Component, string(ep.Action.Kind), string(ep.Outcome),
		ep.Detail, ep.StateKey, stateJSON, ep.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting episode: %w", err)
	}

	tag, err := p.pool.Exec(ctx,
		`DELETE FROM episodes WHERE id IN (
			SELECT id FROM episodes ORDER BY created_at DESC OFFSET $1)`,
		p.opts.MaxEpisodes,
	)
	if err != nil {
		return fmt.Errorf("pruning episodes: %w", err)
	}
	if tag.RowsAffected() > 0 {
		p.log.Debug("Pruned oldest episodes", zap.Int64("pruned", tag.RowsAffected()))
	}
	return nil
}

// RecentFailureRate computes the ratio inside the recency window.
func (p *Postgres) RecentFailureRate(ctx context.Context, component string, kind models.TransformKind) (float64, int, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT outcome FROM (
			SELECT outcome, component, kind FROM episodes
			ORDER BY created_at DESC LIMIT $1
		 ) recent WHERE component = $2 AND kind = $3`,
		p.opts.RecencyWindow, component, string(kind),
	)
	if err != nil {
		return 0, 0, fmt.Errorf("querying recent episodes: %w", err)
	}
	defer rows.Close()

	var matched, failed int
	for rows.Next() {
		var outcome string
		if err := rows.Scan(&outcome); err != nil {
			return 0, 0, fmt.Errorf("scanning episode outcome: %w", err)
		}
		matched++
		if models.EpisodeOutcome(outcome).Failed() {
			failed++
		}
	}
	if err := rows.Err(); err != nil {
		return 0, 0, fmt.Errorf("iterating recent episodes: %w", err)
	}

	if matched < p.opts.MinSampleSize {
		return NeutralFailureRate, matched, nil
	}
	return float64(failed) / float64(matched), matched, nil
}

// GlobalHeuristics aggregates per kind over the entire table.
func (p *Postgres) GlobalHeuristics(ctx context.Context) (map[models.TransformKind]models.Heuristic, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT kind, COUNT(*), COUNT(*) FILTER (WHERE outcome = $1)
		 FROM episodes GROUP BY kind`,
		string(models.OutcomeCommitted),
	)
	if err != nil {
		return nil, fmt.Errorf("querying heuristics: %w", err)
	}
	defer rows.Close()

	out := make(map[models.TransformKind]models.Heuristic)
	for rows.Next() {
		var kind string
		var attempts, successes int
		if err := rows.Scan(&kind, &attempts, &successes); err != nil {
			return nil, fmt.Errorf("scanning heuristic row: %w", err)
		}
		h := models.Heuristic{Attempts: attempts, Successes: successes}
		if attempts > 0 {
			h.SuccessRate = float64(successes) / float64(attempts)
		}
		out[models.TransformKind(kind)] = h
	}
	return out, rows.Err()
}

// RecentFailures lists failed episodes for the pair, newest first.
func (p *Postgres) RecentFailures(ctx context.Context, component string, kind models.TransformKind, limit int) ([]models.Episode, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, component, kind, outcome, detail, state_key, state, created_at
		 FROM episodes
		 WHERE component = $1 AND kind = $2 AND outcome <> $3
		 ORDER BY created_at DESC LIMIT $4`,
		component, string(kind), string(models.OutcomeCommitted), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying recent failures: %w", err)
	}
	defer rows.Close()

	var out []models.Episode
	for rows.Next() {
		var (
			ep        models.Episode
			kindStr   string
			outcome   string
			stateJSON []byte
		)
		if err := rows.Scan(&ep.ID, &ep.Action.Component, &kindStr, &outcome, &ep.Detail, &ep.StateKey, &stateJSON, &ep.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning failure row: %w", err)
		}
		ep.Action.Kind = models.TransformKind(kindStr)
		ep.Outcome = models.EpisodeOutcome(outcome)
		if err := json.Unmarshal(stateJSON, &ep.State); err != nil {
			return nil, fmt.Errorf("decoding episode state: %w", err)
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// Count returns the retained episode count.
func (p *Postgres) Count(ctx context.Context) (int, error) {
	var n int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting episodes: %w", err)
	}
	return n, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
