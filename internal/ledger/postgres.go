package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool the ledger uses, satisfied by
// pgxmock in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresLedger implements Ledger using pgxpool.
type PostgresLedger struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// the hot write paths.
var preparedStatements = map[string]string{
	"insert_prompt":   `INSERT INTO prompts (hash, content, created_at) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`,
	"insert_response": `INSERT INTO responses (hash, content, created_at) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`,
	"insert_metric":   `INSERT INTO metrics (timestamp, metric_type, metric_name, value, labels) VALUES ($1, $2, $3, $4, $5)`,
}

// NewPostgres creates a PostgresLedger with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresLedger, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}

	return &PostgresLedger{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool. Used in tests.
func NewPostgresWithPool(pool Pool) *PostgresLedger {
	return &PostgresLedger{pool: pool, closeFn: func() {}}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS prompts (
	hash       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS responses (
	hash       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS model_calls (
	id             BIGSERIAL PRIMARY KEY,
	timestamp      TIMESTAMPTZ NOT NULL,
	model_provider TEXT NOT NULL,
	model_name     TEXT NOT NULL,
	call_type      TEXT NOT NULL,
	prompt_hash    TEXT NOT NULL REFERENCES prompts(hash),
	response_hash  TEXT REFERENCES responses(hash),
	latency_ms     BIGINT,
	tokens_in      BIGINT,
	tokens_out     BIGINT,
	success        BOOLEAN NOT NULL,
	error_message  TEXT,
	metadata       JSONB
);

CREATE TABLE IF NOT EXISTS triad_jobs (
	id                 TEXT PRIMARY KEY,
	timestamp          TIMESTAMPTZ NOT NULL,
	user_context       JSONB NOT NULL,
	strategist_call_id BIGINT REFERENCES model_calls(id),
	planner_call_id    BIGINT REFERENCES model_calls(id),
	validator_call_id  BIGINT REFERENCES model_calls(id),
	final_output       JSONB,
	success            BOOLEAN NOT NULL,
	total_latency_ms   BIGINT,
	error_stage        TEXT
);

CREATE TABLE IF NOT EXISTS metrics (
	id          BIGSERIAL PRIMARY KEY,
	timestamp   TIMESTAMPTZ NOT NULL,
	metric_type TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value       DOUBLE PRECISION NOT NULL,
	labels      JSONB
);

CREATE INDEX IF NOT EXISTS idx_model_calls_timestamp ON model_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_model_calls_type ON model_calls(call_type);
CREATE INDEX IF NOT EXISTS idx_triad_jobs_timestamp ON triad_jobs(timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp);
`

func (s *PostgresLedger) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresLedger) Close() error {
	s.closeFn()
	return nil
}

func (s *PostgresLedger) RecordCall(ctx context.Context, call CallRecord) (int64, error) {
	now := time.Now().UTC()
	promptHash := hashContent(call.Prompt)

	var metadataJSON []byte
	if call.Metadata != nil {
		b, err := json.Marshal(call.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal metadata")
		}
		metadataJSON = b
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO prompts (hash, content, created_at) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`,
		promptHash, call.Prompt, now,
	); err != nil {
		return 0, eris.Wrap(err, "postgres: insert prompt")
	}

	var responseHash *string
	if call.Response != "" {
		h := hashContent(call.Response)
		responseHash = &h
		if _, err := tx.Exec(ctx,
			`INSERT INTO responses (hash, content, created_at) VALUES ($1, $2, $3) ON CONFLICT (hash) DO NOTHING`,
			h, call.Response, now,
		); err != nil {
			return 0, eris.Wrap(err, "postgres: insert response")
		}
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO model_calls
		 (timestamp, model_provider, model_name, call_type, prompt_hash, response_hash,
		  latency_ms, tokens_in, tokens_out, success, error_message, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING id`,
		now, call.Provider, call.ModelName, string(call.CallType), promptHash, responseHash,
		call.LatencyMS, call.TokensIn, call.TokensOut, call.Success,
		nilIfEmpty(call.ErrorMessage), metadataJSON,
	).Scan(&id)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert model call")
	}

	return id, eris.Wrap(tx.Commit(ctx), "postgres: commit model call")
}

func (s *PostgresLedger) RecordJob(ctx context.Context, job JobRecord) error {
	contextJSON, err := json.Marshal(job.UserContext)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal user context")
	}

	var outputJSON []byte
	if job.FinalOutput != nil {
		outputJSON, err = json.Marshal(job.FinalOutput)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal final output")
		}
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO triad_jobs
		 (id, timestamp, user_context, strategist_call_id, planner_call_id,
		  validator_call_id, final_output, success, total_latency_ms, error_stage)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		job.ID, time.Now().UTC(), contextJSON,
		job.StrategistCallID, job.PlannerCallID, job.ValidatorCallID,
		outputJSON, job.Success, job.TotalLatencyMS, nilIfEmpty(string(job.ErrorStage)),
	)
	return eris.Wrapf(err, "postgres: insert job %s", job.ID)
}

func (s *PostgresLedger) RecordMetric(ctx context.Context, metricType, name string, value float64, labels map[string]string) error {
	var labelsJSON []byte
	if labels != nil {
		b, err := json.Marshal(labels)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal labels")
		}
		labelsJSON = b
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO metrics (timestamp, metric_type, metric_name, value, labels) VALUES ($1, $2, $3, $4, $5)`,
		time.Now().UTC(), metricType, name, value, labelsJSON,
	)
	return eris.Wrapf(err, "postgres: insert metric %s", name)
}

func (s *PostgresLedger) CallStats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(latency_ms), 0),
		COALESCE(MAX(latency_ms), 0),
		COALESCE(AVG(tokens_in), 0),
		COALESCE(AVG(tokens_out), 0),
		COALESCE(SUM(tokens_in), 0),
		COALESCE(SUM(tokens_out), 0)
	FROM model_calls WHERE true`
	var args []any

	if filter.CallType != "" {
		args = append(args, string(filter.CallType))
		query += placeholderClause(` AND call_type = `, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += placeholderClause(` AND timestamp >= `, len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until.UTC())
		query += placeholderClause(` AND timestamp <= `, len(args))
	}

	var st Stats
	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&st.TotalCalls, &st.SuccessfulCalls, &st.AvgLatencyMS, &st.MaxLatencyMS,
		&st.AvgTokensIn, &st.AvgTokensOut, &st.TotalTokensIn, &st.TotalTokensOut,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: call stats")
	}
	if st.TotalCalls > 0 {
		st.SuccessRate = float64(st.SuccessfulCalls) / float64(st.TotalCalls)
	}
	return &st, nil
}

func (s *PostgresLedger) ExportCalls(ctx context.Context, w io.Writer, filter ExportFilter) (int, error) {
	query := `SELECT
		mc.id, mc.timestamp, mc.model_provider, mc.model_name, mc.call_type,
		p.content, r.content, mc.tokens_in, mc.tokens_out, mc.metadata
	FROM model_calls mc
	LEFT JOIN prompts p ON mc.prompt_hash = p.hash
	LEFT JOIN responses r ON mc.response_hash = r.hash
	WHERE mc.success`
	var args []any

	if filter.CallType != "" {
		args = append(args, string(filter.CallType))
		query += placeholderClause(` AND mc.call_type = `, len(args))
	}
	if !filter.Since.IsZero() {
		args = append(args, filter.Since.UTC())
		query += placeholderClause(` AND mc.timestamp >= `, len(args))
	}
	if !filter.Until.IsZero() {
		args = append(args, filter.Until.UTC())
		query += placeholderClause(` AND mc.timestamp <= `, len(args))
	}
	query += ` ORDER BY mc.id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: export calls")
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var ec ExportedCall
		var response sql.NullString
		var metadataJSON []byte
		if err := rows.Scan(
			&ec.ID, &ec.Timestamp, &ec.Provider, &ec.ModelName, &ec.CallType,
			&ec.Prompt, &response, &ec.TokensIn, &ec.TokensOut, &metadataJSON,
		); err != nil {
			return count, eris.Wrap(err, "postgres: scan exported call")
		}
		ec.Response = response.String
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &ec.Metadata); err != nil {
				return count, eris.Wrap(err, "postgres: unmarshal metadata")
			}
		}
		if err := enc.Encode(ec); err != nil {
			return count, eris.Wrap(err, "postgres: encode exported call")
		}
		count++
	}
	return count, eris.Wrap(rows.Err(), "postgres: export calls iterate")
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func placeholderClause(prefix string, n int) string {
	return fmt.Sprintf("%s$%d", prefix, n)
}
