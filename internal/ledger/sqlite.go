package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteLedger implements Ledger using modernc.org/sqlite.
type SQLiteLedger struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteLedger{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS prompts (
	hash       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS responses (
	hash       TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS model_calls (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp      DATETIME NOT NULL,
	model_provider TEXT NOT NULL,
	model_name     TEXT NOT NULL,
	call_type      TEXT NOT NULL,
	prompt_hash    TEXT NOT NULL REFERENCES prompts(hash),
	response_hash  TEXT REFERENCES responses(hash),
	latency_ms     INTEGER,
	tokens_in      INTEGER,
	tokens_out     INTEGER,
	success        BOOLEAN NOT NULL,
	error_message  TEXT,
	metadata       TEXT
);

CREATE TABLE IF NOT EXISTS triad_jobs (
	id                 TEXT PRIMARY KEY,
	timestamp          DATETIME NOT NULL,
	user_context       TEXT NOT NULL,
	strategist_call_id INTEGER REFERENCES model_calls(id),
	planner_call_id    INTEGER REFERENCES model_calls(id),
	validator_call_id  INTEGER REFERENCES model_calls(id),
	final_output       TEXT,
	success            BOOLEAN NOT NULL,
	total_latency_ms   INTEGER,
	error_stage        TEXT
);

CREATE TABLE IF NOT EXISTS metrics (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp   DATETIME NOT NULL,
	metric_type TEXT NOT NULL,
	metric_name TEXT NOT NULL,
	value       REAL NOT NULL,
	labels      TEXT
);

CREATE INDEX IF NOT EXISTS idx_model_calls_timestamp ON model_calls(timestamp);
CREATE INDEX IF NOT EXISTS idx_model_calls_type ON model_calls(call_type);
CREATE INDEX IF NOT EXISTS idx_triad_jobs_timestamp ON triad_jobs(timestamp);
CREATE INDEX IF NOT EXISTS idx_metrics_timestamp ON metrics(timestamp);
`

func (s *SQLiteLedger) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteLedger) Close() error {
	return s.db.Close()
}

func (s *SQLiteLedger) RecordCall(ctx context.Context, call CallRecord) (int64, error) {
	now := time.Now().UTC()
	promptHash := hashContent(call.Prompt)

	var metadataJSON sql.NullString
	if call.Metadata != nil {
		b, err := json.Marshal(call.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal metadata")
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO prompts (hash, content, created_at) VALUES (?, ?, ?)`,
		promptHash, call.Prompt, now,
	); err != nil {
		return 0, eris.Wrap(err, "sqlite: insert prompt")
	}

	var responseHash sql.NullString
	if call.Response != "" {
		responseHash = sql.NullString{String: hashContent(call.Response), Valid: true}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO responses (hash, content, created_at) VALUES (?, ?, ?)`,
			responseHash.String, call.Response, now,
		); err != nil {
			return 0, eris.Wrap(err, "sqlite: insert response")
		}
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO model_calls
		 (timestamp, model_provider, model_name, call_type, prompt_hash, response_hash,
		  latency_ms, tokens_in, tokens_out, success, error_message, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		now, call.Provider, call.ModelName, string(call.CallType), promptHash, responseHash,
		call.LatencyMS, call.TokensIn, call.TokensOut, call.Success,
		nullString(call.ErrorMessage), metadataJSON,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: insert model call")
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: last insert id")
	}
	return id, eris.Wrap(tx.Commit(), "sqlite: commit model call")
}

func (s *SQLiteLedger) RecordJob(ctx context.Context, job JobRecord) error {
	contextJSON, err := json.Marshal(job.UserContext)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal user context")
	}

	var outputJSON sql.NullString
	if job.FinalOutput != nil {
		b, err := json.Marshal(job.FinalOutput)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal final output")
		}
		outputJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO triad_jobs
		 (id, timestamp, user_context, strategist_call_id, planner_call_id,
		  validator_call_id, final_output, success, total_latency_ms, error_stage)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, time.Now().UTC(), string(contextJSON),
		job.StrategistCallID, job.PlannerCallID, job.ValidatorCallID,
		outputJSON, job.Success, job.TotalLatencyMS, nullString(string(job.ErrorStage)),
	)
	return eris.Wrapf(err, "sqlite: insert job %s", job.ID)
}

func (s *SQLiteLedger) RecordMetric(ctx context.Context, metricType, name string, value float64, labels map[string]string) error {
	var labelsJSON sql.NullString
	if labels != nil {
		b, err := json.Marshal(labels)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal labels")
		}
		labelsJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO metrics (timestamp, metric_type, metric_name, value, labels) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UTC(), metricType, name, value, labelsJSON,
	)
	return eris.Wrapf(err, "sqlite: insert metric %s", name)
}

func (s *SQLiteLedger) CallStats(ctx context.Context, filter StatsFilter) (*Stats, error) {
	query := `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(latency_ms), 0),
		COALESCE(MAX(latency_ms), 0),
		COALESCE(AVG(tokens_in), 0),
		COALESCE(AVG(tokens_out), 0),
		COALESCE(SUM(tokens_in), 0),
		COALESCE(SUM(tokens_out), 0)
	FROM model_calls WHERE 1=1`
	var args []any

	if filter.CallType != "" {
		query += ` AND call_type = ?`
		args = append(args, string(filter.CallType))
	}
	if !filter.Since.IsZero() {
		query += ` AND timestamp >= ?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND timestamp <= ?`
		args = append(args, filter.Until.UTC())
	}

	var st Stats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&st.TotalCalls, &st.SuccessfulCalls, &st.AvgLatencyMS, &st.MaxLatencyMS,
		&st.AvgTokensIn, &st.AvgTokensOut, &st.TotalTokensIn, &st.TotalTokensOut,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: call stats")
	}
	if st.TotalCalls > 0 {
		st.SuccessRate = float64(st.SuccessfulCalls) / float64(st.TotalCalls)
	}
	return &st, nil
}

func (s *SQLiteLedger) ExportCalls(ctx context.Context, w io.Writer, filter ExportFilter) (int, error) {
	query := `SELECT
		mc.id, mc.timestamp, mc.model_provider, mc.model_name, mc.call_type,
		p.content, r.content, mc.tokens_in, mc.tokens_out, mc.metadata
	FROM model_calls mc
	LEFT JOIN prompts p ON mc.prompt_hash = p.hash
	LEFT JOIN responses r ON mc.response_hash = r.hash
	WHERE mc.success = 1`
	var args []any

	if filter.CallType != "" {
		query += ` AND mc.call_type = ?`
		args = append(args, string(filter.CallType))
	}
	if !filter.Since.IsZero() {
		query += ` AND mc.timestamp >= ?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND mc.timestamp <= ?`
		args = append(args, filter.Until.UTC())
	}
	query += ` ORDER BY mc.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: export calls")
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	for rows.Next() {
		var ec ExportedCall
		var response, metadataJSON sql.NullString
		if err := rows.Scan(
			&ec.ID, &ec.Timestamp, &ec.Provider, &ec.ModelName, &ec.CallType,
			&ec.Prompt, &response, &ec.TokensIn, &ec.TokensOut, &metadataJSON,
		); err != nil {
			return count, eris.Wrap(err, "sqlite: scan exported call")
		}
		ec.Response = response.String
		if metadataJSON.Valid {
			if err := json.Unmarshal([]byte(metadataJSON.String), &ec.Metadata); err != nil {
				return count, eris.Wrap(err, "sqlite: unmarshal metadata")
			}
		}
		if err := enc.Encode(ec); err != nil {
			return count, eris.Wrap(err, "sqlite: encode exported call")
		}
		count++
	}
	return count, eris.Wrap(rows.Err(), "sqlite: export calls iterate")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
