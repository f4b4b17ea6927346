package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"nickel_agent/internal/domain"

	_ "modernc.org/sqlite"
)

var ErrRunNotFound = errors.New("analysis run not found")

const schema = `
CREATE TABLE IF NOT EXISTS analysis_runs (
	id TEXT PRIMARY KEY,
	question TEXT NOT NULL,
	baseline TEXT NOT NULL,
	status TEXT NOT NULL,
	conclusion_level TEXT NOT NULL DEFAULT '',
	confidence_level TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_analysis_runs_created ON analysis_runs(created_at);

CREATE TABLE IF NOT EXISTS agent_outputs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	agent_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	failed INTEGER NOT NULL,
	output TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	UNIQUE(run_id, agent_id),
	FOREIGN KEY(run_id) REFERENCES analysis_runs(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS decision_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id TEXT NOT NULL,
	actor TEXT NOT NULL,
	action TEXT NOT NULL,
	reason TEXT NOT NULL,
	payload TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	FOREIGN KEY(run_id) REFERENCES analysis_runs(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_decision_log_run ON decision_log(run_id, id);

CREATE TABLE IF NOT EXISTS file_change_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	actor TEXT NOT NULL,
	operation TEXT NOT NULL,
	path TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_file_change_log_path ON file_change_log(path, created_at);
`

type Store struct {
	db *sql.DB
}

func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set sqlite pragma %q: %w", stmt, err)
		}
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}
	return nil
}

func (s *Store) CreateRun(ctx context.Context, run domain.AnalysisRun) error {
	now := time.Now().UTC()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	if run.UpdatedAt.IsZero() {
		run.UpdatedAt = now
	}
	if run.Status == "" {
		run.Status = domain.RunStatusRunning
	}
	baseline, err := json.Marshal(run.Baseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO analysis_runs(
			id, question, baseline, status, conclusion_level, confidence_level, state, created_at, updated_at
		) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Question, string(baseline), string(run.Status),
		string(run.ConclusionLevel), string(run.ConfidenceLevel), string(run.State),
		run.CreatedAt.Unix(), run.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// CompleteRun stores the terminal state as the audit copy of a run.
func (s *Store) CompleteRun(ctx context.Context, runID string, state *domain.AnalysisState) error {
	if state == nil {
		return fmt.Errorf("complete run: state is nil")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE analysis_runs
		SET status = ?, conclusion_level = ?, confidence_level = ?, state = ?, updated_at = ?
		WHERE id = ?`,
		string(domain.RunStatusCompleted), string(state.Conclusion.Level), string(state.Confidence.Level),
		string(raw), time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete run rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("complete run %s: %w", runID, ErrRunNotFound)
	}
	return nil
}

func (s *Store) FailRun(ctx context.Context, runID string, reason string) error {
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE analysis_runs SET status = ?, updated_at = ? WHERE id = ?`,
		string(domain.RunStatusFailed), time.Now().UTC().Unix(), runID,
	)
	if err != nil {
		return fmt.Errorf("fail run: %w", err)
	}
	return s.LogDecision(ctx, domain.DecisionLog{
		RunID:  runID,
		Actor:  "store",
		Action: "run_failed",
		Reason: reason,
	})
}

func (s *Store) GetRun(ctx context.Context, runID string) (domain.AnalysisRun, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, question, baseline, status, conclusion_level, confidence_level, state, created_at, updated_at
		FROM analysis_runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AnalysisRun{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	if err != nil {
		return domain.AnalysisRun{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the newest runs first, without the stored state body.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.AnalysisRun, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, question, baseline, status, conclusion_level, confidence_level, '', created_at, updated_at
		FROM analysis_runs
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	result := make([]domain.AnalysisRun, 0, limit)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		result = append(result, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return result, nil
}

// LoadState decodes the terminal state stored for a completed run.
func (s *Store) LoadState(ctx context.Context, runID string) (*domain.AnalysisState, error) {
	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(run.State) == 0 {
		return nil, fmt.Errorf("load state %s: run is %s", runID, run.Status)
	}
	var state domain.AnalysisState
	if err := json.Unmarshal(run.State, &state); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return &state, nil
}

func (s *Store) RecordAgentOutput(ctx context.Context, rec domain.AgentOutputRecord) error {
	output := string(rec.Output)
	if output == "" {
		output = "{}"
	}
	failed := 0
	if rec.Failed {
		failed = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO agent_outputs(run_id, agent_id, step, failed, output, created_at)
		VALUES(?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, agent_id) DO UPDATE SET
			step = excluded.step, failed = excluded.failed, output = excluded.output, created_at = excluded.created_at`,
		rec.RunID, string(rec.AgentID), rec.Step, failed, output, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("record agent output: %w", err)
	}
	return nil
}

func (s *Store) ListAgentOutputs(ctx context.Context, runID string) ([]domain.AgentOutputRecord, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, agent_id, step, failed, output, created_at
		FROM agent_outputs
		WHERE run_id = ?
		ORDER BY step ASC`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("list agent outputs: %w", err)
	}
	defer rows.Close()

	var result []domain.AgentOutputRecord
	for rows.Next() {
		var rec domain.AgentOutputRecord
		var agentID, output string
		var failed int
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.RunID, &agentID, &rec.Step, &failed, &output, &createdAt); err != nil {
			return nil, fmt.Errorf("scan agent output: %w", err)
		}
		rec.AgentID = domain.AgentID(agentID)
		rec.Failed = failed == 1
		rec.Output = []byte(output)
		rec.CreatedAt = unixToTime(createdAt)
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agent outputs: %w", err)
	}
	return result, nil
}

func (s *Store) LogDecision(ctx context.Context, entry domain.DecisionLog) error {
	payload := string(entry.Payload)
	if payload == "" {
		payload = "{}"
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO decision_log(run_id, actor, action, reason, payload, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		entry.RunID, entry.Actor, entry.Action, entry.Reason, payload, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log decision: %w", err)
	}
	return nil
}

// ListRunDecisions returns decisions in the order they were logged.
func (s *Store) ListRunDecisions(ctx context.Context, runID string, limit int) ([]domain.DecisionLog, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, run_id, actor, action, reason, payload, created_at
		FROM decision_log
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ?`,
		runID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list run decisions: %w", err)
	}
	defer rows.Close()

	result := make([]domain.DecisionLog, 0, 16)
	for rows.Next() {
		var item domain.DecisionLog
		var payload string
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.RunID, &item.Actor, &item.Action, &item.Reason, &payload, &createdAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		item.Payload = []byte(payload)
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

func (s *Store) LogFileChange(ctx context.Context, entry domain.FileChangeLog) error {
	allowed := 0
	if entry.Allowed {
		allowed = 1
	}
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO file_change_log(actor, operation, path, allowed, reason, created_at)
		VALUES(?, ?, ?, ?, ?, ?)`,
		entry.Actor, string(entry.Operation), normalizeRelPath(entry.Path),
		allowed, entry.Reason, time.Now().UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("log file change: %w", err)
	}
	return nil
}

func (s *Store) ListFileChanges(ctx context.Context, limit int) ([]domain.FileChangeLog, error) {
	if limit <= 0 {
		limit = 300
	}
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, actor, operation, path, allowed, reason, created_at
		FROM file_change_log
		ORDER BY id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list file changes: %w", err)
	}
	defer rows.Close()

	var result []domain.FileChangeLog
	for rows.Next() {
		var item domain.FileChangeLog
		var op string
		var allowed int
		var createdAt int64
		if err := rows.Scan(&item.ID, &item.Actor, &op, &item.Path, &allowed, &item.Reason, &createdAt); err != nil {
			return nil, fmt.Errorf("scan file change: %w", err)
		}
		item.Operation = domain.FileOperation(op)
		item.Allowed = allowed == 1
		item.CreatedAt = unixToTime(createdAt)
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate file changes: %w", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (domain.AnalysisRun, error) {
	var run domain.AnalysisRun
	var baseline, status, conclusion, confidence, state string
	var created, updated int64
	if err := row.Scan(
		&run.ID, &run.Question, &baseline, &status, &conclusion, &confidence, &state, &created, &updated,
	); err != nil {
		return domain.AnalysisRun{}, err
	}
	if baseline != "" {
		if err := json.Unmarshal([]byte(baseline), &run.Baseline); err != nil {
			return domain.AnalysisRun{}, fmt.Errorf("decode baseline: %w", err)
		}
	}
	run.Status = domain.RunStatus(status)
	run.ConclusionLevel = domain.ConclusionLevel(conclusion)
	run.ConfidenceLevel = domain.ConfidenceLevel(confidence)
	if state != "" {
		run.State = json.RawMessage(state)
	}
	run.CreatedAt = unixToTime(created)
	run.UpdatedAt = unixToTime(updated)
	return run, nil
}

func unixToTime(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}

func normalizeRelPath(p string) string {
	cleaned := strings.ReplaceAll(strings.TrimSpace(p), "\\", "/")
	cleaned = strings.TrimPrefix(cleaned, "./")
	cleaned = strings.TrimPrefix(cleaned, "/")
	if cleaned == "" {
		return "."
	}
	return cleaned
}
