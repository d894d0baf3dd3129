// Package persistence provides the SQLite-backed run history: run rows,
// per-stage events, and per-call LLM accounting.
package persistence

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // sqlite driver

	"aicoder/pkg/logx"
)

// Run is one pipeline invocation.
type Run struct {
	ID           string `json:"id"`
	Requirements string `json:"requirements"`
	Status       string `json:"status"`
	ErrorKind    string `json:"error_kind,omitempty"`
	TotalTokens  int    `json:"total_tokens"`
	StartedAt    string `json:"started_at"`
	FinishedAt   string `json:"finished_at,omitempty"`
}

// StageEvent is one stage transition inside a run.
type StageEvent struct {
	ID        int64  `json:"id"`
	RunID     string `json:"run_id"`
	Stage     string `json:"stage"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
	CreatedAt string `json:"created_at"`
}

// LLMCall is the persisted accounting row for one completed LLM call.
type LLMCall struct {
	ID               int64  `json:"id"`
	RunID            string `json:"run_id"`
	Agent            string `json:"agent"`
	Model            string `json:"model"`
	PromptTokens     int    `json:"prompt_tokens"`
	CompletionTokens int    `json:"completion_tokens"`
	TotalTokens      int    `json:"total_tokens"`
	DurationMS       int64  `json:"duration_ms"`
	Status           string `json:"status"`
	CreatedAt        string `json:"created_at"`
}

// Store wraps the SQLite connection. SQLite supports a single writer, so
// the pool is pinned to one connection.
type Store struct {
	db     *sql.DB
	logger *logx.Logger
}

// Open opens (or creates) the database at dbPath, applies pending
// migrations, and returns the store.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf(
		"file:%s?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000",
		dbPath,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if err := initializeSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	logger := logx.NewLogger("persistence")
	logger.Info("database initialized: %s", dbPath)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func nowStamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}

// CreateRun inserts a new run row in running state.
func (s *Store) CreateRun(id, requirements string) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, requirements, status, started_at) VALUES (?, ?, 'running', ?)`,
		id, requirements, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run %s: %w", id, err)
	}
	return nil
}

// FinishRun stamps the run's final status, error kind, and token total.
func (s *Store) FinishRun(id, status, errorKind string, totalTokens int) error {
	_, err := s.db.Exec(
		`UPDATE runs SET status = ?, error_kind = ?, total_tokens = ?, finished_at = ? WHERE id = ?`,
		status, errorKind, totalTokens, nowStamp(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", id, err)
	}
	return nil
}

// RecordStageEvent appends one stage transition for a run.
func (s *Store) RecordStageEvent(runID, stage, status, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO stage_events (run_id, stage, status, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		runID, stage, status, detail, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to record stage event for run %s: %w", runID, err)
	}
	return nil
}

// RecordLLMCall appends one LLM accounting row for a run.
func (s *Store) RecordLLMCall(call LLMCall) error {
	_, err := s.db.Exec(
		`INSERT INTO llm_calls (run_id, agent, model, prompt_tokens, completion_tokens, total_tokens, duration_ms, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		call.RunID, call.Agent, call.Model, call.PromptTokens, call.CompletionTokens,
		call.TotalTokens, call.DurationMS, call.Status, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("failed to record llm call for run %s: %w", call.RunID, err)
	}
	return nil
}

// GetRun returns one run by id.
func (s *Store) GetRun(id string) (*Run, error) {
	row := s.db.QueryRow(
		`SELECT id, requirements, status, COALESCE(error_kind, ''), total_tokens, started_at, COALESCE(finished_at, '')
		 FROM runs WHERE id = ?`, id,
	)
	var r Run
	if err := row.Scan(&r.ID, &r.Requirements, &r.Status, &r.ErrorKind, &r.TotalTokens, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(
		`SELECT id, requirements, status, COALESCE(error_kind, ''), total_tokens, started_at, COALESCE(finished_at, '')
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Requirements, &r.Status, &r.ErrorKind, &r.TotalTokens, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StageEvents returns a run's stage transitions in insertion order.
func (s *Store) StageEvents(runID string) ([]StageEvent, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, stage, status, COALESCE(detail, ''), created_at
		 FROM stage_events WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage events: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var events []StageEvent
	for rows.Next() {
		var e StageEvent
		if err := rows.Scan(&e.ID, &e.RunID, &e.Stage, &e.Status, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// LLMCalls returns a run's accounting rows in insertion order.
func (s *Store) LLMCalls(runID string) ([]LLMCall, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, agent, model, prompt_tokens, completion_tokens, total_tokens, duration_ms, status, created_at
		 FROM llm_calls WHERE run_id = ? ORDER BY id`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list llm calls: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	var calls []LLMCall
	for rows.Next() {
		var c LLMCall
		if err := rows.Scan(&c.ID, &c.RunID, &c.Agent, &c.Model, &c.PromptTokens, &c.CompletionTokens,
			&c.TotalTokens, &c.DurationMS, &c.Status, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan llm call: %w", err)
		}
		calls = append(calls, c)
	}
	return calls, rows.Err()
}

// TokensByAgent aggregates total tokens per agent across all runs.
func (s *Store) TokensByAgent() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT agent, SUM(total_tokens) FROM llm_calls GROUP BY agent`)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate tokens: %w", err)
	}
	defer rows.Close() //nolint:errcheck // read-only cursor

	totals := make(map[string]int)
	for rows.Next() {
		var agent string
		var tokens int
		if err := rows.Scan(&agent, &tokens); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		totals[agent] = tokens
	}
	return totals, rows.Err()
}
