// Package usage provides durable, append-only accounting of LLM token
// consumption. One tracker instance exists per process; multi-process
// deployments (one process per role in MCP mode) each hold their own
// instance and stay consistent through a read-merge-rewrite flush.
package usage

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"aicoder/pkg/agent"
	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/logx"
)

// Entry is one record of token consumption by one LLM call.
type Entry struct {
	Agent     agent.Type     `json:"agent"`
	Tokens    int            `json:"tokens"`
	Timestamp string         `json:"timestamp"`
	Iteration *int           `json:"iteration,omitempty"` // set for debugger inner-loop entries
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// fileShape is the persisted JSON layout.
type fileShape struct {
	TotalTokens int64   `json:"total_tokens"`
	UsageLog    []Entry `json:"usage_log"`
	LastUpdated string  `json:"last_updated"`
}

// Stats is the read-side summary of accumulated usage.
type Stats struct {
	TotalTokens        int64                `json:"total_tokens"`
	CallCount          int                  `json:"call_count"`
	AgentBreakdown     map[agent.Type]int64 `json:"agent_breakdown"`
	AgentCalls         map[agent.Type]int   `json:"agent_calls"`
	DebuggerIterations map[int]int64        `json:"debugger_iterations"`
	LastEvent          string               `json:"last_event,omitempty"`
}

// Tracker accumulates per-agent, per-iteration token counts and flushes
// them to a JSON file after every mutation.
type Tracker struct {
	mu             sync.Mutex
	filePath       string
	log            []Entry
	totalTokens    int64
	persistedCount int // high-water mark of entries already merged to disk
	logger         *logx.Logger
}

// Option customizes one Track call.
type Option func(*Entry)

// WithIteration tags the entry with a debugger inner-loop attempt index.
func WithIteration(iteration int) Option {
	return func(e *Entry) {
		e.Iteration = &iteration
	}
}

// WithMetadata attaches free-form metadata (raw prompt/completion counts
// at minimum).
func WithMetadata(md map[string]any) Option {
	return func(e *Entry) {
		e.Metadata = md
	}
}

// NewTracker creates a tracker persisting to filePath. Existing entries on
// disk are loaded so totals survive restarts.
func NewTracker(filePath string) (*Tracker, error) {
	t := &Tracker{
		filePath: filePath,
		logger:   logx.NewLogger("usage"),
	}
	if dir := filepath.Dir(filePath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, llmerrors.Wrap(llmerrors.KindConfig, err, "create usage log directory")
		}
	}

	existing, err := readFile(filePath)
	if err != nil {
		// A corrupt file is not fatal; start fresh and let the next flush
		// rewrite it.
		t.logger.Warn("could not load usage log %s: %v", filePath, err)
	} else if existing != nil {
		t.log = existing.UsageLog
		t.totalTokens = existing.TotalTokens
		t.persistedCount = len(existing.UsageLog)
	}
	return t, nil
}

// Track records one LLM call's token consumption: validates, appends,
// updates totals, and flushes to disk, all under the mutex.
func (t *Tracker) Track(agentType agent.Type, tokens int, opts ...Option) error {
	if err := agentType.Validate(); err != nil {
		return llmerrors.Wrap(llmerrors.KindValidation, err, "track usage")
	}
	if tokens < 0 {
		return llmerrors.Newf(llmerrors.KindValidation, "token count must be non-negative, got %d", tokens)
	}

	entry := Entry{
		Agent:     agentType,
		Tokens:    tokens,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	for _, opt := range opts {
		opt(&entry)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.log = append(t.log, entry)
	t.totalTokens += int64(tokens)

	if err := t.flushLocked(); err != nil {
		return err
	}
	t.logger.Debug("tracked %d tokens for %s (total %d)", tokens, agentType, t.totalTokens)
	return nil
}

// TrackUsage records a provider usage object, extracting the total and
// carrying the raw prompt/completion counts as metadata.
func (t *Tracker) TrackUsage(agentType agent.Type, u llm.Usage, opts ...Option) error {
	md := map[string]any{
		"prompt_tokens":     u.PromptTokens,
		"completion_tokens": u.CompletionTokens,
	}
	if u.Estimated {
		md["estimated"] = true
	}
	opts = append(opts, WithMetadata(md))
	return t.Track(agentType, u.TotalTokens, opts...)
}

// Stats returns the accumulated totals and breakdowns.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		TotalTokens:        t.totalTokens,
		CallCount:          len(t.log),
		AgentBreakdown:     make(map[agent.Type]int64),
		AgentCalls:         make(map[agent.Type]int),
		DebuggerIterations: make(map[int]int64),
	}
	for i := range t.log {
		e := &t.log[i]
		stats.AgentBreakdown[e.Agent] += int64(e.Tokens)
		stats.AgentCalls[e.Agent]++
		if e.Agent == agent.TypeDebugger && e.Iteration != nil {
			stats.DebuggerIterations[*e.Iteration] += int64(e.Tokens)
		}
	}
	if n := len(t.log); n > 0 {
		stats.LastEvent = t.log[n-1].Timestamp
	}
	return stats
}

// Reset clears in-memory state and deletes the persistence file.
func (t *Tracker) Reset() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.log = nil
	t.totalTokens = 0
	t.persistedCount = 0

	if err := os.Remove(t.filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return logx.Wrap(err, "remove usage log file")
	}
	return nil
}

// FilePath returns the persistence file location.
func (t *Tracker) FilePath() string {
	return t.filePath
}

// flushLocked implements the read-merge-rewrite durability protocol: the
// on-disk file is re-read in case another process appended, entries this
// instance has not yet persisted are merged in, and the file is rewritten.
// Caller must hold the mutex.
func (t *Tracker) flushLocked() error {
	merged := fileShape{LastUpdated: time.Now().UTC().Format(time.RFC3339)}

	onDisk, err := readFile(t.filePath)
	if err != nil {
		t.logger.Warn("usage log unreadable during flush, rewriting: %v", err)
	} else if onDisk != nil {
		merged.UsageLog = onDisk.UsageLog
		merged.TotalTokens = onDisk.TotalTokens
	}

	unpersisted := t.log[t.persistedCount:]
	merged.UsageLog = append(merged.UsageLog, unpersisted...)
	for i := range unpersisted {
		merged.TotalTokens += int64(unpersisted[i].Tokens)
	}

	data, err := json.MarshalIndent(&merged, "", "  ")
	if err != nil {
		return logx.Wrap(err, "marshal usage log")
	}
	if err := os.WriteFile(t.filePath, data, 0o644); err != nil {
		return logx.Wrap(err, "write usage log")
	}

	t.persistedCount = len(t.log)
	return nil
}

// readFile loads the persisted shape; a missing file returns (nil, nil).
func readFile(path string) (*fileShape, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var shape fileShape
	if err := json.Unmarshal(data, &shape); err != nil {
		return nil, err
	}
	return &shape, nil
}
