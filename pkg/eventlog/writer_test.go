package eventlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEvents(t *testing.T, path string) []Event {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())
	return events
}

func TestWriterAppendsJSONL(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Write(Event{Kind: "stage", Stage: "ARCH", RunID: "r1"}))
	require.NoError(t, w.Write(Event{Kind: "llm_call", Agent: "coder", Fields: map[string]any{"tokens": 42}}))

	events := readEvents(t, w.CurrentLogFile())
	require.Len(t, events, 2)
	assert.Equal(t, "stage", events[0].Kind)
	assert.Equal(t, "r1", events[0].RunID)
	assert.NotEmpty(t, events[0].Timestamp)
	assert.Equal(t, "coder", events[1].Agent)
	assert.EqualValues(t, 42, events[1].Fields["tokens"])
}

func TestWriterDailyRotation(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)
	defer w.Close()

	day1 := time.Date(2026, 8, 25, 23, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return day1 }
	require.NoError(t, w.Write(Event{Kind: "run", Message: "start"}))

	w.now = func() time.Time { return day1.Add(2 * time.Hour) }
	require.NoError(t, w.Write(Event{Kind: "run", Message: "end"}))

	assert.FileExists(t, filepath.Join(dir, "events-2026-08-25.jsonl"))
	assert.FileExists(t, filepath.Join(dir, "events-2026-08-26.jsonl"))
	assert.Len(t, readEvents(t, filepath.Join(dir, "events-2026-08-26.jsonl")), 1)
}

func TestWriterReopensAfterClose(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(dir)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	assert.Empty(t, w.CurrentLogFile())
	require.NoError(t, w.Write(Event{Kind: "run"}))
	assert.NotEmpty(t, w.CurrentLogFile())
	require.NoError(t, w.Close())
}

func TestTranscriptFormat(t *testing.T) {
	dir := t.TempDir()
	tr, err := NewTranscript("coder", "20260826_120000", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "coder_20260826_120000.txt"), tr.Path())

	tr.LogInteraction("write the code", "here it is", map[string]any{"tokens": 30})
	tr.LogNote("fallback engaged")
	tr.LogError("parse failed", "attempt 2")
	tr.Finalize()

	data, err := os.ReadFile(tr.Path())
	require.NoError(t, err)
	text := string(data)

	assert.Contains(t, text, "Conversation Log: CODER")
	assert.Contains(t, text, "Session ID: 20260826_120000")
	assert.Contains(t, text, "[PROMPT]")
	assert.Contains(t, text, "write the code")
	assert.Contains(t, text, "[RESPONSE]")
	assert.Contains(t, text, "here it is")
	assert.Contains(t, text, "[NOTE]")
	assert.Contains(t, text, "[ERROR]")
	assert.Contains(t, text, "Context: attempt 2")
	assert.Contains(t, text, "Session Ended:")
}

func TestTranscriptDerivesSession(t *testing.T) {
	tr, err := NewTranscript("architect", "", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, filepath.Base(tr.Path()), "architect_")
}
