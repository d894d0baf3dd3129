package eventlog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	headerRule  = "================================================================================"
	sectionRule = "────────────────────────────────────────────────────────────────────────────────"
	errorRule   = "════════════════════════════════════════════════════════════════════════════════"
	innerRule   = "--------------------------------------------------------------------------------"

	transcriptTimeLayout = "2006-01-02 15:04:05"
)

// Transcript writes one agent's prompt/response exchanges to a plain
// text file named <agent>_<session>.txt, for human debugging. All write
// failures are swallowed: a broken transcript never fails a run.
type Transcript struct {
	mu      sync.Mutex
	agent   string
	session string
	path    string

	now func() time.Time
}

// NewTranscript creates the transcript file with its header. An empty
// session id derives one from the clock.
func NewTranscript(agent, session, logDir string) (*Transcript, error) {
	if session == "" {
		session = time.Now().Format("20060102_150405")
	}
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}

	t := &Transcript{
		agent:   agent,
		session: session,
		path:    filepath.Join(logDir, fmt.Sprintf("%s_%s.txt", agent, session)),
		now:     time.Now,
	}

	header := fmt.Sprintf("%s\nConversation Log: %s\nSession ID: %s\nStarted: %s\n%s\n\n",
		headerRule, strings.ToUpper(agent), session, t.now().Format(transcriptTimeLayout), headerRule)
	if err := os.WriteFile(t.path, []byte(header), 0o644); err != nil {
		return nil, fmt.Errorf("failed to initialize transcript: %w", err)
	}
	return t, nil
}

// Path returns the transcript file path.
func (t *Transcript) Path() string {
	return t.path
}

// LogInteraction appends one prompt/response exchange.
func (t *Transcript) LogInteraction(prompt, response string, metadata map[string]any) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\nTimestamp: %s\n", sectionRule, t.now().Format(transcriptTimeLayout))
	if len(metadata) > 0 {
		fmt.Fprintf(&b, "Metadata: %v\n", metadata)
	}
	fmt.Fprintf(&b, "\n[PROMPT]\n%s\n%s\n", innerRule, prompt)
	fmt.Fprintf(&b, "\n[RESPONSE]\n%s\n%s\n%s\n", innerRule, response, sectionRule)
	t.append(b.String())
}

// LogError appends an error section.
func (t *Transcript) LogError(errMsg, context string) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n[ERROR] %s\n%s\n%s\n", errorRule, t.now().Format(transcriptTimeLayout), errorRule, errMsg)
	if context != "" {
		fmt.Fprintf(&b, "\nContext: %s\n", context)
	}
	fmt.Fprintf(&b, "%s\n", errorRule)
	t.append(b.String())
}

// LogNote appends a one-line note.
func (t *Transcript) LogNote(note string) {
	t.append(fmt.Sprintf("\n[NOTE] %s: %s\n", t.now().Format("15:04:05"), note))
}

// Finalize appends the session footer.
func (t *Transcript) Finalize() {
	t.append(fmt.Sprintf("\n%s\nSession Ended: %s\n%s\n", headerRule, t.now().Format(transcriptTimeLayout), headerRule))
}

func (t *Transcript) append(text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, err := os.OpenFile(t.path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close() //nolint:errcheck // best-effort transcript
	_, _ = f.WriteString(text)
}
