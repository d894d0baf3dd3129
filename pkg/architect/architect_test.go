package architect

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aicoder/pkg/agent"
	"aicoder/pkg/agent/llm"
	"aicoder/pkg/agent/llmerrors"
	"aicoder/pkg/templates"
	"aicoder/pkg/usage"
)

const planJSON = `{
	"analysis": {
		"components": ["calculator", "helpers", "data"],
		"dependencies": [],
		"architecture_type": "CLI",
		"complexity": "simple",
		"summary": "A calculator"
	},
	"file_structure": {
		"files": {"main.py": "entry", "utils.py": "helpers", "test_data.py": "data"},
		"entry_point": "main.py"
	}
}`

func newArchitect(t *testing.T, mock *agent.MockClient) (*Architect, *usage.Tracker) {
	t.Helper()
	renderer, err := templates.NewRenderer()
	require.NoError(t, err)
	tracker, err := usage.NewTracker(filepath.Join(t.TempDir(), "usage.json"))
	require.NoError(t, err)
	return New(mock, renderer, tracker, nil), tracker
}

func TestCreateArchitecture(t *testing.T) {
	mock := agent.MockResponses(planJSON)
	a, tracker := newArchitect(t, mock)

	plan, err := a.CreateArchitecture(context.Background(), "build a calculator")
	require.NoError(t, err)

	assert.False(t, plan.Fallback)
	assert.Equal(t, "main.py", plan.FileStructure.EntryPoint)
	assert.Len(t, plan.FileStructure.Files, 3)
	assert.Equal(t, "build a calculator", plan.Requirements)

	// The prompt carries the requirements and the usage got tracked.
	assert.Contains(t, mock.LastPrompt(), "build a calculator")
	assert.Equal(t, int64(30), tracker.Stats().TotalTokens)
}

func TestCreateArchitectureFallback(t *testing.T) {
	mock := agent.MockResponses("I think you should use three files, roughly.")
	a, _ := newArchitect(t, mock)

	plan, err := a.CreateArchitecture(context.Background(), "build a calculator")
	require.NoError(t, err)
	assert.True(t, plan.Fallback)
	assert.Equal(t, "main.py", plan.FileStructure.EntryPoint)
}

func TestCreateArchitectureEmptyRequirements(t *testing.T) {
	a, _ := newArchitect(t, agent.MockResponses(planJSON))
	_, err := a.CreateArchitecture(context.Background(), "")
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.KindValidation))
}

func TestCreateArchitectureReplaysMemory(t *testing.T) {
	mock := agent.MockResponses(planJSON, planJSON)
	a, _ := newArchitect(t, mock)
	a.WithMemory(agent.NewHistory(true, 5))

	_, err := a.CreateArchitecture(context.Background(), "build a calculator")
	require.NoError(t, err)
	_, err = a.CreateArchitecture(context.Background(), "build a calculator with history")
	require.NoError(t, err)

	calls := mock.Calls()
	require.Len(t, calls, 2)

	// The second request replays the first exchange as an assistant turn.
	var sawAssistant bool
	for _, msg := range calls[1].Messages {
		if msg.Role == llm.RoleAssistant {
			sawAssistant = true
			assert.Contains(t, msg.Content, "file_structure")
		}
	}
	assert.True(t, sawAssistant)
}

func TestCreateArchitecturePropagatesLLMError(t *testing.T) {
	mock := agent.NewMockClient(agent.MockStep{Err: llmerrors.New(llmerrors.KindRateLimitExhausted, "quota")})
	a, _ := newArchitect(t, mock)

	_, err := a.CreateArchitecture(context.Background(), "build a calculator")
	require.Error(t, err)
	assert.True(t, llmerrors.Is(err, llmerrors.KindRateLimitExhausted))
}
