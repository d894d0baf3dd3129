package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSnapshotGatherer(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "llm_requests_total", Help: "requests"},
		[]string{"model", "agent"},
	)
	require.NoError(t, reg.Register(counter))
	counter.WithLabelValues("gpt-4", "coder").Add(3)

	snapshot, err := SnapshotGatherer(reg)
	require.NoError(t, err)
	assert.Contains(t, snapshot, "# HELP llm_requests_total requests")
	assert.Contains(t, snapshot, `llm_requests_total{agent="coder",model="gpt-4"} 3`)
}

func TestLLMSummaryFiltersFamilies(t *testing.T) {
	snapshot := "# HELP llm_requests_total requests\n" +
		"# TYPE llm_requests_total counter\n" +
		"llm_requests_total{agent=\"coder\"} 3\n" +
		"go_goroutines 12\n"

	lines := LLMSummary(snapshot)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "llm_requests_total")
}
