// Package metrics renders Prometheus metric snapshots in text exposition
// format, for the web UI status page and end-of-run summaries.
package metrics

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// llmMetricPrefix selects the pipeline's own metric families out of a
// full registry snapshot.
const llmMetricPrefix = "llm_"

// Snapshot renders the default registry in the Prometheus text format.
func Snapshot() (string, error) {
	return SnapshotGatherer(prometheus.DefaultGatherer)
}

// SnapshotGatherer renders an arbitrary gatherer in the Prometheus text
// format.
func SnapshotGatherer(g prometheus.Gatherer) (string, error) {
	families, err := g.Gather()
	if err != nil {
		return "", fmt.Errorf("failed to gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return buf.String(), nil
}

// LLMSummary extracts the llm_* sample lines from a text snapshot,
// dropping comments and unrelated families. Suitable for a compact
// end-of-run report.
func LLMSummary(snapshot string) []string {
	var lines []string
	for _, line := range strings.Split(snapshot, "\n") {
		if strings.HasPrefix(line, llmMetricPrefix) {
			lines = append(lines, line)
		}
	}
	return lines
}
