package sandbox

import (
	"fmt"
	"regexp"
	"strings"
)

// Warning is one hazard found by the pre-flight scan. Warnings never
// abort a run; they are logged and surfaced to the debugger prompt.
type Warning struct {
	File    string `json:"file"`
	Line    int    `json:"line"` // 1-based
	Message string `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s:%d: %s", w.File, w.Line, w.Message)
}

// loopEscapeWindow is how many lines after a `while True:` an escape
// (break, return, raise, sys.exit) must appear.
const loopEscapeWindow = 20

var (
	whileTrueRe  = regexp.MustCompile(`^\s*while\s+True\s*:`)
	loopEscapeRe = regexp.MustCompile(`\b(break|return|raise|sys\.exit)\b`)
	inputCallRe  = regexp.MustCompile(`(^|[^\w.])input\s*\(`)
	defRe        = regexp.MustCompile(`^(\s*)def\s+(\w+)\s*\(`)
	longSleepRe  = regexp.MustCompile(`time\.sleep\s*\(\s*(\d+(?:\.\d+)?)\s*\)`)
	netCallRe    = regexp.MustCompile(`\b(socket\.accept|socket\.recv|requests\.(get|post|put|delete)|urlopen)\s*\(`)
	netTimeoutRe = regexp.MustCompile(`timeout\s*=`)
)

// longSleepThresholdSeconds flags sleeps long enough to stall a test run.
const longSleepThresholdSeconds = 10

// ScanPackage runs the hazard scan over every Python file in the map.
func ScanPackage(files map[string]string) []Warning {
	var warnings []Warning
	for name, content := range files {
		if !strings.HasSuffix(name, ".py") {
			continue
		}
		warnings = append(warnings, ScanSource(name, content)...)
	}
	return warnings
}

// ScanSource scans one file for patterns that hang or block generated
// code: infinite loops without a visible escape, blocking input() calls,
// recursion without a conditional base case, long sleeps, and network
// calls without timeouts.
func ScanSource(filename, source string) []Warning {
	lines := strings.Split(source, "\n")
	var warnings []Warning

	for i, line := range lines {
		if whileTrueRe.MatchString(line) && !escapeWithin(lines, i+1, loopEscapeWindow) {
			warnings = append(warnings, Warning{
				File:    filename,
				Line:    i + 1,
				Message: fmt.Sprintf("while True loop with no break/return/raise within %d lines", loopEscapeWindow),
			})
		}
		if inputCallRe.MatchString(line) && !strings.Contains(line, "#") {
			warnings = append(warnings, Warning{
				File:    filename,
				Line:    i + 1,
				Message: "blocking input() call",
			})
		}
		if m := longSleepRe.FindStringSubmatch(line); m != nil {
			if secs := parseSeconds(m[1]); secs >= longSleepThresholdSeconds {
				warnings = append(warnings, Warning{
					File:    filename,
					Line:    i + 1,
					Message: fmt.Sprintf("long time.sleep(%s)", m[1]),
				})
			}
		}
		if netCallRe.MatchString(line) && !netTimeoutRe.MatchString(line) {
			warnings = append(warnings, Warning{
				File:    filename,
				Line:    i + 1,
				Message: "network call without a timeout",
			})
		}
	}

	warnings = append(warnings, scanRecursion(filename, lines)...)
	return warnings
}

// escapeWithin reports whether a loop escape appears in the window of
// lines starting at from.
func escapeWithin(lines []string, from, window int) bool {
	end := from + window
	if end > len(lines) {
		end = len(lines)
	}
	for i := from; i < end; i++ {
		if loopEscapeRe.MatchString(lines[i]) {
			return true
		}
	}
	return false
}

// scanRecursion flags functions that call themselves without any
// conditional in the body, the common shape of runaway recursion in
// generated code.
func scanRecursion(filename string, lines []string) []Warning {
	var warnings []Warning
	for i, line := range lines {
		m := defRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		indent, name := m[1], m[2]
		body := functionBody(lines, i+1, len(indent))

		selfCall := regexp.MustCompile(`\b` + regexp.QuoteMeta(name) + `\s*\(`)
		hasSelfCall := false
		hasConditional := false
		for _, bodyLine := range body {
			if selfCall.MatchString(bodyLine) {
				hasSelfCall = true
			}
			trimmed := strings.TrimSpace(bodyLine)
			if strings.HasPrefix(trimmed, "if ") || strings.HasPrefix(trimmed, "elif ") {
				hasConditional = true
			}
		}
		if hasSelfCall && !hasConditional {
			warnings = append(warnings, Warning{
				File:    filename,
				Line:    i + 1,
				Message: fmt.Sprintf("function %s recurses with no conditional base case", name),
			})
		}
	}
	return warnings
}

// functionBody collects the lines belonging to a def at the given indent
// depth, stopping at the first non-blank line at or above that depth.
func functionBody(lines []string, from, defIndent int) []string {
	var body []string
	for i := from; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if indentOf(line) <= defIndent {
			break
		}
		body = append(body, line)
	}
	return body
}

func indentOf(line string) int {
	n := 0
	for _, r := range line {
		switch r {
		case ' ':
			n++
		case '\t':
			n += 4
		default:
			return n
		}
	}
	return n
}

func parseSeconds(s string) float64 {
	var v float64
	_, err := fmt.Sscanf(s, "%f", &v)
	if err != nil {
		return 0
	}
	return v
}
