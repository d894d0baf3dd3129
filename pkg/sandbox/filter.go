package sandbox

import (
	"regexp"
	"strings"
)

var (
	testDefRe    = regexp.MustCompile(`^(\s*)def\s+(test_\w+)\s*\(`)
	hangingRe    = regexp.MustCompile(`\.run\s*\(\s*\)|\.main_loop\s*\(\s*\)|\.start\s*\(\s*\)|while\s+True`)
	mockedInput  = regexp.MustCompile(`(mock|patch).*input|input.*(mock|patch)`)
	timeoutGuard = regexp.MustCompile(`timeout|side_effect|signal\.alarm`)
)

// FilterHangingTests removes test functions whose body would hang the
// sandbox: calls into blocking entry points (.run(), .main_loop(),
// .start()), bare infinite loops, or mocked input without a timeout
// guard. Returns the filtered source and the names of removed tests.
func FilterHangingTests(source string) (string, []string) {
	lines := strings.Split(source, "\n")
	var (
		kept    []string
		removed []string
	)

	for i := 0; i < len(lines); {
		m := testDefRe.FindStringSubmatch(lines[i])
		if m == nil {
			kept = append(kept, lines[i])
			i++
			continue
		}

		indent, name := len(m[1]), m[2]
		end := i + 1
		for end < len(lines) {
			if strings.TrimSpace(lines[end]) != "" && indentOf(lines[end]) <= indent {
				break
			}
			end++
		}

		body := strings.Join(lines[i:end], "\n")
		if hangsSandbox(body) {
			removed = append(removed, name)
		} else {
			kept = append(kept, lines[i:end]...)
		}
		i = end
	}

	return strings.Join(kept, "\n"), removed
}

// hangsSandbox reports whether a test body reaches a blocking pattern.
func hangsSandbox(body string) bool {
	if hangingRe.MatchString(body) {
		return true
	}
	if mockedInput.MatchString(body) && !timeoutGuard.MatchString(body) {
		return true
	}
	return false
}
