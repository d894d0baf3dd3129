package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func messages(warnings []Warning) []string {
	out := make([]string, 0, len(warnings))
	for _, w := range warnings {
		out = append(out, w.Message)
	}
	return out
}

func TestScanFlagsInfiniteLoop(t *testing.T) {
	source := "def serve():\n    while True:\n        handle()\n"
	warnings := ScanSource("main.py", source)
	require.Len(t, warnings, 1)
	assert.Equal(t, 2, warnings[0].Line)
	assert.Contains(t, warnings[0].Message, "while True")
}

func TestScanAcceptsLoopWithEscape(t *testing.T) {
	source := "def serve():\n    while True:\n        if done():\n            break\n"
	assert.Empty(t, ScanSource("main.py", source))
}

func TestScanFlagsInput(t *testing.T) {
	warnings := ScanSource("main.py", "name = input('who? ')\n")
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "input()")
}

func TestScanIgnoresInputLikeNames(t *testing.T) {
	assert.Empty(t, ScanSource("main.py", "value = parse_input(data)\n"))
}

func TestScanFlagsUnconditionalRecursion(t *testing.T) {
	source := "def loop():\n    print('x')\n    loop()\n"
	warnings := ScanSource("main.py", source)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].Message, "recurses")
}

func TestScanAcceptsGuardedRecursion(t *testing.T) {
	source := "def countdown(n):\n    if n <= 0:\n        return\n    countdown(n - 1)\n"
	assert.Empty(t, ScanSource("main.py", source))
}

func TestScanFlagsLongSleepAndBareNetworkCall(t *testing.T) {
	source := "import time\ntime.sleep(60)\nresp = requests.get(url)\nok = requests.get(url, timeout=5)\n"
	msgs := messages(ScanSource("main.py", source))
	assert.Contains(t, msgs, "long time.sleep(60)")
	assert.Contains(t, msgs, "network call without a timeout")
	assert.Len(t, msgs, 2)
}

func TestScanPackageSkipsNonPython(t *testing.T) {
	files := map[string]string{
		"README.md": "while True:",
		"main.py":   "while True:\n    pass\n",
	}
	warnings := ScanPackage(files)
	require.Len(t, warnings, 1)
	assert.Equal(t, "main.py", warnings[0].File)
}
