package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterRemovesBlockingTests(t *testing.T) {
	source := `import pytest
from main import App

def test_compute():
    assert App().compute() == 3

def test_runs_forever():
    app = App()
    app.run()

def test_event_loop():
    App().main_loop()
`
	filtered, removed := FilterHangingTests(source)
	assert.ElementsMatch(t, []string{"test_runs_forever", "test_event_loop"}, removed)
	assert.Contains(t, filtered, "test_compute")
	assert.NotContains(t, filtered, "test_runs_forever")
	assert.NotContains(t, filtered, "main_loop")
}

func TestFilterRemovesWhileTrueTest(t *testing.T) {
	source := "def test_spin():\n    while True:\n        pass\n\ndef test_ok():\n    assert 1\n"
	filtered, removed := FilterHangingTests(source)
	assert.Equal(t, []string{"test_spin"}, removed)
	assert.Contains(t, filtered, "test_ok")
}

func TestFilterMockedInputWithoutTimeout(t *testing.T) {
	source := `from unittest import mock

def test_prompt():
    with mock.patch('builtins.input', return_value='y'):
        ask()

def test_prompt_guarded():
    with mock.patch('builtins.input', side_effect=['y']):
        ask()
`
	filtered, removed := FilterHangingTests(source)
	assert.Equal(t, []string{"test_prompt"}, removed)
	assert.Contains(t, filtered, "test_prompt_guarded")
}

func TestFilterKeepsCleanSource(t *testing.T) {
	source := "def test_a():\n    assert True\n\ndef test_b():\n    assert 2 == 2\n"
	filtered, removed := FilterHangingTests(source)
	require.Empty(t, removed)
	assert.Equal(t, source, filtered)
}
