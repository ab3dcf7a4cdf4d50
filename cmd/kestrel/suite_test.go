package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadSuite(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeTemp(t, "suite.yaml", `
prompt_version: v2
models:
  - model_id: claude-sonnet-4-20250514
    temperature: 0.2
    max_tokens: 1024
evaluators:
  - instruction_adherence
  - format_consistency
test_cases:
  - title: basic summary
    prompt: Summarize the text
    input: some long document
    category: summarization
  - title: schema output
    prompt: Emit JSON
    input: record
    expected_structure:
      type: object
      required: [name]
`)
		suite, err := LoadSuite(path)
		require.NoError(t, err)
		assert.Equal(t, "v2", suite.PromptVersion)
		require.Len(t, suite.Models, 1)
		assert.Equal(t, 0.2, suite.Models[0].Temperature)
		require.Len(t, suite.TestCases, 2)
		for _, tc := range suite.TestCases {
			assert.NotEqual(t, uuid.Nil, tc.ID)
			assert.False(t, tc.CreatedAt.IsZero())
		}
		assert.Equal(t, []string{"instruction_adherence", "format_consistency"}, suite.Evaluators)
		assert.Contains(t, suite.TestCases[1].ExpectedStructure, "required")
	})

	t.Run("no models", func(t *testing.T) {
		path := writeTemp(t, "suite.yaml", `
test_cases:
  - prompt: p
    input: i
`)
		_, err := LoadSuite(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no models")
	})

	t.Run("no test cases", func(t *testing.T) {
		path := writeTemp(t, "suite.yaml", `
models:
  - model_id: gpt-4o
`)
		_, err := LoadSuite(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no test cases")
	})

	t.Run("test case without prompt", func(t *testing.T) {
		path := writeTemp(t, "suite.yaml", `
models:
  - model_id: gpt-4o
test_cases:
  - title: broken
    input: i
`)
		_, err := LoadSuite(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), `"broken" has no prompt`)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSuite(filepath.Join(t.TempDir(), "absent.yaml"))
		require.Error(t, err)
	})
}

func TestLoadScript(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		path := writeTemp(t, "script.yaml", `
model:
  model_id: claude-sonnet-4-20250514
  max_tokens: 512
condition: verbose
system_prompt: Be brief.
turns:
  - hello
  - tell me more
turn_timeout_s: 30
thresholds:
  max_drift_slope: 5.0
  max_growth_ratio: 1.5
  max_stddev_ratio: 0.5
  max_fallback_rate: 0.25
`)
		script, err := LoadScript(path)
		require.NoError(t, err)
		assert.Equal(t, "claude-sonnet-4-20250514", script.Model.ModelID)
		assert.Equal(t, "verbose", script.Condition)
		assert.Equal(t, []string{"hello", "tell me more"}, script.Turns)
		assert.Equal(t, 30, script.TurnTimeoutS)
		require.NotNil(t, script.Thresholds)
		assert.Equal(t, 5.0, script.Thresholds.MaxDriftSlope)
	})

	t.Run("no model", func(t *testing.T) {
		path := writeTemp(t, "script.yaml", "turns:\n  - hi\n")
		_, err := LoadScript(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no model")
	})

	t.Run("no turns", func(t *testing.T) {
		path := writeTemp(t, "script.yaml", "model:\n  model_id: gpt-4o\n")
		_, err := LoadScript(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no turns")
	})
}
