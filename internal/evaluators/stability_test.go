package evaluators

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStability_NoBaseline(t *testing.T) {
	ev := mustConstruct(t, NameOutputStability, nil)

	res, err := ev.Evaluate(context.Background(), &Context{Output: "solo output"})
	require.NoError(t, err)
	assert.True(t, res.Passed)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, "single_output", res.Details["mode"])
}

func TestStability_BaselineComparison(t *testing.T) {
	ev := mustConstruct(t, NameOutputStability, nil)

	t.Run("identical text is an exact match", func(t *testing.T) {
		res, err := ev.Evaluate(context.Background(), &Context{
			Output:    "the quick brown fox",
			Reference: "the quick brown fox",
		})
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Equal(t, 1.0, res.Score)
		assert.Equal(t, true, res.Details["exact_match"])
		assert.Contains(t, res.Reasoning, "exact match")
	})

	t.Run("divergent text fails the threshold", func(t *testing.T) {
		res, err := ev.Evaluate(context.Background(), &Context{
			Output:    "alpha beta gamma",
			Reference: "delta epsilon zeta",
		})
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, 0.0, res.Score)
	})
}

func TestEvaluateStabilitySamples(t *testing.T) {
	t.Run("fewer than two outputs passes trivially", func(t *testing.T) {
		res, err := EvaluateStabilitySamples([]string{"only one"}, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Equal(t, 1.0, res.Score)
	})

	t.Run("identical outputs are fully stable", func(t *testing.T) {
		res, err := EvaluateStabilitySamples([]string{"same text", "same text", "same text"}, nil)
		require.NoError(t, err)
		assert.True(t, res.Passed)
		assert.Equal(t, 1.0, res.Score)
		assert.Equal(t, 3, res.Details["exact_match_pairs"])
		assert.Equal(t, 3, res.Details["total_pairs"])
		assert.Equal(t, true, res.Details["formats_consistent"])
	})

	t.Run("disjoint outputs fail", func(t *testing.T) {
		res, err := EvaluateStabilitySamples([]string{"alpha beta", "gamma delta"}, nil)
		require.NoError(t, err)
		assert.False(t, res.Passed)
		assert.Equal(t, 0.0, res.Score)
		assert.Contains(t, res.Reasoning, "below threshold")
	})

	t.Run("min_similarity override from params", func(t *testing.T) {
		// Similarity between these is 1/3, which passes a 0.2 threshold.
		res, err := EvaluateStabilitySamples(
			[]string{"a b c d", "a b e f"},
			map[string]any{"min_similarity": 0.2},
		)
		require.NoError(t, err)
		assert.True(t, res.Passed)
	})
}

func TestFormatsConsistent(t *testing.T) {
	t.Run("matching shapes", func(t *testing.T) {
		assert.True(t, formatsConsistent([]string{
			"- one\n- two",
			"- three\n- four",
		}))
	})

	t.Run("json versus bullets", func(t *testing.T) {
		assert.False(t, formatsConsistent([]string{
			`{"a": 1}`,
			"- bullet item",
		}))
	})

	t.Run("headers versus plain", func(t *testing.T) {
		assert.False(t, formatsConsistent([]string{
			"# Title\nbody",
			"just prose",
		}))
	})
}
