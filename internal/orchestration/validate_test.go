package orchestration

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

func TestValidateRunRequest(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemStore()
	registry := evaluators.NewRegistry(nil)

	tc := seedTestCase(t, st, &models.TestCase{Prompt: "p", Input: "i"})
	oneModel := []models.ModelConfig{{ModelID: "model-x"}}

	t.Run("valid request", func(t *testing.T) {
		err := ValidateRunRequest(ctx, st, registry,
			[]uuid.UUID{tc.ID}, oneModel,
			[]string{evaluators.NameInstructionAdherence, evaluators.NameFormatConsistency})
		assert.NoError(t, err)
	})

	t.Run("no models", func(t *testing.T) {
		err := ValidateRunRequest(ctx, st, registry, []uuid.UUID{tc.ID}, nil, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one model")
	})

	t.Run("empty model id", func(t *testing.T) {
		err := ValidateRunRequest(ctx, st, registry, []uuid.UUID{tc.ID},
			[]models.ModelConfig{{}}, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty model_id")
	})

	t.Run("no test cases", func(t *testing.T) {
		err := ValidateRunRequest(ctx, st, registry, nil, oneModel, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "at least one test case")
	})

	t.Run("missing test case", func(t *testing.T) {
		missing := uuid.New()
		err := ValidateRunRequest(ctx, st, registry,
			[]uuid.UUID{tc.ID, missing}, oneModel, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown test cases")
		assert.Contains(t, err.Error(), missing.String())
	})

	t.Run("unknown evaluator", func(t *testing.T) {
		err := ValidateRunRequest(ctx, st, registry,
			[]uuid.UUID{tc.ID}, oneModel, []string{"sentiment"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `unknown evaluator "sentiment"`)
	})
}

func TestValidateSchemaPayloads(t *testing.T) {
	t.Run("valid expected structure", func(t *testing.T) {
		tc := &models.TestCase{ExpectedStructure: map[string]any{
			"type":     "object",
			"required": []any{"name"},
			"properties": map[string]any{
				"name": map[string]any{"type": "string"},
			},
		}}
		assert.NoError(t, validateSchemaPayloads(tc))
	})

	t.Run("malformed expected structure", func(t *testing.T) {
		tc := &models.TestCase{ExpectedStructure: map[string]any{"type": 123}}
		err := validateSchemaPayloads(tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "expected_structure")
	})

	t.Run("json_schema format spec requires object payload", func(t *testing.T) {
		tc := &models.TestCase{FormatSpec: map[string]any{
			"type": "json_schema",
			"spec": "not an object",
		}}
		err := validateSchemaPayloads(tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "object spec payload")
	})

	t.Run("malformed json_schema payload", func(t *testing.T) {
		tc := &models.TestCase{FormatSpec: map[string]any{
			"type": "json_schema",
			"spec": map[string]any{"required": "name"},
		}}
		err := validateSchemaPayloads(tc)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "format_spec")
	})

	t.Run("non schema format spec skipped", func(t *testing.T) {
		tc := &models.TestCase{FormatSpec: map[string]any{
			"type": "regex",
			"spec": `\d+`,
		}}
		assert.NoError(t, validateSchemaPayloads(tc))
	})
}
