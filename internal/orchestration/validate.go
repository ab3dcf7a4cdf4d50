package orchestration

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/models"
	"github.com/kestrel-eval/kestrel/internal/store"
)

// ValidateRunRequest fails fast before any model call is made: every test
// case must exist, every evaluator name must be registered, at least one
// model must be configured, and every schema payload must compile.
func ValidateRunRequest(
	ctx context.Context,
	st store.Store,
	registry *evaluators.Registry,
	testCaseIDs []uuid.UUID,
	modelConfigs []models.ModelConfig,
	evaluatorNames []string,
) error {
	if len(modelConfigs) == 0 {
		return fmt.Errorf("at least one model config is required")
	}
	for _, mc := range modelConfigs {
		if mc.ModelID == "" {
			return fmt.Errorf("model config with empty model_id")
		}
	}
	if len(testCaseIDs) == 0 {
		return fmt.Errorf("at least one test case is required")
	}

	missing, err := st.TestCasesExist(ctx, testCaseIDs)
	if err != nil {
		return fmt.Errorf("checking test cases: %w", err)
	}
	if len(missing) > 0 {
		return fmt.Errorf("unknown test cases: %v", missing)
	}

	for _, name := range evaluatorNames {
		if !registry.Exists(name) {
			return fmt.Errorf("unknown evaluator %q (available: %v)", name, registry.Names())
		}
	}

	for _, id := range testCaseIDs {
		tc, err := st.GetTestCase(ctx, id)
		if err != nil {
			return fmt.Errorf("loading test case %s: %w", id, err)
		}
		if err := validateSchemaPayloads(tc); err != nil {
			return fmt.Errorf("test case %s: %w", id, err)
		}
	}
	return nil
}

// validateSchemaPayloads compiles any JSON schema a test case carries so a
// malformed schema is rejected at submission rather than mid-run.
func validateSchemaPayloads(tc *models.TestCase) error {
	if tc.ExpectedStructure != nil {
		if err := compileSchema(tc.ExpectedStructure); err != nil {
			return fmt.Errorf("expected_structure: %w", err)
		}
	}
	if tc.FormatSpec != nil {
		if t, _ := tc.FormatSpec["type"].(string); t == "json_schema" {
			payload, ok := tc.FormatSpec["spec"].(map[string]any)
			if !ok {
				return fmt.Errorf("format_spec: json_schema type requires an object spec payload")
			}
			if err := compileSchema(payload); err != nil {
				return fmt.Errorf("format_spec: %w", err)
			}
		}
	}
	return nil
}

func compileSchema(schema map[string]any) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("testcase.schema.json", schema); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	if _, err := compiler.Compile("testcase.schema.json"); err != nil {
		return fmt.Errorf("invalid schema: %w", err)
	}
	return nil
}
