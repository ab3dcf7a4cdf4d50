package evaluators

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// instructionConfig holds the construction-time constraints for
// instruction adherence checking. Per-case InstructionSpec values
// override these at evaluation time.
type instructionConfig struct {
	RequireJSON    bool     `json:"require_json"`
	RequiredFields []string `json:"required_fields"`
	MaxLength      *int     `json:"max_length"`
	MinLength      *int     `json:"min_length"`
	ForbiddenTerms []string `json:"forbidden_terms"`
	RequiredTerms  []string `json:"required_terms"`
	Pattern        string   `json:"pattern"`
}

// instructionEvaluator checks that an output obeys explicit structural and
// content constraints: JSON validity, required fields, length bounds,
// forbidden and required terms, pattern matching, and formatting bans.
type instructionEvaluator struct {
	cfg instructionConfig
}

func newInstructionEvaluator(_ *Registry, params map[string]any) (Evaluator, error) {
	var cfg instructionConfig
	if err := decodeParams(params, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", NameInstructionAdherence, err)
	}
	if cfg.Pattern != "" {
		if _, err := regexp.Compile("(?i)" + cfg.Pattern); err != nil {
			return nil, fmt.Errorf("%s: invalid pattern: %w", NameInstructionAdherence, err)
		}
	}
	return &instructionEvaluator{cfg: cfg}, nil
}

func (e *instructionEvaluator) Name() string { return NameInstructionAdherence }

var markdownPatterns = []*regexp.Regexp{
	regexp.MustCompile(`#{1,6}\s`),
	regexp.MustCompile(`\*\*.*\*\*`),
	regexp.MustCompile(`\*.*\*`),
	regexp.MustCompile(`(?m)^\s*[-*]\s`),
	regexp.MustCompile(`(?m)^\s*\d+\.\s`),
}

func (e *instructionEvaluator) Evaluate(_ context.Context, ec *Context) (*Result, error) {
	output := ec.Output
	var issues []string
	checksPassed := 0
	totalChecks := 0

	// Per-case spec values win over construction-time config.
	spec := ec.InstructionSpec
	maxLength := e.cfg.MaxLength
	if v, ok := specInt(spec, "max_tokens"); ok {
		maxLength = &v
	}
	minLength := e.cfg.MinLength
	forbiddenTerms := e.cfg.ForbiddenTerms
	if v, ok := specStrings(spec, "forbidden_terms"); ok {
		forbiddenTerms = v
	}
	requiredTerms := e.cfg.RequiredTerms
	if v, ok := specStrings(spec, "required_terms"); ok {
		requiredTerms = v
	}
	pattern := e.cfg.Pattern
	if v, ok := spec["regex_match"].(string); ok && v != "" {
		pattern = v
	}
	allowMarkdown := specBool(spec, "allow_markdown", true)
	allowCodeBlocks := specBool(spec, "allow_code_blocks", true)

	if e.cfg.RequireJSON || ec.ExpectedStructure != nil {
		totalChecks++
		data, jsonErr := parseJSONOutput(output)
		jsonValid := jsonErr == nil
		if jsonValid {
			checksPassed++
		} else {
			issues = append(issues, fmt.Sprintf("Invalid JSON: %s", jsonErr))
		}

		requiredFields := e.cfg.RequiredFields
		if len(requiredFields) == 0 && ec.ExpectedStructure != nil {
			requiredFields, _ = specStrings(ec.ExpectedStructure, "required")
		}

		if jsonValid && len(requiredFields) > 0 {
			totalChecks++
			missing := missingFields(data, requiredFields)
			if len(missing) == 0 {
				checksPassed++
			} else {
				issues = append(issues, fmt.Sprintf("Missing required fields: %v", missing))
			}
		}
	}

	if maxLength != nil {
		totalChecks++
		if len(output) <= *maxLength {
			checksPassed++
		} else {
			issues = append(issues, fmt.Sprintf("Output too long: %d > %d", len(output), *maxLength))
		}
	}

	if minLength != nil {
		totalChecks++
		if len(output) >= *minLength {
			checksPassed++
		} else {
			issues = append(issues, fmt.Sprintf("Output too short: %d < %d", len(output), *minLength))
		}
	}

	if len(forbiddenTerms) > 0 {
		totalChecks++
		found := termsPresent(output, forbiddenTerms)
		if len(found) == 0 {
			checksPassed++
		} else {
			issues = append(issues, fmt.Sprintf("Contains forbidden terms: %v", found))
		}
	}

	if len(requiredTerms) > 0 {
		totalChecks++
		missing := termsAbsent(output, requiredTerms)
		if len(missing) == 0 {
			checksPassed++
		} else {
			issues = append(issues, fmt.Sprintf("Missing required terms: %v", missing))
		}
	}

	if pattern != "" {
		totalChecks++
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid pattern: %w", NameInstructionAdherence, err)
		}
		if re.MatchString(output) {
			checksPassed++
		} else {
			issues = append(issues, fmt.Sprintf("Does not match required pattern: %s", pattern))
		}
	}

	if !allowMarkdown {
		totalChecks++
		hasMarkdown := false
		for _, re := range markdownPatterns {
			if re.MatchString(output) {
				hasMarkdown = true
				break
			}
		}
		if !hasMarkdown {
			checksPassed++
		} else {
			issues = append(issues, "Output contains markdown formatting when not allowed")
		}
	}

	if !allowCodeBlocks {
		totalChecks++
		if !strings.Contains(output, "```") {
			checksPassed++
		} else {
			issues = append(issues, "Output contains code blocks when not allowed")
		}
	}

	score := 1.0
	if totalChecks > 0 {
		score = float64(checksPassed) / float64(totalChecks)
	}
	reasoning := "All instruction checks passed"
	if len(issues) > 0 {
		reasoning = strings.Join(issues, "; ")
	}

	return &Result{
		EvaluatorName: NameInstructionAdherence,
		Passed:        len(issues) == 0,
		Score:         score,
		Details: map[string]any{
			"checks_passed": checksPassed,
			"total_checks":  totalChecks,
			"issues":        issuesOrEmpty(issues),
			"output_length": len(output),
		},
		Reasoning: reasoning,
	}, nil
}

// parseJSONOutput unwraps a fenced code block if present and parses the
// remainder as JSON.
func parseJSONOutput(output string) (any, error) {
	var data any
	if err := json.Unmarshal([]byte(extractJSONCandidate(output)), &data); err != nil {
		return nil, err
	}
	return data, nil
}

func missingFields(data any, required []string) []string {
	obj, ok := data.(map[string]any)
	if !ok {
		return required
	}
	var missing []string
	for _, field := range required {
		if _, ok := obj[field]; !ok {
			missing = append(missing, field)
		}
	}
	return missing
}

func termsPresent(output string, terms []string) []string {
	lower := strings.ToLower(output)
	var found []string
	for _, term := range terms {
		if strings.Contains(lower, strings.ToLower(term)) {
			found = append(found, term)
		}
	}
	return found
}

func termsAbsent(output string, terms []string) []string {
	lower := strings.ToLower(output)
	var missing []string
	for _, term := range terms {
		if !strings.Contains(lower, strings.ToLower(term)) {
			missing = append(missing, term)
		}
	}
	return missing
}

func issuesOrEmpty(issues []string) []string {
	if issues == nil {
		return []string{}
	}
	return issues
}

// Loose accessors for spec payload maps, which arrive with JSON/YAML typing.

func specInt(spec map[string]any, key string) (int, bool) {
	switch v := spec[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func specBool(spec map[string]any, key string, def bool) bool {
	if v, ok := spec[key].(bool); ok {
		return v
	}
	return def
}

func specStrings(spec map[string]any, key string) ([]string, bool) {
	switch v := spec[key].(type) {
	case []string:
		if len(v) > 0 {
			return v, true
		}
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out, true
		}
	}
	return nil, false
}
