package evaluators

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/kestrel-eval/kestrel/internal/metrics"
)

// formatConfig holds the construction-time defaults for format checking.
// Per-case FormatSpec values override the format type and payload.
type formatConfig struct {
	ExpectedFormat  string         `json:"expected_format"`
	JSONSchema      map[string]any `json:"json_schema"`
	MarkdownHeaders []string       `json:"markdown_headers"`
	CustomPattern   string         `json:"custom_pattern"`
}

// formatEvaluator validates output structure: JSON (optionally against a
// schema), markdown headings, CSV shape, or a regex pattern.
type formatEvaluator struct {
	cfg formatConfig
}

func newFormatEvaluator(_ *Registry, params map[string]any) (Evaluator, error) {
	cfg := formatConfig{ExpectedFormat: "json"}
	if err := decodeParams(params, &cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", NameFormatConsistency, err)
	}
	if cfg.CustomPattern != "" {
		if _, err := regexp.Compile("(?im)" + cfg.CustomPattern); err != nil {
			return nil, fmt.Errorf("%s: invalid pattern: %w", NameFormatConsistency, err)
		}
	}
	return &formatEvaluator{cfg: cfg}, nil
}

func (e *formatEvaluator) Name() string { return NameFormatConsistency }

func (e *formatEvaluator) Evaluate(_ context.Context, ec *Context) (*Result, error) {
	formatType := e.cfg.ExpectedFormat
	var specPayload any
	if ec.FormatSpec != nil {
		if t, ok := ec.FormatSpec["type"].(string); ok && t != "" {
			formatType = t
		}
		specPayload = ec.FormatSpec["spec"]
	}

	schema := e.cfg.JSONSchema
	if schema == nil {
		schema = ec.ExpectedStructure
	}

	switch {
	case formatType == "json_schema" || formatType == "json" || schema != nil:
		if payload, ok := specPayload.(map[string]any); ok {
			schema = payload
		}
		return e.validateJSON(ec.Output, schema), nil
	case formatType == "regex":
		pattern := e.cfg.CustomPattern
		if s, ok := specPayload.(string); ok {
			pattern = s
		}
		return e.validatePattern(ec.Output, pattern)
	case formatType == "markdown":
		headers := e.cfg.MarkdownHeaders
		if list, ok := specPayload.([]any); ok {
			headers = make([]string, 0, len(list))
			for _, item := range list {
				if s, ok := item.(string); ok {
					headers = append(headers, s)
				}
			}
		}
		return e.validateMarkdown(ec.Output, headers), nil
	case formatType == "csv":
		spec, _ := specPayload.(map[string]any)
		return e.validateCSV(ec.Output, spec), nil
	case formatType == "custom" && e.cfg.CustomPattern != "":
		return e.validatePattern(ec.Output, e.cfg.CustomPattern)
	default:
		return &Result{
			EvaluatorName: NameFormatConsistency,
			Passed:        true,
			Score:         1.0,
			Details:       map[string]any{"format": "text", "validated": false},
			Reasoning:     "No specific format validation configured",
		}, nil
	}
}

func (e *formatEvaluator) validateJSON(output string, schema map[string]any) *Result {
	data, err := parseJSONOutput(output)
	if err != nil {
		return &Result{
			EvaluatorName: NameFormatConsistency,
			Passed:        false,
			Score:         0.0,
			Details:       map[string]any{"valid_json": false, "error": err.Error()},
			Reasoning:     fmt.Sprintf("Invalid JSON: %s", err),
		}
	}

	if schema == nil {
		return &Result{
			EvaluatorName: NameFormatConsistency,
			Passed:        true,
			Score:         1.0,
			Details:       map[string]any{"valid_json": true, "data_type": jsonTypeName(data)},
			Reasoning:     "Valid JSON format",
		}
	}

	issues := validateAgainstSchema(data, schema)
	passed := len(issues) == 0
	score := math.Max(0.0, 1.0-float64(len(issues))*0.2)
	reasoning := "JSON matches expected schema"
	if len(issues) > 0 {
		reasoning = strings.Join(issues, "; ")
	}

	return &Result{
		EvaluatorName: NameFormatConsistency,
		Passed:        passed,
		Score:         metrics.Round3(score),
		Details: map[string]any{
			"valid_json":   true,
			"schema_valid": passed,
			"issues":       issuesOrEmpty(issues),
		},
		Reasoning: reasoning,
	}
}

// validateAgainstSchema walks a JSON schema subset: type, string and
// numeric bounds, enum, required fields, properties, additionalProperties,
// and array item constraints. Nested issues carry a dotted path prefix.
func validateAgainstSchema(data any, schema map[string]any) []string {
	var issues []string

	if expectedType, ok := schema["type"].(string); ok && expectedType != "" {
		if !matchesJSONType(data, expectedType) {
			issues = append(issues, fmt.Sprintf("Expected type %s, got %s", expectedType, jsonTypeName(data)))
		}
	}

	if s, ok := data.(string); ok {
		if minLen, ok := specInt(schema, "minLength"); ok && len(s) < minLen {
			issues = append(issues, fmt.Sprintf("String length %d below minimum %d", len(s), minLen))
		}
		if maxLen, ok := specInt(schema, "maxLength"); ok && len(s) > maxLen {
			issues = append(issues, fmt.Sprintf("String length %d exceeds maximum %d", len(s), maxLen))
		}
		if pattern, ok := schema["pattern"].(string); ok && pattern != "" {
			if re, err := regexp.Compile(pattern); err == nil && !re.MatchString(s) {
				issues = append(issues, fmt.Sprintf("String does not match pattern: %s", pattern))
			}
		}
	}

	if n, ok := asFloat(data); ok {
		if minimum, ok := asFloat(schema["minimum"]); ok && n < minimum {
			issues = append(issues, fmt.Sprintf("Number %v below minimum %v", data, schema["minimum"]))
		}
		if maximum, ok := asFloat(schema["maximum"]); ok && n > maximum {
			issues = append(issues, fmt.Sprintf("Number %v above maximum %v", data, schema["maximum"]))
		}
	}

	if enum, ok := schema["enum"].([]any); ok {
		found := false
		for _, candidate := range enum {
			if jsonEqual(data, candidate) {
				found = true
				break
			}
		}
		if !found {
			issues = append(issues, fmt.Sprintf("Value %v not in enum %v", data, enum))
		}
	}

	if obj, ok := data.(map[string]any); ok {
		if required, ok := specStrings(schema, "required"); ok {
			for _, field := range required {
				if _, present := obj[field]; !present {
					issues = append(issues, fmt.Sprintf("Missing required field: %s", field))
				}
			}
		}

		properties, _ := schema["properties"].(map[string]any)
		for field, rawFieldSchema := range properties {
			fieldSchema, ok := rawFieldSchema.(map[string]any)
			if !ok {
				continue
			}
			if value, present := obj[field]; present {
				for _, issue := range validateAgainstSchema(value, fieldSchema) {
					issues = append(issues, fmt.Sprintf("%s.%s", field, issue))
				}
			}
		}

		if ap, ok := schema["additionalProperties"].(bool); ok && !ap {
			for field := range obj {
				if _, allowed := properties[field]; !allowed {
					issues = append(issues, fmt.Sprintf("Unexpected field: %s", field))
				}
			}
		}
	}

	if arr, ok := data.([]any); ok {
		minItems, _ := specInt(schema, "minItems")
		if len(arr) < minItems {
			issues = append(issues, fmt.Sprintf("Array has %d items, minimum is %d", len(arr), minItems))
		}
		if maxItems, ok := specInt(schema, "maxItems"); ok && maxItems > 0 && len(arr) > maxItems {
			issues = append(issues, fmt.Sprintf("Array has %d items, maximum is %d", len(arr), maxItems))
		}
		if itemsSchema, ok := schema["items"].(map[string]any); ok {
			for idx, item := range arr {
				for _, issue := range validateAgainstSchema(item, itemsSchema) {
					issues = append(issues, fmt.Sprintf("items[%d].%s", idx, issue))
				}
			}
		}
	}

	return issues
}

func (e *formatEvaluator) validateMarkdown(output string, requiredHeaders []string) *Result {
	found := markdownHeadings(output)

	var issues []string
	for _, required := range requiredHeaders {
		matched := false
		for _, h := range found {
			if strings.Contains(strings.ToLower(h), strings.ToLower(required)) {
				matched = true
				break
			}
		}
		if !matched {
			issues = append(issues, fmt.Sprintf("Missing header: %s", required))
		}
	}

	passed := len(issues) == 0
	score := 1.0
	if len(requiredHeaders) > 0 {
		score = 1.0 - float64(len(issues))/float64(len(requiredHeaders))
	}
	reasoning := "Markdown structure valid"
	if len(issues) > 0 {
		reasoning = strings.Join(issues, "; ")
	}

	return &Result{
		EvaluatorName: NameFormatConsistency,
		Passed:        passed,
		Score:         metrics.Round3(math.Max(0.0, score)),
		Details: map[string]any{
			"format":           "markdown",
			"headers_found":    found,
			"headers_required": requiredHeaders,
			"issues":           issuesOrEmpty(issues),
		},
		Reasoning: reasoning,
	}
}

// markdownHeadings parses the output and returns the text of every heading
// in document order.
func markdownHeadings(output string) []string {
	source := []byte(output)
	doc := goldmark.DefaultParser().Parse(text.NewReader(source))

	headings := []string{}
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok {
			headings = append(headings, strings.TrimSpace(nodeText(heading, source)))
		}
		return ast.WalkContinue, nil
	})
	return headings
}

func nodeText(n ast.Node, source []byte) string {
	var sb strings.Builder
	for child := n.FirstChild(); child != nil; child = child.NextSibling() {
		if t, ok := child.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		} else {
			sb.WriteString(nodeText(child, source))
		}
	}
	return sb.String()
}

func (e *formatEvaluator) validateCSV(output string, spec map[string]any) *Result {
	delimiter := ","
	if d, ok := spec["delimiter"].(string); ok && d != "" {
		delimiter = d
	}
	hasHeader := specBool(spec, "has_header", true)
	expectedColumns, _ := specStrings(spec, "columns")

	reader := csv.NewReader(strings.NewReader(strings.TrimSpace(output)))
	reader.Comma = []rune(delimiter)[0]
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return &Result{
			EvaluatorName: NameFormatConsistency,
			Passed:        false,
			Score:         0.0,
			Details:       map[string]any{"format": "csv", "error": err.Error()},
			Reasoning:     fmt.Sprintf("Invalid CSV: %s", err),
		}
	}
	if len(rows) == 0 {
		return &Result{
			EvaluatorName: NameFormatConsistency,
			Passed:        false,
			Score:         0.0,
			Details:       map[string]any{"format": "csv", "error": "No CSV data found"},
			Reasoning:     "No CSV data found in output",
		}
	}

	var issues []string
	actualColumns := []string{}
	if hasHeader {
		actualColumns = rows[0]
	}

	if len(expectedColumns) > 0 && hasHeader {
		for _, col := range expectedColumns {
			found := false
			for _, actual := range actualColumns {
				if actual == col {
					found = true
					break
				}
			}
			if !found {
				issues = append(issues, fmt.Sprintf("Missing column: %s", col))
			}
		}
	}

	firstRowLen := len(rows[0])
	for idx, row := range rows[1:] {
		if len(row) != firstRowLen {
			issues = append(issues, fmt.Sprintf("Row %d has %d columns, expected %d", idx+2, len(row), firstRowLen))
			if len(issues) > 5 {
				issues = append(issues, "... and more row length mismatches")
				break
			}
		}
	}

	passed := len(issues) == 0
	score := math.Max(0.0, 1.0-float64(len(issues))*0.2)
	reasoning := "Valid CSV format"
	if len(issues) > 0 {
		reasoning = strings.Join(issues, "; ")
	}

	return &Result{
		EvaluatorName: NameFormatConsistency,
		Passed:        passed,
		Score:         metrics.Round3(score),
		Details: map[string]any{
			"format":       "csv",
			"row_count":    len(rows),
			"column_count": firstRowLen,
			"columns":      actualColumns,
			"issues":       issuesOrEmpty(issues),
		},
		Reasoning: reasoning,
	}
}

func (e *formatEvaluator) validatePattern(output, pattern string) (*Result, error) {
	if pattern == "" {
		return &Result{
			EvaluatorName: NameFormatConsistency,
			Passed:        true,
			Score:         1.0,
			Details:       map[string]any{},
			Reasoning:     "No pattern specified",
		}, nil
	}

	re, err := regexp.Compile("(?im)" + pattern)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid pattern: %w", NameFormatConsistency, err)
	}
	match := re.FindString(output)
	matched := re.MatchString(output)

	var matchText any
	if matched {
		matchText = match
	}
	reasoning := fmt.Sprintf("Pattern not found: %s", pattern)
	score := 0.0
	if matched {
		reasoning = "Pattern matched"
		score = 1.0
	}

	return &Result{
		EvaluatorName: NameFormatConsistency,
		Passed:        matched,
		Score:         score,
		Details: map[string]any{
			"pattern":    pattern,
			"matched":    matched,
			"match_text": matchText,
		},
		Reasoning: reasoning,
	}, nil
}

func jsonTypeName(data any) string {
	switch v := data.(type) {
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64:
		if v == math.Trunc(v) {
			return "integer"
		}
		return "number"
	case bool:
		return "boolean"
	case nil:
		return "null"
	default:
		return fmt.Sprintf("%T", data)
	}
}

func matchesJSONType(data any, expected string) bool {
	switch expected {
	case "object":
		_, ok := data.(map[string]any)
		return ok
	case "array":
		_, ok := data.([]any)
		return ok
	case "string":
		_, ok := data.(string)
		return ok
	case "number":
		_, ok := asFloat(data)
		return ok
	case "integer":
		n, ok := asFloat(data)
		return ok && n == math.Trunc(n)
	case "boolean":
		_, ok := data.(bool)
		return ok
	case "null":
		return data == nil
	}
	return true
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func jsonEqual(a, b any) bool {
	aj, errA := json.Marshal(a)
	bj, errB := json.Marshal(b)
	return errA == nil && errB == nil && string(aj) == string(bj)
}
