package main

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/kestrel-eval/kestrel/internal/models"
)

// Suite is the YAML definition of an evaluation run: test cases, the
// models to exercise, and the evaluators to score with.
type Suite struct {
	PromptVersion string               `yaml:"prompt_version,omitempty"`
	Models        []models.ModelConfig `yaml:"models"`
	Evaluators    []string             `yaml:"evaluators,omitempty"`
	TestCases     []*models.TestCase   `yaml:"test_cases"`
}

// LoadSuite reads and validates a suite file, assigning ids and timestamps
// to test cases that lack them.
func LoadSuite(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading suite file: %w", err)
	}

	var suite Suite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, fmt.Errorf("parsing suite file: %w", err)
	}

	if len(suite.Models) == 0 {
		return nil, fmt.Errorf("suite defines no models")
	}
	if len(suite.TestCases) == 0 {
		return nil, fmt.Errorf("suite defines no test cases")
	}

	now := time.Now().UTC()
	for _, tc := range suite.TestCases {
		if tc.ID == uuid.Nil {
			tc.ID = uuid.New()
		}
		if tc.CreatedAt.IsZero() {
			tc.CreatedAt = now
		}
		tc.UpdatedAt = now
		if tc.Prompt == "" {
			return nil, fmt.Errorf("test case %q has no prompt", tc.Title)
		}
	}
	return &suite, nil
}

// Script is the YAML definition of a conversation run.
type Script struct {
	Model        models.ModelConfig `yaml:"model"`
	SystemPrompt string             `yaml:"system_prompt,omitempty"`
	Condition    string             `yaml:"condition,omitempty"`
	Turns        []string           `yaml:"turns"`
	TurnTimeoutS int                `yaml:"turn_timeout_s,omitempty"`

	Thresholds *struct {
		MaxDriftSlope   float64 `yaml:"max_drift_slope"`
		MaxGrowthRatio  float64 `yaml:"max_growth_ratio"`
		MaxStddevRatio  float64 `yaml:"max_stddev_ratio"`
		MaxFallbackRate float64 `yaml:"max_fallback_rate"`
	} `yaml:"thresholds,omitempty"`
}

// LoadScript reads and validates a conversation script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading script file: %w", err)
	}

	var script Script
	if err := yaml.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parsing script file: %w", err)
	}

	if script.Model.ModelID == "" {
		return nil, fmt.Errorf("script defines no model")
	}
	if len(script.Turns) == 0 {
		return nil, fmt.Errorf("script defines no turns")
	}
	return &script, nil
}
