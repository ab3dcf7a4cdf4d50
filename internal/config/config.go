// Package config provides the Config struct and loader for .kestrel.yaml
// project-level configuration files.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/kestrel-eval/kestrel/internal/evaluators"
	"github.com/kestrel-eval/kestrel/internal/llm"
)

// Default values for configuration. These are the single source of truth,
// New() references them and no other code should duplicate them.
const (
	DefaultOllamaBaseURL   = "http://localhost:11434"
	DefaultMaxConcurrency  = 10
	DefaultTurnTimeoutSecs = 120
	DefaultArtifactsDir    = "artifacts"
	DefaultJudgeModel      = "claude-sonnet-4-20250514"
)

// ProvidersConfig holds provider credentials and endpoints. API keys are
// normally supplied through the environment rather than the file.
type ProvidersConfig struct {
	AnthropicAPIKey string `yaml:"anthropic_api_key,omitempty"`
	OpenAIAPIKey    string `yaml:"openai_api_key,omitempty"`
	OllamaBaseURL   string `yaml:"ollama_base_url,omitempty"`
}

// RunsConfig holds execution parameters for evaluation and conversation runs.
type RunsConfig struct {
	MaxConcurrency  int    `yaml:"max_concurrency,omitempty"`
	TurnTimeoutSecs int    `yaml:"turn_timeout_s,omitempty"`
	ArtifactsDir    string `yaml:"artifacts_dir,omitempty"`
	JudgeModel      string `yaml:"judge_model,omitempty"`
}

// Config is the top-level configuration loaded from .kestrel.yaml.
type Config struct {
	Providers ProvidersConfig                `yaml:"providers,omitempty"`
	Runs      RunsConfig                     `yaml:"runs,omitempty"`
	Verbosity evaluators.VerbosityThresholds `yaml:"verbosity,omitempty"`
	Debug     bool                           `yaml:"debug,omitempty"`
}

// New returns a Config with all hard-coded defaults populated.
func New() *Config {
	return &Config{
		Providers: ProvidersConfig{
			OllamaBaseURL: DefaultOllamaBaseURL,
		},
		Runs: RunsConfig{
			MaxConcurrency:  DefaultMaxConcurrency,
			TurnTimeoutSecs: DefaultTurnTimeoutSecs,
			ArtifactsDir:    DefaultArtifactsDir,
			JudgeModel:      DefaultJudgeModel,
		},
		Verbosity: evaluators.DefaultVerbosityThresholds(),
	}
}

// Load finds .kestrel.yaml by walking up from startDir (max 10 levels),
// unmarshals it, fills in missing fields with defaults, and overlays
// provider credentials from the environment. If no config file is found,
// returns defaults with a nil error.
func Load(startDir string) (*Config, error) {
	cfg := New()

	data, err := findConfigFile(startDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.applyEnv()
			return cfg, nil
		}
		return nil, fmt.Errorf("loading .kestrel.yaml: %w", err)
	}

	var fileCfg Config
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("parsing .kestrel.yaml: %w", err)
	}

	merge(cfg, &fileCfg)
	cfg.applyEnv()
	return cfg, nil
}

// Settings adapts the provider section to the model router.
func (c *Config) Settings() llm.Settings {
	return llm.Settings{
		AnthropicAPIKey: c.Providers.AnthropicAPIKey,
		OpenAIAPIKey:    c.Providers.OpenAIAPIKey,
		OllamaBaseURL:   c.Providers.OllamaBaseURL,
	}
}

// applyEnv overlays credentials from the environment. Environment values
// win over file values so secrets stay out of checked-in config.
func (c *Config) applyEnv() {
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.Providers.AnthropicAPIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Providers.OpenAIAPIKey = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		c.Providers.OllamaBaseURL = v
	}
}

// findConfigFile walks up from dir looking for .kestrel.yaml (max 10
// levels). Returns os.ErrNotExist if no config file is found. Propagates
// real I/O errors instead of silently swallowing them.
func findConfigFile(dir string) ([]byte, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving path %q: %w", dir, err)
	}
	dir = absDir

	for i := 0; i < 10; i++ {
		p := filepath.Join(dir, ".kestrel.yaml")
		data, err := os.ReadFile(p)
		if err == nil {
			return data, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("reading %q: %w", p, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, os.ErrNotExist
}

// merge overlays non-zero values from src onto dst.
func merge(dst, src *Config) {
	if src.Providers.AnthropicAPIKey != "" {
		dst.Providers.AnthropicAPIKey = src.Providers.AnthropicAPIKey
	}
	if src.Providers.OpenAIAPIKey != "" {
		dst.Providers.OpenAIAPIKey = src.Providers.OpenAIAPIKey
	}
	if src.Providers.OllamaBaseURL != "" {
		dst.Providers.OllamaBaseURL = src.Providers.OllamaBaseURL
	}
	if src.Runs.MaxConcurrency > 0 {
		dst.Runs.MaxConcurrency = src.Runs.MaxConcurrency
	}
	if src.Runs.TurnTimeoutSecs > 0 {
		dst.Runs.TurnTimeoutSecs = src.Runs.TurnTimeoutSecs
	}
	if src.Runs.ArtifactsDir != "" {
		dst.Runs.ArtifactsDir = src.Runs.ArtifactsDir
	}
	if src.Runs.JudgeModel != "" {
		dst.Runs.JudgeModel = src.Runs.JudgeModel
	}
	if src.Verbosity.MaxDriftSlope > 0 {
		dst.Verbosity.MaxDriftSlope = src.Verbosity.MaxDriftSlope
	}
	if src.Verbosity.MaxGrowthRatio > 0 {
		dst.Verbosity.MaxGrowthRatio = src.Verbosity.MaxGrowthRatio
	}
	if src.Verbosity.MaxStddevRatio > 0 {
		dst.Verbosity.MaxStddevRatio = src.Verbosity.MaxStddevRatio
	}
	if src.Verbosity.MaxFallbackRate > 0 {
		dst.Verbosity.MaxFallbackRate = src.Verbosity.MaxFallbackRate
	}
	if src.Debug {
		dst.Debug = true
	}
}
