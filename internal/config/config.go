// Package config loads the fixed Config struct from layered sources —
// built-in defaults, the user's home config, a .env file, and the project's
// own config file — in increasing precedence. The CLI layer applies flag
// overrides on top of what Load returns; no field here is discovered at
// runtime, only assembled from these sources.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// APIKeys holds API keys for each supported provider.
type APIKeys struct {
	Anthropic string `toml:"anthropic"`
	OpenAI    string `toml:"openai"`
	GLM       string `toml:"glm"`
	Kimi      string `toml:"kimi"`
	MiniMax   string `toml:"minimax"`
}

// CostConfig is the `cost.*` key group.
type CostConfig struct {
	Budget             float64 `toml:"budget"`
	Checkpoint         bool    `toml:"checkpoint"`
	CheckpointInterval int     `toml:"checkpoint_interval"`
}

// LLMConfig is the `llm.*` key group.
type LLMConfig struct {
	Provider string `toml:"provider"`
	Model    string `toml:"model"`
}

// AnalysisConfig is the `analysis.*` key group.
type AnalysisConfig struct {
	VulnTypes           []string `toml:"vuln_types"`
	ExcludePaths        []string `toml:"exclude_paths"`
	IncludePaths        []string `toml:"include_paths"`
	MaxIterations       int      `toml:"max_iterations"`
	ConfidenceThreshold int      `toml:"confidence_threshold"`
}

// IntegrationsConfig is the `integrations.*` key group, configuring where
// findings are sent besides the rendered report.
type IntegrationsConfig struct {
	WebhookURLs           []string `toml:"webhook_urls"`
	History               bool     `toml:"history"`
	GitHubRepo            string   `toml:"github_repo"` // "owner/name"
	GitHubToken           string   `toml:"github_token"`
	FileIssuesMinSeverity string   `toml:"file_issues_min_severity"` // empty disables issue filing
}

// Config is the full, fixed configuration struct. Every recognized key in
// the external-interfaces table has a field here.
type Config struct {
	Keys         APIKeys            `toml:"keys"`
	Cost         CostConfig         `toml:"cost"`
	LLM          LLMConfig          `toml:"llm"`
	Analysis     AnalysisConfig     `toml:"analysis"`
	Integrations IntegrationsConfig `toml:"integrations"`
	Verbosity    string             `toml:"verbosity"`
	DryRun       bool               `toml:"dry_run"`
}

// Defaults returns the lowest-precedence layer.
func Defaults() Config {
	return Config{
		Cost: CostConfig{
			Checkpoint:         true,
			CheckpointInterval: 30,
		},
		LLM: LLMConfig{
			Provider: "anthropic",
			Model:    "claude-opus-4-6",
		},
		Analysis: AnalysisConfig{
			MaxIterations:       7,
			ConfidenceThreshold: 5,
		},
		Integrations: IntegrationsConfig{
			History: true,
		},
		Verbosity: "info",
	}
}

const projectConfigName = ".vulnhuntr.toml"

func userConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: cannot determine home directory: %w", err)
	}
	return filepath.Join(home, ".config", "vulnhuntr"), nil
}

func userConfigPath() (string, error) {
	dir, err := userConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load assembles the layered configuration: defaults, then the user-home
// config, then a .env file (if present) mapped onto the corresponding
// fields, then the project's own .vulnhuntr.toml, each overriding the
// previous. The CLI layer (cmd/vulnhuntr) applies flag values on top of
// the result, which is the highest-precedence layer per the external
// interfaces table.
func Load(projectDir string) (*Config, error) {
	cfg := Defaults()

	if path, err := userConfigPath(); err == nil {
		if _, statErr := os.Stat(path); statErr == nil {
			if _, decodeErr := toml.DecodeFile(path, &cfg); decodeErr != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, decodeErr)
			}
		}
	}

	applyDotEnv(&cfg, projectDir)

	if projectDir != "" {
		projectPath := filepath.Join(projectDir, projectConfigName)
		if _, statErr := os.Stat(projectPath); statErr == nil {
			if _, decodeErr := toml.DecodeFile(projectPath, &cfg); decodeErr != nil {
				return nil, fmt.Errorf("config: parse %s: %w", projectPath, decodeErr)
			}
		}
	}

	return &cfg, nil
}

// applyDotEnv loads a .env file from projectDir (if present) into the
// process environment, then maps the conventional variable names onto the
// API-key and budget fields. godotenv.Load never errors for a missing file
// in a way that should abort config loading — it is purely advisory.
func applyDotEnv(cfg *Config, projectDir string) {
	if projectDir != "" {
		_ = godotenv.Load(filepath.Join(projectDir, ".env"))
	} else {
		_ = godotenv.Load()
	}

	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		cfg.Keys.Anthropic = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.Keys.OpenAI = v
	}
	if v := os.Getenv("GLM_API_KEY"); v != "" {
		cfg.Keys.GLM = v
	}
	if v := os.Getenv("KIMI_API_KEY"); v != "" {
		cfg.Keys.Kimi = v
	}
	if v := os.Getenv("MINIMAX_API_KEY"); v != "" {
		cfg.Keys.MiniMax = v
	}
	if v := os.Getenv("VULNHUNTR_BUDGET"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Cost.Budget = f
		}
	}
	if v := os.Getenv("VULNHUNTR_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		cfg.Integrations.GitHubToken = v
	}
}

// Save writes cfg to the user-home config file, creating its directory if
// needed.
func Save(cfg *Config) error {
	dir, err := userConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("config: create directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, "config.toml")
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("config: create %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// ToAPIKeysMap converts Keys to the map format providers.NewProvider expects.
func (c *Config) ToAPIKeysMap() map[string]string {
	return map[string]string{
		"anthropic": c.Keys.Anthropic,
		"openai":    c.Keys.OpenAI,
		"glm":       c.Keys.GLM,
		"kimi":      c.Keys.Kimi,
		"minimax":   c.Keys.MiniMax,
	}
}

var modelKeyName = map[string]string{
	"claude-opus-4-6": "anthropic",
	"gpt-5.2":         "openai",
	"glm-5":           "glm",
	"kimi-k2.5":       "kimi",
	"minimax-m2.5":    "minimax",
}

// ValidateForModel checks that the required API key is present for modelID.
func (c *Config) ValidateForModel(modelID string) error {
	keyName, known := modelKeyName[modelID]
	if !known {
		return fmt.Errorf("config: unknown model %q", modelID)
	}
	if c.ToAPIKeysMap()[keyName] == "" {
		return fmt.Errorf("config: API key for %q is not set — run 'vulnhuntr config set-key %s <key>'", modelID, keyName)
	}
	return nil
}
