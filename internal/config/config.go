// Package config loads sceneport configuration from a YAML file with
// environment-variable overrides for secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sceneport configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Rewrite    RewriteConfig    `yaml:"rewrite"`
	Validate   ValidateConfig   `yaml:"validate"`
	Classify   ClassifyConfig   `yaml:"classify"`
	Execution  ExecutionConfig  `yaml:"execution"`
	Oracle     OracleConfig     `yaml:"oracle"`
	Provenance ProvenanceConfig `yaml:"provenance"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// PipelineConfig controls the per-unit worker pool.
type PipelineConfig struct {
	Workers       int  `yaml:"workers"`        // parallel units (default: 4)
	ResumeEnabled bool `yaml:"resume_enabled"` // resume from checkpoints
}

// RewriteConfig controls the rule-based rewriter.
type RewriteConfig struct {
	CatalogPath string `yaml:"catalog_path"` // rule catalog YAML
	MaxPasses   int    `yaml:"max_passes"`   // fixpoint cap (default: 4)
	WatchReload bool   `yaml:"watch_reload"` // fsnotify hot reload
}

// ValidateConfig controls the static validator.
type ValidateConfig struct {
	SymbolTablePath string `yaml:"symbol_table_path"` // dialect-B known symbols
	IncompatPath    string `yaml:"incompat_path"`     // incompatible-usage catalog
	MaxFixPasses    int    `yaml:"max_fix_passes"`    // auto-fix rounds (default: 3)
}

// ClassifyConfig controls the unfixable-pattern classifier.
type ClassifyConfig struct {
	CatalogPath string `yaml:"catalog_path"` // tiered signature catalog
	HeadLines   int    `yaml:"head_lines"`   // "syntax error at start" window (default: 3)
}

// ExecutionConfig controls the execution validator runtime.
type ExecutionConfig struct {
	PythonBinary  string   `yaml:"python_binary"`  // default: python3
	Timeout       string   `yaml:"timeout"`        // per-attempt wall clock (default: 60s)
	MaxConcurrent int      `yaml:"max_concurrent"` // render semaphore size (default: 2)
	WorkDir       string   `yaml:"work_dir"`       // scratch dir for candidates
	ExtraArgs     []string `yaml:"extra_args"`     // interpreter flags (e.g. -W ignore)
}

// OracleConfig controls the external repair oracle client.
type OracleConfig struct {
	Provider    string `yaml:"provider"` // gemini (default), scripted (tests)
	APIKey      string `yaml:"api_key"`  // overridden by GEMINI_API_KEY
	Model       string `yaml:"model"`
	Timeout     string `yaml:"timeout"`      // per-call (default: 2m)
	MaxInFlight int    `yaml:"max_in_flight"` // gate size (default: 2)
	MaxRetries  int    `yaml:"max_retries"`   // transport retries (default: 2)
	MaxAttempts int    `yaml:"max_attempts"`  // semantic repair cap (default: 3)

	// Escalation maps attempt number (1-based) to oracle settings.
	// Missing attempts fall back to Model above.
	Escalation []EscalationStep `yaml:"escalation"`
}

// EscalationStep selects oracle settings for one repair attempt.
type EscalationStep struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// ProvenanceConfig controls the append-only attempt store.
type ProvenanceConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig controls categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
	Categories map[string]bool `yaml:"categories"`
}

// Default returns a Config with sensible defaults for a local conversion run.
func Default() *Config {
	return &Config{
		Name:    "sceneport",
		Version: "0.1.0",
		Pipeline: PipelineConfig{
			Workers:       4,
			ResumeEnabled: true,
		},
		Rewrite: RewriteConfig{
			CatalogPath: "catalogs/rules.yaml",
			MaxPasses:   4,
		},
		Validate: ValidateConfig{
			SymbolTablePath: "catalogs/symbols.yaml",
			IncompatPath:    "catalogs/incompatible.yaml",
			MaxFixPasses:    3,
		},
		Classify: ClassifyConfig{
			CatalogPath: "catalogs/unfixable.yaml",
			HeadLines:   3,
		},
		Execution: ExecutionConfig{
			PythonBinary:  "python3",
			Timeout:       "60s",
			MaxConcurrent: 2,
		},
		Oracle: OracleConfig{
			Provider:    "gemini",
			Model:       "gemini-3-flash-preview",
			Timeout:     "2m",
			MaxInFlight: 2,
			MaxRetries:  2,
			MaxAttempts: 3,
		},
		Provenance: ProvenanceConfig{
			DatabasePath: ".sceneport/provenance.db",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from path, layering it over Default().
// A missing file is not an error; defaults plus env overrides apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides pulls secrets and common knobs from the environment.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Oracle.APIKey = key
	}
	if bin := os.Getenv("SCENEPORT_PYTHON"); bin != "" {
		c.Execution.PythonBinary = bin
	}
	if os.Getenv("SCENEPORT_DEBUG") == "1" {
		c.Logging.DebugMode = true
	}
}

func (c *Config) validate() error {
	if c.Pipeline.Workers < 1 {
		return fmt.Errorf("pipeline.workers must be >= 1, got %d", c.Pipeline.Workers)
	}
	if c.Rewrite.MaxPasses < 1 {
		return fmt.Errorf("rewrite.max_passes must be >= 1, got %d", c.Rewrite.MaxPasses)
	}
	if c.Validate.MaxFixPasses < 1 {
		return fmt.Errorf("validate.max_fix_passes must be >= 1, got %d", c.Validate.MaxFixPasses)
	}
	if c.Oracle.MaxAttempts < 0 {
		return fmt.Errorf("oracle.max_attempts must be >= 0, got %d", c.Oracle.MaxAttempts)
	}
	if c.Execution.MaxConcurrent < 1 {
		return fmt.Errorf("execution.max_concurrent must be >= 1, got %d", c.Execution.MaxConcurrent)
	}
	if _, err := c.ExecutionTimeout(); err != nil {
		return err
	}
	if _, err := c.OracleTimeout(); err != nil {
		return err
	}
	return nil
}

// ExecutionTimeout parses the execution timeout duration string.
func (c *Config) ExecutionTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Execution.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid execution.timeout %q: %w", c.Execution.Timeout, err)
	}
	return d, nil
}

// OracleTimeout parses the oracle per-call timeout duration string.
func (c *Config) OracleTimeout() (time.Duration, error) {
	d, err := time.ParseDuration(c.Oracle.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid oracle.timeout %q: %w", c.Oracle.Timeout, err)
	}
	return d, nil
}

// Save writes the config as YAML to path, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
