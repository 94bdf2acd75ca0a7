package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPollInterval is used when runtime.poll_interval is omitted.
const DefaultPollInterval = time.Second

type Config struct {
	Paths   PathsConfig   `yaml:"paths"`
	Runtime RuntimeConfig `yaml:"runtime"`
}

type PathsConfig struct {
	DictionaryFile string `yaml:"dictionary_file"`
	TemplateFile   string `yaml:"template_file"`
	DataDir        string `yaml:"data_dir"`
}

type RuntimeConfig struct {
	ReaderIndex  *int          `yaml:"reader_index"`
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

func Load(path string) (*Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config yaml: %w", err)
	}
	cfg.resolvePaths(path)
	if cfg.Runtime.PollInterval == 0 {
		cfg.Runtime.PollInterval = DefaultPollInterval
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks required fields. The template file is not checked here: a
// missing template only matters when a new card is seen.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Paths.DictionaryFile) == "" {
		return fmt.Errorf("config.paths.dictionary_file is required")
	}
	if err := validateReadableFile(c.Paths.DictionaryFile, "config.paths.dictionary_file"); err != nil {
		return err
	}

	if strings.TrimSpace(c.Paths.TemplateFile) == "" {
		return fmt.Errorf("config.paths.template_file is required")
	}

	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return fmt.Errorf("config.paths.data_dir is required")
	}
	if info, err := os.Stat(c.Paths.DataDir); err == nil && !info.IsDir() {
		return fmt.Errorf("config.paths.data_dir must point to a directory, got file")
	}

	if c.Runtime.ReaderIndex == nil {
		return fmt.Errorf("config.runtime.reader_index is required")
	}
	if *c.Runtime.ReaderIndex < 0 {
		return fmt.Errorf("config.runtime.reader_index must be >= 0")
	}
	if c.Runtime.PollInterval < 0 {
		return fmt.Errorf("config.runtime.poll_interval must be > 0")
	}

	return nil
}

func (c *Config) resolvePaths(configPath string) {
	configDir := filepath.Dir(configPath)
	c.Paths.DictionaryFile = resolvePath(configDir, c.Paths.DictionaryFile)
	c.Paths.TemplateFile = resolvePath(configDir, c.Paths.TemplateFile)
	c.Paths.DataDir = resolvePath(configDir, c.Paths.DataDir)
}

func resolvePath(baseDir, path string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Clean(filepath.Join(baseDir, trimmed))
}

func validateReadableFile(path string, field string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%s: %w", field, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s must point to a file, got directory", field)
	}
	return nil
}
