package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds every tunable for a coedit server: the project label, the
// directory roles on disk, the scheduler period and its budget split, and
// the HTTP boundary settings.
type Config struct {
	Name      string `json:"name"`
	BaseDir   string `json:"base_dir"`
	CodeDir   string `json:"code_dir"`
	BackupDir string `json:"backup_dir"`
	ExecDir   string `json:"exec_dir"`
	TmpDir    string `json:"tmp_dir"`

	// Scheduler period in microseconds and the percentage of each cycle
	// reserved for the critical, secondary and auxiliary bands. The three
	// percentages must sum to at most 100.
	CycleTime       int64 `json:"cycle_time"`
	BufferCritical  int   `json:"buffer_critical"`
	BufferSecondary int   `json:"buffer_secondary"`
	BufferAuxiliary int   `json:"buffer_auxiliary"`

	Port      int `json:"port"`
	QueueSize int `json:"queue_size"`
}

// DefaultConfig returns the configuration used when no config file exists.
// Directory roles default to subdirectories of base_dir.
func DefaultConfig() *Config {
	return &Config{
		Name:            "project",
		BaseDir:         "project",
		CycleTime:       100_000, // 100ms
		BufferCritical:  20,
		BufferSecondary: 40,
		BufferAuxiliary: 40,
		Port:            8065,
		QueueSize:       1024,
	}
}

// LoadConfig reads the JSON config file at path and merges it over the
// defaults. A missing file yields the defaults; a malformed file or a
// config that fails validation is a boot error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.fillDirs()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	// Unmarshal directly over the defaults so present keys overwrite them
	// (even with zero values) while missing keys leave defaults untouched.
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	cfg.fillDirs()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// fillDirs derives unset directory roles from base_dir.
func (c *Config) fillDirs() {
	if c.CodeDir == "" {
		c.CodeDir = filepath.Join(c.BaseDir, "src")
	}
	if c.BackupDir == "" {
		c.BackupDir = filepath.Join(c.BaseDir, "backup")
	}
	if c.ExecDir == "" {
		c.ExecDir = filepath.Join(c.BaseDir, "exec")
	}
	if c.TmpDir == "" {
		c.TmpDir = filepath.Join(c.BaseDir, "tmp")
	}
}

// Validate rejects configurations the scheduler cannot run with.
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if c.BaseDir == "" {
		return fmt.Errorf("base_dir must not be empty")
	}
	if c.CycleTime <= 0 {
		return fmt.Errorf("cycle_time must be positive, got %d", c.CycleTime)
	}
	for _, b := range []struct {
		name string
		val  int
	}{
		{"buffer_critical", c.BufferCritical},
		{"buffer_secondary", c.BufferSecondary},
		{"buffer_auxiliary", c.BufferAuxiliary},
	} {
		if b.val < 0 || b.val > 100 {
			return fmt.Errorf("%s must be between 0 and 100, got %d", b.name, b.val)
		}
	}
	if c.BufferCritical == 0 {
		return fmt.Errorf("buffer_critical must be positive")
	}
	if sum := c.BufferCritical + c.BufferSecondary + c.BufferAuxiliary; sum > 100 {
		return fmt.Errorf("buffer percentages sum to %d, must be at most 100", sum)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive, got %d", c.QueueSize)
	}
	return nil
}

// Cycle returns the scheduler period as a duration.
func (c *Config) Cycle() time.Duration {
	return time.Duration(c.CycleTime) * time.Microsecond
}

// CriticalBudget returns the slice of each cycle reserved for the critical
// sweep.
func (c *Config) CriticalBudget() time.Duration {
	return c.Cycle() * time.Duration(c.BufferCritical) / 100
}

// NonCriticalBudget returns the leading slice of each cycle available to
// queued tasks (secondary plus auxiliary bands).
func (c *Config) NonCriticalBudget() time.Duration {
	return c.Cycle() * time.Duration(c.BufferSecondary+c.BufferAuxiliary) / 100
}

// PrepareDirs creates the project directories if absent and clears the tmp
// directory. Failure here is fatal at boot.
func (c *Config) PrepareDirs() error {
	for _, dir := range []string{c.BaseDir, c.CodeDir, c.BackupDir, c.ExecDir, c.TmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	entries, err := os.ReadDir(c.TmpDir)
	if err != nil {
		return fmt.Errorf("reading tmp dir: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(c.TmpDir, e.Name())); err != nil {
			return fmt.Errorf("clearing tmp dir: %w", err)
		}
	}
	return nil
}
