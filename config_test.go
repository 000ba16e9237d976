package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)

	assert.Equal(t, "project", cfg.Name)
	assert.Equal(t, int64(100_000), cfg.CycleTime)
	assert.Equal(t, 8065, cfg.Port)
	assert.Equal(t, filepath.Join("project", "src"), cfg.CodeDir)
	assert.Equal(t, filepath.Join("project", "tmp"), cfg.TmpDir)
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "coedit.json")
	data := `{"name": "demo", "base_dir": "` + filepath.ToSlash(dir) + `", "cycle_time": 50000, "port": 9000}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "demo", cfg.Name)
	assert.Equal(t, int64(50_000), cfg.CycleTime)
	assert.Equal(t, 9000, cfg.Port)
	// Keys absent from the file keep their defaults.
	assert.Equal(t, 20, cfg.BufferCritical)
	assert.Equal(t, 1024, cfg.QueueSize)
	assert.Equal(t, filepath.Join(dir, "src"), cfg.CodeDir)
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "coedit.json")
	require.NoError(t, os.WriteFile(path, []byte("not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty name", func(c *Config) { c.Name = "" }},
		{"zero cycle", func(c *Config) { c.CycleTime = 0 }},
		{"negative cycle", func(c *Config) { c.CycleTime = -1 }},
		{"critical zero", func(c *Config) { c.BufferCritical = 0 }},
		{"percentage above 100", func(c *Config) { c.BufferSecondary = 120 }},
		{"negative percentage", func(c *Config) { c.BufferAuxiliary = -5 }},
		{"sum above 100", func(c *Config) { c.BufferCritical = 50; c.BufferSecondary = 40; c.BufferAuxiliary = 40 }},
		{"port out of range", func(c *Config) { c.Port = 70000 }},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.fillDirs()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestConfigBudgets(t *testing.T) {
	cfg := &Config{CycleTime: 100_000, BufferCritical: 20, BufferSecondary: 40, BufferAuxiliary: 40}

	assert.Equal(t, 100*time.Millisecond, cfg.Cycle())
	assert.Equal(t, 20*time.Millisecond, cfg.CriticalBudget())
	assert.Equal(t, 80*time.Millisecond, cfg.NonCriticalBudget())
}

func TestPrepareDirsClearsTmp(t *testing.T) {
	base := t.TempDir()
	cfg := DefaultConfig()
	cfg.BaseDir = base
	cfg.fillDirs()

	require.NoError(t, cfg.PrepareDirs())
	stale := filepath.Join(cfg.TmpDir, "stale.zip")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))

	require.NoError(t, cfg.PrepareDirs())
	_, err := os.Stat(stale)
	assert.True(t, os.IsNotExist(err), "tmp dir should be cleared on boot")

	for _, dir := range []string{cfg.CodeDir, cfg.BackupDir, cfg.ExecDir, cfg.TmpDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}
