package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 256, cfg.GridHeight())
	assert.Equal(t, 256, cfg.GridWidth())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(c *Config)
	}{
		{"zero height", func(c *Config) { c.ImageHeight = 0 }},
		{"no classes", func(c *Config) { c.NumClasses = 0 }},
		{"no batch", func(c *Config) { c.BatchSize = 0 }},
		{"no rois", func(c *Config) { c.RoisPerImage = 0 }},
		{"no detections per class", func(c *Config) { c.DetectionsPerClass = 0 }},
		{"no gt instances", func(c *Config) { c.MaxGTInstances = 0 }},
		{"zero scale", func(c *Config) { c.HeatmapScale = 0 }},
		{"scale larger than image", func(c *Config) { c.HeatmapScale = 2048 }},
		{"no workers", func(c *Config) { c.NumWorkers = 0 }},
		{"zero std dev", func(c *Config) { c.BBoxStdDev[2] = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chm.yaml")
	data := []byte(`
image_height: 128
image_width: 96
num_classes: 5
heatmap_scale: 2
bbox_std_dev: [0.1, 0.1, 0.2, 0.2]
score_normalized: true
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 128, cfg.ImageHeight)
	assert.Equal(t, 96, cfg.ImageWidth)
	assert.Equal(t, 5, cfg.NumClasses)
	assert.Equal(t, 64, cfg.GridHeight())
	assert.Equal(t, 48, cfg.GridWidth())
	assert.True(t, cfg.ScoreNormalized)
	// Unset options keep their defaults.
	assert.Equal(t, 200, cfg.DetectionsPerClass)
	assert.Equal(t, 4, cfg.NumWorkers)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heatmap_scale: 0\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
