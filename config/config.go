// Package config - Configuration for the contextual heatmap layer.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config represents the options consumed by the detection, heatmap and scoring
// builders.
//
// The values mirror the Mask R-CNN configuration the surrounding network was
// trained with. Only the options the heatmap core reads are carried here.
type Config struct {
	// ImageHeight is the height of the network input image in pixels.
	ImageHeight int `json:"image_height" yaml:"image_height"`

	// ImageWidth is the width of the network input image in pixels.
	ImageWidth int `json:"image_width" yaml:"image_width"`

	// NumClasses is the number of classes, including background (class 0).
	NumClasses int `json:"num_classes" yaml:"num_classes"`

	// BatchSize is the number of images per batch.
	BatchSize int `json:"batch_size" yaml:"batch_size"`

	// RoisPerImage is the number of RoIs the detection head produces per image.
	RoisPerImage int `json:"rois_per_image" yaml:"rois_per_image"`

	// DetectionsPerClass caps the rows kept per (image, class) slice.
	DetectionsPerClass int `json:"detections_per_class" yaml:"detections_per_class"`

	// MaxGTInstances is the number of ground-truth instances per image.
	MaxGTInstances int `json:"max_gt_instances" yaml:"max_gt_instances"`

	// BBoxStdDev rescales the predicted (dy, dx, log dh, log dw) deltas.
	BBoxStdDev [4]float32 `json:"bbox_std_dev" yaml:"bbox_std_dev"`

	// HeatmapScale is the integer downsampling factor of the heatmap grid.
	HeatmapScale int `json:"heatmap_scale" yaml:"heatmap_scale"`

	// NumWorkers is the number of goroutines used to evaluate densities.
	NumWorkers int `json:"num_workers" yaml:"num_workers"`

	// ScoreNormalized selects which density the detection scores integrate:
	// false uses the raw density, true the density scaled to a peak of 1.
	ScoreNormalized bool `json:"score_normalized" yaml:"score_normalized"`
}

// DefaultConfig returns the configuration used to build the COCO heatmap
// archives.
//
// Returns:
//   - Config: COCO configuration with a heatmap scale factor of 4.
//
// @example
// cfg := config.DefaultConfig()
// cfg.BatchSize = 2
func DefaultConfig() Config {
	return Config{
		ImageHeight:        1024,
		ImageWidth:         1024,
		NumClasses:         81,
		BatchSize:          1,
		RoisPerImage:       200,
		DetectionsPerClass: 200,
		MaxGTInstances:     100,
		BBoxStdDev:         [4]float32{0.1, 0.1, 0.2, 0.2},
		HeatmapScale:       4,
		NumWorkers:         4,
	}
}

// Load reads a YAML (or JSON) configuration file on top of DefaultConfig.
//
// Arguments:
//   - path: The path of the configuration file.
//
// Returns:
//   - *Config: The loaded and validated configuration.
//   - error: An error if the file cannot be read, parsed or validated.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config %s", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// GridHeight is the height of the heatmap grid.
func (c *Config) GridHeight() int {
	return c.ImageHeight / c.HeatmapScale
}

// GridWidth is the width of the heatmap grid.
func (c *Config) GridWidth() int {
	return c.ImageWidth / c.HeatmapScale
}

// Validate checks that the configuration describes a usable layer.
//
// Returns:
//   - error: The first invalid option found, nil otherwise.
func (c *Config) Validate() error {
	switch {
	case c.ImageHeight <= 0 || c.ImageWidth <= 0:
		return fmt.Errorf("invalid image dimensions: %dx%d", c.ImageWidth, c.ImageHeight)
	case c.NumClasses < 1:
		return fmt.Errorf("invalid number of classes: %d", c.NumClasses)
	case c.BatchSize < 1:
		return fmt.Errorf("invalid batch size: %d", c.BatchSize)
	case c.RoisPerImage < 1:
		return fmt.Errorf("invalid rois per image: %d", c.RoisPerImage)
	case c.DetectionsPerClass < 1:
		return fmt.Errorf("invalid detections per class: %d", c.DetectionsPerClass)
	case c.MaxGTInstances < 1:
		return fmt.Errorf("invalid max ground truth instances: %d", c.MaxGTInstances)
	case c.HeatmapScale < 1:
		return fmt.Errorf("invalid heatmap scale: %d", c.HeatmapScale)
	case c.GridHeight() < 1 || c.GridWidth() < 1:
		return fmt.Errorf("heatmap scale %d leaves an empty grid for %dx%d images",
			c.HeatmapScale, c.ImageWidth, c.ImageHeight)
	case c.NumWorkers < 1:
		return fmt.Errorf("invalid number of workers: %d", c.NumWorkers)
	}

	for i, s := range c.BBoxStdDev {
		if s <= 0 {
			return fmt.Errorf("invalid bbox std dev[%d]: %v", i, s)
		}
	}

	return nil
}
