// Command chmgen builds contextual heatmap archives from dumped detection head
// outputs.
//
// Every batch-N.json file of the input directory is run through the heatmap
// layer and every image of the batch is written to <output>/hm_NNNNN.npz.
package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/akamensky/argparse"
	"github.com/cyclopcam/logs"

	"github.com/nvr-ai/go-heatmap/archive"
	"github.com/nvr-ai/go-heatmap/config"
	"github.com/nvr-ai/go-heatmap/layer"
	"github.com/nvr-ai/go-heatmap/profiler"
	"github.com/nvr-ai/go-heatmap/util"
)

func main() {
	logger, err := logs.NewLog()
	if err != nil {
		panic(err)
	}
	defer logger.Close()

	parser := argparse.NewParser("chmgen", "Build contextual heatmap archives from detection head outputs")
	configFile := parser.String("c", "config", &argparse.Options{Help: "YAML configuration file (defaults are used when omitted)"})
	inputDir := parser.String("i", "input", &argparse.Options{Help: "Directory of batch-N.json files", Required: true})
	outputDir := parser.String("o", "output", &argparse.Options{Help: "Directory the archives are written to", Required: true})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Density workers (overrides the configuration)", Default: 0})
	if err := parser.Parse(os.Args); err != nil {
		logger.Errorf("%v", parser.Usage(err))
		os.Exit(1)
	}

	cfg := config.DefaultConfig()
	if *configFile != "" {
		loaded, err := config.Load(*configFile)
		if err != nil {
			logger.Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
		cfg = *loaded
	}

	prof := profiler.New(0)
	builder := layer.NewBuilder().WithConfig(&cfg).WithLogger(logger).WithProfiler(prof)
	if *workers > 0 {
		builder = builder.WithWorkers(*workers)
	}
	l, err := builder.Build()
	if err != nil {
		logger.Errorf("Invalid configuration: %v", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, logger, l, *inputDir, *outputDir); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	prof.Report(logger)
}

func run(ctx context.Context, logger logs.Log, l *layer.Layer, inputDir, outputDir string) error {
	batches, err := util.LoadDirectoryBatches(inputDir)
	if err != nil {
		return err
	}
	logger.Infof("Loaded %d batches from %v", len(batches), inputDir)

	written := 0
	start := time.Now()
	for _, b := range batches {
		in, err := b.Inputs()
		if err != nil {
			return err
		}
		meta, err := b.Meta()
		if err != nil {
			return err
		}

		res, err := l.Forward(ctx, in)
		if err != nil {
			return err
		}

		images, err := archive.Split(res, meta)
		if err != nil {
			return err
		}
		for _, img := range images {
			path, err := archive.WriteImage(outputDir, img)
			if err != nil {
				return err
			}
			logger.Debugf("Batch %d: wrote %v", b.Index, path)
			written++
		}
		logger.Infof("Batch %d: %d images", b.Index, len(images))
	}

	logger.Infof("Wrote %d archives to %v in %v", written, outputDir, time.Since(start))
	return nil
}
