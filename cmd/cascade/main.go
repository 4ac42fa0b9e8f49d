package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/go-rcnn/common"
	"github.com/nvr-ai/go-rcnn/inference"
	"github.com/nvr-ai/go-rcnn/inference/providers"
	"github.com/nvr-ai/go-rcnn/models/rcnn"
	"github.com/nvr-ai/go-rcnn/profiler"
	"github.com/nvr-ai/go-rcnn/transforms"
)

const (
	// DefaultModelRoot is the directory holding exported cascade components.
	DefaultModelRoot = "data/models"
	// DefaultModelName is the backbone variant of the exported model.
	DefaultModelName = "resnet50_v1b"
	// DefaultDataset names the class set the heads were trained on.
	DefaultDataset = "voc"
)

type options struct {
	configPath string
	modelRoot  string
	modelName  string
	dataset    string
	input      string
	backend    string
	libPath    string
	logLevel   string
	short      int
	maxSize    int
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to a YAML detector configuration")
	flag.StringVar(&opts.modelRoot, "models", DefaultModelRoot, "Directory of exported ONNX components")
	flag.StringVar(&opts.modelName, "model", DefaultModelName, "Backbone variant")
	flag.StringVar(&opts.dataset, "dataset", DefaultDataset, "Class set (voc, coco)")
	flag.StringVar(&opts.input, "image", "", "Image file or directory of images")
	flag.StringVar(&opts.backend, "provider", string(providers.CPUProviderBackend), "Execution provider (cpu, cuda, coreml, openvino)")
	flag.StringVar(&opts.libPath, "lib", "", "Path to the ONNX Runtime shared library")
	flag.StringVar(&opts.logLevel, "log-level", "info", "Log level")
	flag.IntVar(&opts.short, "short", 600, "Short side of the resized input")
	flag.IntVar(&opts.maxSize, "max-size", 1000, "Upper bound of the resized long side")
	flag.Parse()

	log := logrus.New()
	level, err := logrus.ParseLevel(opts.logLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	log.SetLevel(level)

	if opts.input == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, log, opts); err != nil {
		log.Fatalf("%v", err)
	}
}

func run(ctx context.Context, log *logrus.Logger, opts options) error {
	cfg, classes, err := loadConfig(opts.configPath, opts.dataset)
	if err != nil {
		return err
	}

	if opts.libPath != "" {
		if err := os.Setenv(providers.SharedLibEnv, opts.libPath); err != nil {
			return errors.Wrap(err, "setting library path")
		}
	}
	provider := providers.DefaultConfig()
	provider.Backend = providers.ProviderBackend(opts.backend)

	modelPath := inference.ModelPath(opts.modelRoot, opts.modelName, opts.dataset)
	models, err := inference.LoadModels(modelPath, cfg.NumClass, provider)
	if err != nil {
		return errors.Wrap(err, "loading models")
	}
	defer models.Close()

	detector, err := rcnn.New(cfg, models.Primitives(), rcnn.WithLogger(log))
	if err != nil {
		return err
	}

	preset := transforms.DefaultPresetConfig()
	preset.Short = opts.short
	preset.MaxSize = opts.maxSize
	pre, err := transforms.NewTestPreset(preset)
	if err != nil {
		return err
	}

	paths := []string{opts.input}
	if info, err := os.Stat(opts.input); err == nil && info.IsDir() {
		if paths, err = transforms.ListImages(opts.input); err != nil {
			return err
		}
	}

	prof := profiler.New(0)
	defer prof.Report(log)
	for _, path := range paths {
		if err := detect(ctx, log, prof, detector, pre, classes, path); err != nil {
			return err
		}
	}
	return nil
}

// loadConfig returns the detector configuration and the class names used to
// label its output. Names come from the config when it lists them, otherwise
// from the dataset, and must cover exactly NumClass classes.
func loadConfig(path, dataset string) (rcnn.Config, []string, error) {
	classes, err := inference.ClassNames(dataset)
	if err != nil {
		return rcnn.Config{}, nil, err
	}

	cfg := rcnn.DefaultConfig(len(classes))
	if path != "" {
		if cfg, err = rcnn.LoadConfig(path); err != nil {
			return rcnn.Config{}, nil, err
		}
	}
	if len(cfg.Classes) > 0 {
		classes = cfg.Classes
	}
	if len(classes) != cfg.NumClass {
		return rcnn.Config{}, nil, errors.Wrapf(common.ErrConfiguration,
			"%d class names for num_class %d", len(classes), cfg.NumClass)
	}
	return cfg, classes, nil
}

func detect(ctx context.Context, log *logrus.Logger, prof *profiler.Profiler, detector *rcnn.Cascade,
	preset *transforms.TestPreset, classes []string, path string,
) error {
	done := prof.StartOperation("preprocess")
	img, err := transforms.LoadImage(path)
	if err != nil {
		return err
	}
	sample := preset.Apply(img)
	done()

	start := time.Now()
	detections, err := detector.Detect(ctx, sample.Image)
	if err != nil {
		return errors.Wrap(err, path)
	}
	prof.Record("detect", time.Since(start))
	log.WithFields(logrus.Fields{
		"image":      path,
		"detections": len(detections),
		"elapsed":    time.Since(start),
	}).Info("detected")

	for _, d := range detections {
		fmt.Printf("%s\t%s\t%.3f\t%v\n", path, inference.ClassName(classes, d.Class), d.Score, sample.Unscale(d.Box))
	}
	return nil
}
