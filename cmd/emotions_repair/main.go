// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// emotions_repair recovers a model file that can't be loaded as is: it first tries to load it directly,
// then falls back to loading only its weights into a freshly built architecture, configured by the flags.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/convert"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/emotions/ui/console"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/ui/commandline"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagSrc = flag.String("src", convert.DefaultRepairSource, "Model file to repair.")
	flagDst = flag.String("dst", convert.DefaultRepairTarget, "Repaired model file. It is overwritten if it exists.")
)

func main() {
	cfg := config.Default()
	flag.IntVar(&cfg.ImageSize, "image_size", cfg.ImageSize, "Image size of the architecture the weights are loaded into.")
	flag.IntVar(&cfg.NumClasses, "num_classes", cfg.NumClasses, "Number of classes of the architecture the weights are loaded into.")
	flag.Func("classes", "Comma-separated class names, in label order, for files that don't store them.",
		func(value string) error {
			cfg.Classes = strings.Split(value, ",")
			return nil
		})
	// Architecture hyperparameters, e.g. -set="conv_channels=32,64,128".
	settings := commandline.CreateContextSettingsFlag(model.CreateDefaultContext(cfg), "")
	klog.InitFlags(nil)
	flag.Parse()

	arch := func(ctx *context.Context, backend backends.Backend) error {
		if _, err := commandline.ParseContextSettings(ctx, *settings); err != nil {
			return err
		}
		return model.BuildArchitecture(ctx, backend)
	}
	outcome, err := convert.Repair(*flagSrc, *flagDst, arch, cfg, backends.MustNew())
	if outcome != nil {
		fmt.Println(console.RepairOutcome(outcome))
	}
	if err != nil {
		klog.Errorf("Failed to repair %q: %v", *flagSrc, err)
		os.Exit(1)
	}
	fmt.Printf("Model %q repaired (%s) and saved to %q\n", *flagSrc, outcome.Used, *flagDst)
}
