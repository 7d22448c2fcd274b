// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// emotions_train trains the FER2013 emotion classifier, evaluates it on the test images and writes the
// model file along with its reports.
//
// Model hyperparameters can be changed with -set, e.g.:
//
//	emotions_train -data ~/work/FER2013 -set="conv_channels=32,64,128;dense_units=128"
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/emotions/pkg/pipeline"
	"github.com/gomlx/emotions/ui/console"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

var (
	flagVerify    = flag.Bool("verify", false, "Decode every image before training, failing on the first unreadable one.")
	flagNoBar     = flag.Bool("no_progress", false, "Disable the training progress bar.")
	flagVerbosity = flag.Int("verbosity", 1, "Level of verbosity, the higher the more verbose.")
)

func main() {
	cfg := config.Default()
	config.RegisterFlags(flag.CommandLine, &cfg)

	// The context settings flag needs the context with the default hyperparameters before parsing.
	ctx := model.CreateDefaultContext(cfg)
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	flag.Parse()

	model.ApplyConfig(ctx, cfg)
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	backend := backends.MustNew()
	if *flagVerbosity >= 1 {
		fmt.Printf("Backend %q:\t%s\n", backend.Name(), backend.Description())
	}
	if *flagVerbosity >= 2 {
		fmt.Println(commandline.SprintModifiedContextSettings(ctx, paramsSet))
	}

	var opts []pipeline.Option
	if !*flagNoBar {
		opts = append(opts, pipeline.WithProgressBar())
	}
	if *flagVerify {
		opts = append(opts, pipeline.WithVerification())
	}
	outcome, err := pipeline.Run(cfg, backend, ctx, opts...)
	if outcome == nil {
		klog.Errorf("Training failed: %+v", err)
		os.Exit(1)
	}
	if *flagVerbosity >= 1 {
		fmt.Println(console.History(outcome.Fit.History))
		fmt.Println(console.Evaluation(outcome.Evaluation))
	}
	fmt.Printf("Model saved to %q\n", outcome.ModelPath)
	for _, artifact := range outcome.Artifacts {
		fmt.Printf("\t- %s\n", artifact)
	}
	if err != nil {
		klog.Errorf("Failed to write some of the reports: %v", err)
		os.Exit(1)
	}
}
