// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package pipeline runs a complete training of the emotion classifier: it loads the datasets, builds the
// model, trains it with early stopping (saving the best model), evaluates it on the test set and writes
// the reports.
//
// All the state of a run lives in the given config.Config and context.Context: several runs can happen
// in the same process.
package pipeline

import (
	"fmt"
	"time"

	"github.com/gomlx/emotions/pkg/bundle"
	"github.com/gomlx/emotions/pkg/classifier"
	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/dataset"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/emotions/pkg/report"
	"github.com/gomlx/emotions/pkg/trainer"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Option configures Run.
type Option func(o *options)

type options struct {
	progressBar bool
	verify      bool
	policy      trainer.Policy
}

// WithProgressBar displays a progress bar of the training steps in the terminal.
func WithProgressBar() Option {
	return func(o *options) { o.progressBar = true }
}

// WithVerification decodes all images before training, see dataset.WithVerification.
func WithVerification() Option {
	return func(o *options) { o.verify = true }
}

// WithPolicy replaces the default early stopping policy (configured by Config.Patience and Config.MinDelta).
func WithPolicy(policy trainer.Policy) Option {
	return func(o *options) { o.policy = policy }
}

// Outcome of a run.
type Outcome struct {
	RunID      string
	Splits     *dataset.Splits
	Fit        *trainer.Result
	Evaluation *report.Evaluation
	Summary    *report.Summary

	// ModelPath of the saved model, and Artifacts written by report.WriteAll.
	ModelPath string
	Artifacts []string
}

// Run trains, evaluates and reports on the model configured by cfg.
//
// ctx holds the model hyperparameters: if nil, model.CreateDefaultContext(cfg) is used, otherwise the
// parameters mirrored from cfg (see model.ApplyConfig) are overwritten. The trained
// variables are left in it.
//
// Failures to write the reports don't interrupt the run: Run returns the Outcome along with the first
// such error. Any other error returns a nil Outcome.
func Run(cfg config.Config, backend backends.Backend, ctx *context.Context, opts ...Option) (*Outcome, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	started := time.Now()
	outcome := &Outcome{RunID: uuid.NewString(), ModelPath: cfg.OutputPath(cfg.ModelFile)}

	// Load.
	var loadOpts []dataset.LoadOption
	if o.verify {
		loadOpts = append(loadOpts, dataset.WithVerification(o.progressBar))
	}
	splits, err := dataset.Load(cfg, loadOpts...)
	if err != nil {
		return nil, err
	}
	outcome.Splits = splits
	fmt.Printf("Dataset: %s\n", splits)

	// Build.
	if ctx == nil {
		ctx = model.CreateDefaultContext(cfg)
	} else {
		model.ApplyConfig(ctx, cfg)
	}
	model.SetClasses(ctx, splits.Classes)
	if err := ctx.SetRNGStateFromSeed(cfg.Seed); err != nil {
		return nil, errors.WithMessagef(err, "seeding the random number generator")
	}
	modelTrainer := model.NewTrainer(backend, ctx)
	loop := train.NewLoop(modelTrainer)
	if o.progressBar {
		commandline.AttachProgressBar(loop)
	}

	// Train.
	writer := bundle.NewWriter(outcome.ModelPath, bundle.Manifest{RunID: outcome.RunID, Classes: splits.Classes})
	defer func() {
		if err := writer.Close(); err != nil {
			klog.Warningf("%v", err)
		}
	}()
	policy := o.policy
	if policy == nil {
		policy = trainer.NewEarlyStopping(cfg.Patience, cfg.MinDelta)
	}
	outcome.Fit, err = trainer.Fit(modelTrainer, loop, splits.Train, splits.Validation, cfg.Epochs, policy, writer)
	if err != nil {
		return nil, err
	}
	if outcome.Fit.BestEpoch < 0 {
		klog.Warningf("validation loss never improved, saving the last weights to %q", outcome.ModelPath)
		if err := writer.Save(ctx); err != nil {
			return nil, err
		}
	}

	// Evaluate.
	clf, err := classifier.FromContext(ctx, splits.Classes, cfg.ImageSize, backend)
	if err != nil {
		return nil, err
	}
	outcome.Evaluation, err = report.Evaluate(modelTrainer, clf, splits.Test)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Test Accuracy: %.4f\nTest Loss: %.4f\n", outcome.Evaluation.Accuracy, outcome.Evaluation.Loss)

	// Report.
	outcome.Summary = &report.Summary{
		RunID:        outcome.RunID,
		Started:      started.UTC().Truncate(time.Second),
		Finished:     time.Now().UTC().Truncate(time.Second),
		Config:       cfg,
		Classes:      splits.Classes,
		ModelFile:    outcome.ModelPath,
		BestEpoch:    outcome.Fit.BestEpoch,
		StoppedEarly: outcome.Fit.StoppedEarly,
		TestLoss:     outcome.Evaluation.Loss,
		TestAccuracy: outcome.Evaluation.Accuracy,
		History:      outcome.Fit.History,
	}
	outcome.Artifacts, err = report.WriteAll(cfg, outcome.Evaluation, outcome.Fit.History, outcome.Summary)
	if err != nil {
		return outcome, errors.WithMessage(err, "writing reports")
	}
	return outcome, nil
}
