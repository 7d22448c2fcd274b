// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package convert re-saves model files in the current format, and repairs files that can't be loaded
// directly.
//
// Loading is attempted in tiers:
//
//  1. TierDirect: open the file, restore its hyperparameters and weights, and rebuild the model from them.
//  2. TierWeightsOnly: ignore whatever the file says about the model, build the architecture from an explicit
//     model.Architecture and configuration, and take only the weights from the file.
//
// Each attempt is reported as a LoadResult. Repair chains the two tiers and saves the first model that
// loads.
package convert

import (
	"fmt"

	"github.com/gomlx/emotions/pkg/bundle"
	"github.com/gomlx/emotions/pkg/config"
	"github.com/gomlx/emotions/pkg/model"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// ErrRepairFailed is returned by Repair when no tier could load the model.
var ErrRepairFailed = errors.New("model repair failed")

// Default file names of the reconversion and repair tools.
const (
	DefaultReconvertSource = "modelo_emociones_fer2013_v1.gomlx"
	DefaultReconvertTarget = "modelo_emociones_fer2013_nuevo.gomlx"
	DefaultRepairSource    = "modelo_emociones_50.gomlx"
	DefaultRepairTarget    = "modelo_emociones_50_fixed.gomlx"
)

// Tier of the loading strategy.
type Tier int

const (
	// TierNone is used when no tier succeeded.
	TierNone Tier = iota

	// TierDirect loads the model file as is.
	TierDirect

	// TierWeightsOnly rebuilds the architecture and loads only the weights.
	TierWeightsOnly
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierDirect:
		return "direct"
	case TierWeightsOnly:
		return "weights-only"
	default:
		return fmt.Sprintf("Tier(%d)", int(t))
	}
}

// LoadedModel is a model ready to be used or saved.
type LoadedModel struct {
	// Ctx holds the hyperparameters and the variables, under model.ModelScope.
	Ctx *context.Context

	// Manifest of the source file. Empty for files loaded with TierWeightsOnly, since it is not read.
	Manifest bundle.Manifest

	// Classes, if known.
	Classes []string
}

// LoadResult is the outcome of one loading attempt.
type LoadResult struct {
	Tier  Tier
	Model *LoadedModel
	Err   error
}

// OK returns whether the attempt succeeded.
func (r LoadResult) OK() bool { return r.Err == nil && r.Model != nil }

// String implements fmt.Stringer.
func (r LoadResult) String() string {
	if r.OK() {
		return fmt.Sprintf("%s: ok", r.Tier)
	}
	return fmt.Sprintf("%s: %v", r.Tier, r.Err)
}

func failed(tier Tier, err error) LoadResult {
	return LoadResult{Tier: tier, Err: err}
}

// LoadDirect loads the model file at path with its own hyperparameters.
//
// After loading, the model is rebuilt with a reuse-only context, so a variable missing from the file, or one
// with an unexpected shape, makes it fail here instead of at inference time.
func LoadDirect(path string, backend backends.Backend) LoadResult {
	b, err := bundle.Open(path)
	if err != nil {
		return failed(TierDirect, err)
	}
	ctx := context.New()
	if err := b.LoadInto(ctx); err != nil {
		return failed(TierDirect, errors.WithMessagef(err, "loading %q", path))
	}
	if err := model.BuildArchitecture(ctx.Reuse(), backend); err != nil {
		return failed(TierDirect, errors.WithMessagef(err, "rebuilding model stored in %q", path))
	}
	classes := b.Manifest.Classes
	if len(classes) == 0 {
		classes = model.Classes(ctx)
	}
	return LoadResult{
		Tier:  TierDirect,
		Model: &LoadedModel{Ctx: ctx, Manifest: b.Manifest, Classes: classes},
	}
}

// LoadWeightsOnly builds a fresh context from cfg, loads only the variables stored in the file at path, and
// runs arch with a reuse-only context: every variable arch needs must come from the file.
//
// The manifest and hyperparameters stored in the file are ignored; only the checkpoint entries are read.
// Class names are taken from cfg.Classes or, if not set, from the hyperparameters of the file when they
// can still be read.
func LoadWeightsOnly(path string, arch model.Architecture, cfg config.Config, backend backends.Backend) LoadResult {
	if arch == nil {
		return failed(TierWeightsOnly, errors.New("no model architecture given"))
	}
	jsonData, binData, err := bundle.ReadCheckpointEntries(path)
	if err != nil {
		return failed(TierWeightsOnly, err)
	}
	ctx := model.CreateDefaultContext(cfg)
	if err := bundle.LoadCheckpoint(ctx, jsonData, binData, false); err != nil {
		return failed(TierWeightsOnly, errors.WithMessagef(err, "loading weights from %q", path))
	}
	if err := arch(ctx.Reuse(), backend); err != nil {
		return failed(TierWeightsOnly, errors.WithMessagef(err, "weights in %q don't match the architecture", path))
	}
	classes := cfg.Classes
	if len(classes) == 0 {
		classes = storedClasses(jsonData, binData)
	}
	if len(classes) == 0 {
		klog.Warningf("no class names for the weights in %q, the model can't be used for classification", path)
	} else {
		numClasses := context.GetParamOr(ctx, model.ParamNumClasses, 0)
		if len(classes) != numClasses {
			return failed(TierWeightsOnly, errors.Errorf("%d class names %v for a model with %d classes",
				len(classes), classes, numClasses))
		}
		model.SetClasses(ctx, classes)
	}
	return LoadResult{Tier: TierWeightsOnly, Model: &LoadedModel{Ctx: ctx, Classes: classes}}
}

// storedClasses returns the class names in the hyperparameters of a checkpoint, or nil if they can't be read.
func storedClasses(jsonData, binData []byte) []string {
	scratch := context.New()
	if err := bundle.LoadCheckpoint(scratch, jsonData, binData, true); err != nil {
		klog.V(1).Infof("reading stored hyperparameters: %v", err)
		return nil
	}
	return model.Classes(scratch)
}

// Save writes the loaded model to path in the current format.
func (m *LoadedModel) Save(path string) error {
	manifest := bundle.Manifest{RunID: m.Manifest.RunID, Classes: m.Classes}
	return bundle.Save(m.Ctx, path, manifest)
}

// Reconvert loads src directly and saves it at the current format version to dst.
func Reconvert(src, dst string, backend backends.Backend) error {
	result := LoadDirect(src, backend)
	if !result.OK() {
		return errors.WithMessagef(result.Err, "reconverting %q", src)
	}
	if err := result.Model.Save(dst); err != nil {
		return errors.WithMessagef(err, "reconverting %q", src)
	}
	klog.V(1).Infof("reconverted %q to %q", src, dst)
	return nil
}

// RepairOutcome reports the attempts made by Repair.
type RepairOutcome struct {
	// Attempts in the order they were tried.
	Attempts []LoadResult

	// Used is the tier whose model was saved, or TierNone.
	Used Tier
}

// Repair tries to load src directly and, if that fails, with only its weights on the architecture built by
// arch from cfg. The first model loaded is saved to dst at the current format version.
//
// If no tier succeeds, it returns an error wrapping ErrRepairFailed with the messages of all attempts, and
// dst is not created.
func Repair(src, dst string, arch model.Architecture, cfg config.Config,
	backend backends.Backend) (*RepairOutcome, error) {
	outcome := &RepairOutcome{}
	attempts := []func() LoadResult{
		func() LoadResult { return LoadDirect(src, backend) },
		func() LoadResult { return LoadWeightsOnly(src, arch, cfg, backend) },
	}
	for _, attempt := range attempts {
		result := attempt()
		outcome.Attempts = append(outcome.Attempts, result)
		if !result.OK() {
			klog.Warningf("loading %q with tier %s failed: %v", src, result.Tier, result.Err)
			continue
		}
		if err := result.Model.Save(dst); err != nil {
			return outcome, errors.WithMessagef(err, "saving model repaired from %q", src)
		}
		outcome.Used = result.Tier
		return outcome, nil
	}

	msg := ""
	for ii, result := range outcome.Attempts {
		if ii > 0 {
			msg += "; "
		}
		msg += result.String()
	}
	return outcome, errors.Wrapf(ErrRepairFailed, "%q: %s", src, msg)
}
