// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package datasettest holds test utilities to create small synthetic image datasets on disk, laid out as
// <root>/<split>/<class>/<n>.png.
package datasettest

import (
	"fmt"
	"image"
	"image/color"
	"math/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/require"
)

// ClassColors used to paint the images of each class: class i gets ClassColors[i % len(ClassColors)], with
// a bit of noise. It makes the synthetic classes trivially separable.
var ClassColors = []color.NRGBA{
	{R: 230, G: 30, B: 30, A: 255},
	{R: 30, G: 30, B: 230, A: 255},
	{R: 30, G: 200, B: 30, A: 255},
	{R: 220, G: 220, B: 40, A: 255},
	{R: 200, G: 40, B: 200, A: 255},
	{R: 40, G: 200, B: 200, A: 255},
	{R: 128, G: 128, B: 128, A: 255},
}

// NewImage creates a size x size image of the given class, with noise sampled from rng.
func NewImage(class, size int, rng *rand.Rand) image.Image {
	base := ClassColors[class%len(ClassColors)]
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	jitter := func(v uint8) uint8 {
		x := int(v) + rng.Intn(21) - 10
		return uint8(min(255, max(0, x)))
	}
	for y := range size {
		for x := range size {
			img.SetNRGBA(x, y, color.NRGBA{R: jitter(base.R), G: jitter(base.G), B: jitter(base.B), A: 255})
		}
	}
	return img
}

// WriteSplit writes counts[class] images for each class under root/split/<class>/, and returns the split
// directory. Class indices follow the order of classes.
func WriteSplit(t testing.TB, root, split string, classes []string, counts []int, size int) string {
	t.Helper()
	require.Len(t, counts, len(classes))
	rng := rand.New(rand.NewSource(int64(len(split))))
	splitDir := filepath.Join(root, split)
	for classIdx, class := range classes {
		classDir := filepath.Join(splitDir, class)
		require.NoError(t, os.MkdirAll(classDir, 0o755))
		for ii := range counts[classIdx] {
			img := NewImage(classIdx, size, rng)
			require.NoError(t, imaging.Save(img, filepath.Join(classDir, fmt.Sprintf("%03d.png", ii))))
		}
	}
	return splitDir
}

// WriteTree creates a dataset root with "train" and "test" splits, with the given number of images per class
// in each split. It returns the root directory, created under t.TempDir().
func WriteTree(t testing.TB, classes []string, trainCounts, testCounts []int, size int) string {
	t.Helper()
	root := t.TempDir()
	WriteSplit(t, root, "train", classes, trainCounts, size)
	WriteSplit(t, root, "test", classes, testCounts, size)
	return root
}

// Repeat returns a slice with n copies of value, handy to build counts.
func Repeat(value, n int) []int {
	s := make([]int, n)
	for ii := range s {
		s[ii] = value
	}
	return s
}
