// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package dataset

import (
	"image"
	"image/color"
	"math"
	"math/rand"

	"github.com/disintegration/imaging"
	"github.com/gomlx/emotions/pkg/config"
)

// fillColor of the corners uncovered by rotations. Zoom and shifts repeat the nearest edge pixel instead.
var fillColor = color.RGBA{R: 0, G: 0, B: 0, A: 255}

// Augmenter applies random transformations to square images: rotation, zoom, shifts and horizontal flips.
//
// It is not safe for concurrent use, since it owns its random number generator.
type Augmenter struct {
	config.Augmentation
	rng *rand.Rand
}

// NewAugmenter creates an Augmenter with the given ranges, seeded with seed.
func NewAugmenter(aug config.Augmentation, seed int64) *Augmenter {
	return &Augmenter{Augmentation: aug, rng: rand.New(rand.NewSource(seed))}
}

// uniform returns a value sampled uniformly from [-r, r].
func (a *Augmenter) uniform(r float64) float64 {
	return (2*a.rng.Float64() - 1) * r
}

// Apply returns a randomly transformed copy of img. The output has the same size as the input.
func (a *Augmenter) Apply(img image.Image) image.Image {
	size := img.Bounds().Size()
	width, height := size.X, size.Y

	if a.RotationRange > 0 {
		angle := a.uniform(a.RotationRange)
		// imaging.Rotate grows the canvas to fit the rotated image, so we crop back to the original size.
		img = imaging.Rotate(img, angle, fillColor)
		img = imaging.CropCenter(img, width, height)
	}

	if a.ZoomRange > 0 {
		zoom := 1 + a.uniform(a.ZoomRange)
		zoomedWidth := max(1, int(math.Round(float64(width)*zoom)))
		zoomedHeight := max(1, int(math.Round(float64(height)*zoom)))
		img = imaging.Resize(img, zoomedWidth, zoomedHeight, imaging.Linear)
		if zoomedWidth >= width {
			img = imaging.CropCenter(img, width, height)
		} else {
			img = placeNearest(img, width, height, image.Pt((width-zoomedWidth)/2, (height-zoomedHeight)/2))
		}
	}

	if a.WidthShiftRange > 0 || a.HeightShiftRange > 0 {
		dx := int(math.Round(a.uniform(a.WidthShiftRange) * float64(width)))
		dy := int(math.Round(a.uniform(a.HeightShiftRange) * float64(height)))
		if dx != 0 || dy != 0 {
			img = placeNearest(img, width, height, image.Pt(dx, dy))
		}
	}

	if a.HorizontalFlip && a.rng.Intn(2) == 1 {
		img = imaging.FlipH(img)
	}
	return img
}

// placeNearest returns a width x height image with img drawn at offset. Pixels outside img take the value of
// the nearest edge pixel of img.
func placeNearest(img image.Image, width, height int, offset image.Point) *image.NRGBA {
	src := imaging.Clone(img)
	srcSize := src.Bounds().Size()
	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := range height {
		sy := min(max(y-offset.Y, 0), srcSize.Y-1)
		for x := range width {
			sx := min(max(x-offset.X, 0), srcSize.X-1)
			srcIdx := sy*src.Stride + sx*4
			dstIdx := y*dst.Stride + x*4
			copy(dst.Pix[dstIdx:dstIdx+4], src.Pix[srcIdx:srcIdx+4])
		}
	}
	return dst
}
