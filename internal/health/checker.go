// Package health validates the output of the most recent recording session.
// Its frozen-frame probe compares the first and last decoded frame of a
// video: a camera stuck on black or a frozen capture produces two visually
// identical frames, which a real take practically never does.
package health

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FrozenThreshold is the normalized mean-squared-error below which two
// frames count as identical.
const FrozenThreshold = 1e-6

// FrameExtractor decodes exactly two frames from a video file: one at 0.0s
// and one 0.1s before the end. Whole-file decoding is never required.
type FrameExtractor interface {
	FirstLastFrames(path string) (first, last image.Image, err error)
}

// videoExtensions lists the container formats the probe inspects.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".mov": true,
	".flv": true,
	".ts":  true,
	".avi": true,
}

// IsVideoFile reports whether path looks like a recorded video by extension.
func IsVideoFile(path string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(path))]
}

// Checker runs the frozen-frame probe over session folders.
type Checker struct {
	extractor FrameExtractor
	threshold float64
	log       zerolog.Logger
}

// NewChecker builds a checker around the given extractor.
func NewChecker(extractor FrameExtractor, log zerolog.Logger) *Checker {
	return &Checker{extractor: extractor, threshold: FrozenThreshold, log: log}
}

// FrozenFrame reports whether the video's first and last frames are visually
// identical within the threshold.
func (c *Checker) FrozenFrame(path string) (bool, error) {
	first, last, err := c.extractor.FirstLastFrames(path)
	if err != nil {
		return false, fmt.Errorf("extract frames from %s: %w", filepath.Base(path), err)
	}

	mse, comparable := normalizedMSE(first, last)
	if !comparable {
		// Different dimensions cannot be a frozen capture.
		return false, nil
	}
	c.log.Debug().Str("file", filepath.Base(path)).Float64("mse", mse).Msg("frame comparison")
	return mse <= c.threshold, nil
}

// normalizedMSE computes the per-channel mean squared error between two
// images, with channel values normalized to [0,1]. The second return value
// is false when the images cannot be compared pixel by pixel.
func normalizedMSE(a, b image.Image) (float64, bool) {
	ab, bb := a.Bounds(), b.Bounds()
	if ab.Dx() != bb.Dx() || ab.Dy() != bb.Dy() {
		return 0, false
	}
	if ab.Dx() == 0 || ab.Dy() == 0 {
		return 0, false
	}

	var sum float64
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			ar, ag, abl, _ := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			br, bg, bbl, _ := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			dr := (float64(ar) - float64(br)) / 65535.0
			dg := (float64(ag) - float64(bg)) / 65535.0
			db := (float64(abl) - float64(bbl)) / 65535.0
			sum += dr*dr + dg*dg + db*db
		}
	}
	n := float64(ab.Dx()*ab.Dy()) * 3
	return sum / n, true
}
