package generation

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// Synthetic produces deterministic placeholder variants. It keeps the whole
// pipeline operational in local and CI environments where no provider API key
// is configured, the same way the api falls back when credentials are absent.
type Synthetic struct{}

// NewSynthetic returns the placeholder provider.
func NewSynthetic() *Synthetic {
	return &Synthetic{}
}

// Generate renders a small deterministic PNG derived from the request.
func (s *Synthetic) Generate(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, &TransientError{Err: err}
	}

	seed := sha256.Sum256([]byte(fmt.Sprintf("%s|%d|%s|%s", req.JobID, req.Ordinal, req.Instruction, req.Tier.Model)))
	width, height := dimensionsForAspect(req.AspectRatio)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	fill := color.RGBA{R: seed[0], G: seed[1], B: seed[2], A: 255}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fill}, image.Point{}, draw.Src)
	// A band keyed off the ordinal keeps variants visually distinct.
	band := image.Rect(0, (req.Ordinal-1)*height/8%height, width, ((req.Ordinal-1)*height/8%height)+height/16+1)
	draw.Draw(img, band, &image.Uniform{C: color.RGBA{R: seed[3], G: seed[4], B: seed[5], A: 255}}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Result{}, &FatalError{Err: err}
	}
	return Result{
		Data:        buf.Bytes(),
		Format:      "image/png",
		Description: fmt.Sprintf("synthetic variant %d/%d", req.Ordinal, req.UnitCount),
	}, nil
}

func dimensionsForAspect(ratio string) (int, int) {
	switch ratio {
	case "1:1":
		return 256, 256
	case "3:4":
		return 192, 256
	case "9:16":
		return 144, 256
	case "16:9":
		return 256, 144
	case "3:2":
		return 256, 171
	case "2:3":
		return 171, 256
	case "21:9":
		return 336, 144
	case "9:21":
		return 144, 336
	case "4:5":
		return 205, 256
	default: // "4:3" and "original"
		return 256, 192
	}
}

var _ Generator = (*Synthetic)(nil)
