package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// ImageQuality holds the quality metrics computed for an uploaded reference
// image. Brightness is mean luma in [0,1]; Sharpness is the mean absolute
// horizontal luma gradient in [0,1], where low values suggest blur.
type ImageQuality struct {
	Width      int
	Height     int
	Format     string
	Brightness float64
	Sharpness  float64
}

// AnalyzeImage decodes an image (jpeg, png, gif or webp) and computes its
// quality metrics. The metrics ride along as tie-breakers; they never gate
// matching.
func AnalyzeImage(data []byte) (*ImageQuality, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image")
	}

	// Sample on a coarse grid; exact per-pixel stats are not worth the cost
	// for a tie-breaker metric.
	stepX, stepY := w/64, h/64
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	var lumaSum, gradSum float64
	var lumaCount, gradCount int
	for y := bounds.Min.Y; y < bounds.Max.Y; y += stepY {
		var prev float64
		first := true
		for x := bounds.Min.X; x < bounds.Max.X; x += stepX {
			l := luma(img.At(x, y).RGBA())
			lumaSum += l
			lumaCount++
			if !first {
				diff := l - prev
				if diff < 0 {
					diff = -diff
				}
				gradSum += diff
				gradCount++
			}
			prev = l
			first = false
		}
	}

	q := &ImageQuality{
		Width:      w,
		Height:     h,
		Format:     format,
		Brightness: lumaSum / float64(lumaCount),
	}
	if gradCount > 0 {
		q.Sharpness = gradSum / float64(gradCount)
	}
	return q, nil
}

// luma converts premultiplied 16-bit RGBA to Rec. 601 luma in [0,1].
func luma(r, g, b, _ uint32) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 65535.0
}
