package images

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"log/slog"
	"math"
	"strings"

	xdraw "golang.org/x/image/draw"
)

// PayloadSize selects how much of the captured photo is forwarded
type PayloadSize string

const (
	PayloadNormal PayloadSize = "normal"
	PayloadSmall  PayloadSize = "small"
)

const (
	SmallMaxDimension = 480
	SmallJPEGQuality  = 80
)

// ParsePayloadSize accepts "normal" and "small", empty means normal
func ParsePayloadSize(s string) (PayloadSize, error) {
	switch PayloadSize(strings.ToLower(strings.TrimSpace(s))) {
	case "", PayloadNormal:
		return PayloadNormal, nil
	case PayloadSmall:
		return PayloadSmall, nil
	default:
		return "", fmt.Errorf("unknown payload size %q", s)
	}
}

// PrepareCapturedPhoto returns the photo as it should be sent for the given payload size.
// Normal payloads are passed through untouched.
func PrepareCapturedPhoto(photo []byte, size PayloadSize) ([]byte, error) {
	if len(photo) == 0 || size != PayloadSmall {
		return photo, nil
	}
	return ShrinkJPEG(photo, SmallMaxDimension, SmallJPEGQuality)
}

// ShrinkJPEG downscales a JPEG to fit within maxDim×maxDim (keeping aspect ratio).
// Images that already fit are returned unchanged.
func ShrinkJPEG(data []byte, maxDim, quality int) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("no image data provided")
	}

	img, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		slog.Warn("Failed to decode captured photo", "error", err)
		return nil, fmt.Errorf("failed to decode jpeg: %w", err)
	}

	bounds := img.Bounds()
	slog.Debug("Captured photo decoded", "width", bounds.Dx(), "height", bounds.Dy())

	resized := resizeToFit(img, maxDim, maxDim)
	if resized == img {
		return data, nil
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, resized, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}

	slog.Debug("Captured photo shrunk", "original_size", len(data), "new_size", buf.Len(),
		"width", resized.Bounds().Dx(), "height", resized.Bounds().Dy())
	return buf.Bytes(), nil
}

// resizeToFit scales img to fit within maxW×maxH (keeping aspect ratio)
func resizeToFit(src image.Image, maxW, maxH int) image.Image {
	bw := src.Bounds().Dx()
	bh := src.Bounds().Dy()

	if maxW <= 0 && maxH <= 0 {
		return src
	}
	if maxW <= 0 {
		scale := float64(maxH) / float64(bh)
		maxW = int(math.Round(float64(bw) * scale))
	}
	if maxH <= 0 {
		scale := float64(maxW) / float64(bw)
		maxH = int(math.Round(float64(bh) * scale))
	}

	scale := math.Min(float64(maxW)/float64(bw), float64(maxH)/float64(bh))
	if scale >= 1.0 {
		return src // already small enough
	}
	w := int(math.Max(1, math.Round(float64(bw)*scale)))
	h := int(math.Max(1, math.Round(float64(bh)*scale)))

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// CatmullRom = high quality, good for photos/faces
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Over, nil)
	return dst
}
