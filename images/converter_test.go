package images

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeJPEG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func decodeConfig(t *testing.T, data []byte) image.Config {
	t.Helper()
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	return cfg
}

func TestShrinkJPEG_Downscales(t *testing.T) {
	original := makeJPEG(t, 1000, 500)

	shrunk, err := ShrinkJPEG(original, 480, 80)
	require.NoError(t, err)

	cfg := decodeConfig(t, shrunk)
	require.Equal(t, 480, cfg.Width)
	require.Equal(t, 240, cfg.Height)
}

func TestShrinkJPEG_SmallImageUntouched(t *testing.T) {
	original := makeJPEG(t, 120, 160)

	got, err := ShrinkJPEG(original, 480, 80)
	require.NoError(t, err)
	require.Equal(t, original, got)
}

func TestShrinkJPEG_InvalidData(t *testing.T) {
	_, err := ShrinkJPEG([]byte("not a jpeg"), 480, 80)
	require.Error(t, err)

	_, err = ShrinkJPEG(nil, 480, 80)
	require.Error(t, err)
}

func TestPrepareCapturedPhoto(t *testing.T) {
	original := makeJPEG(t, 960, 1280)

	normal, err := PrepareCapturedPhoto(original, PayloadNormal)
	require.NoError(t, err)
	require.Equal(t, original, normal)

	small, err := PrepareCapturedPhoto(original, PayloadSmall)
	require.NoError(t, err)
	cfg := decodeConfig(t, small)
	require.Equal(t, 360, cfg.Width)
	require.Equal(t, 480, cfg.Height)

	empty, err := PrepareCapturedPhoto(nil, PayloadSmall)
	require.NoError(t, err)
	require.Nil(t, empty)
}

func TestParsePayloadSize(t *testing.T) {
	tests := []struct {
		in      string
		want    PayloadSize
		wantErr bool
	}{
		{"", PayloadNormal, false},
		{"normal", PayloadNormal, false},
		{"Small", PayloadSmall, false},
		{" small ", PayloadSmall, false},
		{"huge", "", true},
	}

	for _, tt := range tests {
		got, err := ParsePayloadSize(tt.in)
		if tt.wantErr {
			require.Error(t, err)
			continue
		}
		require.NoError(t, err)
		require.Equal(t, tt.want, got)
	}
}
