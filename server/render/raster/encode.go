package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	"github.com/HugoSmits86/nativewebp"
)

type Format string

const (
	FormatWebP Format = "webp"
	FormatPNG  Format = "png"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatWebP:
		return FormatWebP, nil
	case FormatPNG:
		return FormatPNG, nil
	default:
		return "", fmt.Errorf("raster: unsupported format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatPNG {
		return "image/png"
	}
	return "image/webp"
}

func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case FormatPNG:
		if err := png.Encode(w, img); err != nil {
			return fmt.Errorf("raster: encode png: %w", err)
		}
	case FormatWebP, "":
		if err := nativewebp.Encode(w, img, nil); err != nil {
			return fmt.Errorf("raster: encode webp: %w", err)
		}
	default:
		return fmt.Errorf("raster: unsupported format %q", f)
	}
	return nil
}

func EncodeBytes(img image.Image, f Format) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, img, f); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
