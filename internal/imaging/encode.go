package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/anthonynsimon/bild/imgio"
	"github.com/disintegration/imaging"
)

// DefaultQuality is the JPEG quality used for tiles when none is set.
const DefaultQuality = 85

// PreviewResult contains an encoded preview image.
type PreviewResult struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

func clampQuality(q int) int {
	if q <= 0 {
		return DefaultQuality
	}
	if q > 100 {
		return 100
	}
	return q
}

// WriteJPEG encodes img as JPEG at path.
//
// The image is written to a temporary file in the same directory and then
// renamed into place, so a reader never sees a truncated tile.
func WriteJPEG(path string, img image.Image, quality int) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tile-*.jpg")
	if err != nil {
		return fmt.Errorf("failed to create tile file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := imgio.JPEGEncoder(clampQuality(quality))(tmp, img); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move tile into place: %w", err)
	}
	return nil
}

// EncodePreview encodes img as a base64 JPEG, optionally scaled so its
// longest side is at most maxSide pixels. A maxSide of zero keeps the size.
func EncodePreview(img image.Image, maxSide, quality int) (*PreviewResult, error) {
	b := img.Bounds()
	if maxSide > 0 && (b.Dx() > maxSide || b.Dy() > maxSide) {
		if b.Dx() >= b.Dy() {
			img = imaging.Resize(img, maxSide, 0, imaging.Lanczos)
		} else {
			img = imaging.Resize(img, 0, maxSide, imaging.Lanczos)
		}
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(clampQuality(quality))); err != nil {
		return nil, fmt.Errorf("failed to encode preview: %w", err)
	}

	return &PreviewResult{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/jpeg",
	}, nil
}
