// Package encoder turns raw frames into JPEG bytes.
package encoder

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"github.com/pkg/errors"
)

// DefaultQuality matches the quality most capture tools use by default.
const DefaultQuality = 95

// EncodeError reports a frame that could not be compressed. It is never fatal
// to a stream; the frame is skipped.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("encode frame: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// JPEG is a fixed quality JPEG encoder. It holds no per-frame state and is
// safe for concurrent use.
type JPEG struct {
	quality int
}

// NewJPEG returns an encoder at the given quality, clamped to 1..100. Zero
// selects DefaultQuality.
func NewJPEG(quality int) *JPEG {
	switch {
	case quality == 0:
		quality = DefaultQuality
	case quality < 1:
		quality = 1
	case quality > 100:
		quality = 100
	}
	return &JPEG{quality: quality}
}

func (e *JPEG) Quality() int {
	return e.quality
}

// Encode returns a freshly allocated JPEG buffer.
func (e *JPEG) Encode(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, &EncodeError{Err: errors.New("nil frame")}
	}
	if b := img.Bounds(); b.Empty() {
		return nil, &EncodeError{Err: errors.Errorf("empty frame %v", b)}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality}); err != nil {
		return nil, &EncodeError{Err: err}
	}
	return buf.Bytes(), nil
}
