// Package source produces raw RGBA frames from a camera, a looping video file
// or a static image behind one FrameSource contract.
package source

import (
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// FrameSource is the capability every backend implements. A FrameSource is
// not safe for concurrent use; callers serialize ReadFrame (see pump.GuardedSource).
type FrameSource interface {
	// Open acquires the backend handle. On failure the source stays closed.
	Open() error
	// ReadFrame returns the next frame. The returned image is owned by the caller.
	ReadFrame() (*image.RGBA, error)
	// SetResolution changes the output size where the backend supports it.
	SetResolution(width, height int) error
	IsOpened() bool
	// Release frees the backend handle. Safe to call repeatedly or before Open.
	Release()
}

// SelfPaced is implemented by sources that block inside ReadFrame to match
// their own frame rate. Consumers must not add their own delay for them.
type SelfPaced interface {
	FPS() float64
}

// Kind tags the backend of a Descriptor.
type Kind int

const (
	KindCamera Kind = iota
	KindVideoFile
	KindStaticImage
)

func (k Kind) String() string {
	switch k {
	case KindCamera:
		return "camera"
	case KindVideoFile:
		return "video"
	case KindStaticImage:
		return "image"
	default:
		return "unknown"
	}
}

// ParseKind accepts the names used by the config file and CLI.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "camera", "webcam":
		return KindCamera, nil
	case "video", "file", "videofile":
		return KindVideoFile, nil
	case "image", "staticimage", "picture":
		return KindStaticImage, nil
	}
	return 0, errors.Wrapf(ErrUnknownSourceType, "%q", s)
}

// Resolution is a width x height pair. The zero value means "native".
type Resolution struct {
	Width  int
	Height int
}

func (r Resolution) IsZero() bool {
	return r.Width == 0 && r.Height == 0
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// ParseResolution parses strings like "640x480". An empty string yields the
// zero Resolution.
func ParseResolution(s string) (Resolution, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return Resolution{}, nil
	}
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return Resolution{}, errors.Errorf("invalid resolution %q, want WIDTHxHEIGHT", s)
	}
	width, err := strconv.Atoi(w)
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "invalid resolution width %q", w)
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return Resolution{}, errors.Wrapf(err, "invalid resolution height %q", h)
	}
	if width <= 0 || height <= 0 {
		return Resolution{}, errors.Errorf("invalid resolution %q, dimensions must be positive", s)
	}
	return Resolution{Width: width, Height: height}, nil
}

// Descriptor identifies a source. It is immutable once a session starts.
type Descriptor struct {
	Kind Kind
	// Device is the camera index.
	Device int
	// DeviceName overrides the platform default ffmpeg input for the camera,
	// e.g. "/dev/video2" or "video=Integrated Camera".
	DeviceName string
	// Path is the video or image file.
	Path string
	// Resolution is the camera capture size, or the load-time resize of a
	// static image. Video files keep their native size.
	Resolution Resolution
}

func Camera(index int) Descriptor {
	return Descriptor{Kind: KindCamera, Device: index}
}

func VideoFile(path string) Descriptor {
	return Descriptor{Kind: KindVideoFile, Path: path}
}

func StaticImage(path string) Descriptor {
	return Descriptor{Kind: KindStaticImage, Path: path}
}

// Target is a human readable name of what the descriptor points at.
func (d Descriptor) Target() string {
	if d.Kind == KindCamera {
		if d.DeviceName != "" {
			return d.DeviceName
		}
		return fmt.Sprintf("#%d", d.Device)
	}
	return d.Path
}

func (d Descriptor) String() string {
	return d.Kind.String() + ":" + d.Target()
}
