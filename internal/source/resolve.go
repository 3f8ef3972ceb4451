package source

import (
	"log/slog"

	"github.com/pkg/errors"

	"webcam-ip-server/internal/util"
)

// Options tune how backends are built.
type Options struct {
	Logger *slog.Logger
	Retry  RetryPolicy
	// Watch makes a static image reload when its file changes.
	Watch       bool
	FFmpegPath  string
	FFprobePath string
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = util.GetLogger()
	}
	if o.Retry == (RetryPolicy{}) {
		o.Retry = DefaultRetryPolicy()
	}
	if o.FFmpegPath == "" {
		o.FFmpegPath = "ffmpeg"
	}
	if o.FFprobePath == "" {
		o.FFprobePath = "ffprobe"
	}
	return o
}

// New builds the backend for d. The returned source is not opened yet.
func New(d Descriptor, opts Options) (FrameSource, error) {
	opts = opts.withDefaults()
	switch d.Kind {
	case KindCamera:
		if d.Device < 0 {
			return nil, errors.Errorf("invalid camera index %d", d.Device)
		}
		return newCameraSource(d, opts), nil
	case KindVideoFile:
		if d.Path == "" {
			return nil, errors.New("video source requires a file path")
		}
		return newVideoFileSource(d.Path, opts), nil
	case KindStaticImage:
		if d.Path == "" {
			return nil, errors.New("image source requires a file path")
		}
		return newImageSource(d, opts), nil
	}
	return nil, errors.Wrapf(ErrUnknownSourceType, "kind %d", int(d.Kind))
}
