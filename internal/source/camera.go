package source

import (
	"image"
	"log/slog"
	"runtime"

	"github.com/pkg/errors"
)

// DefaultCameraResolution is used when a camera descriptor has no resolution.
var DefaultCameraResolution = Resolution{Width: 640, Height: 480}

// CameraSource captures from a live device through ffmpeg. Reads block until
// the driver delivers the next frame.
type CameraSource struct {
	desc   Descriptor
	res    Resolution
	retry  RetryPolicy
	logger *slog.Logger
	goos   string
	start  func(d Descriptor, res Resolution) (rawStream, error)

	stream rawStream
	// primed holds the frame read by Open to prove the device works.
	primed *image.RGBA
}

func newCameraSource(d Descriptor, opts Options) *CameraSource {
	res := d.Resolution
	if res.IsZero() {
		res = DefaultCameraResolution
	}
	s := &CameraSource{
		desc:   d,
		res:    res,
		retry:  opts.Retry,
		logger: opts.Logger,
		goos:   runtime.GOOS,
	}
	s.start = func(d Descriptor, res Resolution) (rawStream, error) {
		input, err := cameraInput(s.goos, d, res)
		if err != nil {
			return nil, err
		}
		return startFFmpeg(opts.FFmpegPath, d.String(), input, res.Width, res.Height, scaleFilter(res.Width, res.Height), opts.Logger)
	}
	return s
}

func (s *CameraSource) Open() error {
	if s.IsOpened() {
		return nil
	}
	if err := s.acquire(); err != nil {
		return &OpenError{Kind: KindCamera, Target: s.desc.Target(), Err: err}
	}
	s.logger.Info("camera opened", "device", s.desc.Target(), "resolution", s.res.String())
	return nil
}

// acquire starts the capture process and waits for the first frame, so a
// busy or missing device fails here rather than on the first read.
func (s *CameraSource) acquire() error {
	stream, err := s.start(s.desc, s.res)
	if err != nil {
		return err
	}
	frame, err := stream.Next()
	if err != nil {
		stream.Close()
		return errors.Wrap(err, "no frame from device")
	}
	s.stream = stream
	s.primed = frame
	return nil
}

func (s *CameraSource) ReadFrame() (*image.RGBA, error) {
	if !s.IsOpened() {
		return nil, ErrNotOpened
	}
	if s.primed != nil {
		frame := s.primed
		s.primed = nil
		return frame, nil
	}

	frame, err := s.stream.Next()
	if err == nil {
		return frame, nil
	}

	lastErr := err
	for attempt := 1; attempt <= s.retry.Attempts; attempt++ {
		s.logger.Warn("camera read failed, reopening",
			"device", s.desc.Target(),
			"attempt", attempt,
			"max_attempts", s.retry.Attempts,
			"error", lastErr,
		)
		s.close()
		s.retry.wait()
		if err := s.acquire(); err != nil {
			lastErr = err
			continue
		}
		frame := s.primed
		s.primed = nil
		return frame, nil
	}
	s.close()
	return nil, &ReadError{Kind: KindCamera, Target: s.desc.Target(), Attempts: s.retry.Attempts, Err: lastErr}
}

// SetResolution restarts capture at the new size when the camera is open.
func (s *CameraSource) SetResolution(width, height int) error {
	if width <= 0 || height <= 0 {
		return errors.Errorf("invalid resolution %dx%d", width, height)
	}
	s.res = Resolution{Width: width, Height: height}
	if !s.IsOpened() {
		return nil
	}
	s.close()
	if err := s.acquire(); err != nil {
		return &OpenError{Kind: KindCamera, Target: s.desc.Target(), Err: err}
	}
	s.logger.Info("camera resolution changed", "device", s.desc.Target(), "resolution", s.res.String())
	return nil
}

// Resolution reports the current capture size.
func (s *CameraSource) Resolution() Resolution {
	return s.res
}

func (s *CameraSource) String() string {
	return s.desc.String()
}

func (s *CameraSource) IsOpened() bool {
	return s.stream != nil
}

func (s *CameraSource) Release() {
	if s.stream == nil {
		return
	}
	s.close()
	s.logger.Info("camera released", "device", s.desc.Target())
}

func (s *CameraSource) close() {
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.primed = nil
}
