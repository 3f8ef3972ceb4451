package source

import (
	"image"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/pkg/errors"
)

// DefaultVideoFPS is used when the container does not report a frame rate.
const DefaultVideoFPS = 30.0

// VideoFileSource decodes a file through ffmpeg, paces reads at the file's
// native frame rate and rewinds to the first frame at end of stream.
type VideoFileSource struct {
	path   string
	retry  RetryPolicy
	logger *slog.Logger
	probe  func(path string) (VideoInfo, error)
	start  func(path string, info VideoInfo) (rawStream, error)

	info       VideoInfo
	stream     rawStream
	opened     bool
	frameDelay time.Duration
	lastFrame  time.Time
	loops      int
}

func newVideoFileSource(path string, opts Options) *VideoFileSource {
	return &VideoFileSource{
		path:   path,
		retry:  opts.Retry,
		logger: opts.Logger,
		probe: func(path string) (VideoInfo, error) {
			return probeVideo(opts.FFprobePath, path)
		},
		start: func(path string, info VideoInfo) (rawStream, error) {
			return startFFmpeg(opts.FFmpegPath, "video:"+path, videoInput(path), info.Width, info.Height, scaleFilter(info.Width, info.Height), opts.Logger)
		},
	}
}

func (s *VideoFileSource) Open() error {
	if s.opened {
		return nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return &OpenError{Kind: KindVideoFile, Target: s.path, Err: err}
	}

	info, err := s.probe(s.path)
	if err != nil {
		return &OpenError{Kind: KindVideoFile, Target: s.path, Err: err}
	}
	if info.FPS <= 0 {
		info.FPS = DefaultVideoFPS
	}

	stream, err := s.start(s.path, info)
	if err != nil {
		return &OpenError{Kind: KindVideoFile, Target: s.path, Err: err}
	}

	s.info = info
	s.stream = stream
	s.opened = true
	s.frameDelay = time.Duration(float64(time.Second) / info.FPS)
	s.lastFrame = time.Time{}
	s.loops = 0

	s.logger.Info("video file opened",
		"path", s.path,
		"size", Resolution{Width: info.Width, Height: info.Height}.String(),
		"fps", info.FPS,
		"frames", info.Frames,
	)
	return nil
}

// ReadFrame blocks until 1/fps has elapsed since the previous frame, then
// returns the next one. End of stream rewinds and yields the first frame.
func (s *VideoFileSource) ReadFrame() (*image.RGBA, error) {
	if !s.opened {
		return nil, ErrNotOpened
	}

	if !s.lastFrame.IsZero() {
		if elapsed := time.Since(s.lastFrame); elapsed < s.frameDelay {
			time.Sleep(s.frameDelay - elapsed)
		}
	}

	frame, err := s.next()
	s.lastFrame = time.Now()
	return frame, err
}

func (s *VideoFileSource) next() (*image.RGBA, error) {
	var lastErr error
	rewound := false

	for attempt := 0; attempt <= s.retry.Attempts; attempt++ {
		if attempt > 0 {
			s.logger.Warn("video decode failed, reopening",
				"path", s.path,
				"attempt", attempt,
				"max_attempts", s.retry.Attempts,
				"error", lastErr,
			)
			s.retry.wait()
		}
		if s.stream == nil || attempt > 0 {
			if err := s.restart(); err != nil {
				lastErr = err
				continue
			}
		}

		frame, err := s.stream.Next()
		if err == nil {
			return frame, nil
		}
		if errors.Is(err, io.EOF) && !rewound {
			// Looping: start over from frame zero.
			rewound = true
			s.loops++
			s.logger.Debug("video reached end of stream, rewinding", "path", s.path, "loops", s.loops)
			if err := s.restart(); err != nil {
				lastErr = err
				continue
			}
			if frame, err = s.stream.Next(); err == nil {
				return frame, nil
			}
		}
		if errors.Is(err, io.EOF) {
			err = errors.New("video has no decodable frames")
		}
		lastErr = err
	}

	return nil, &ReadError{Kind: KindVideoFile, Target: s.path, Attempts: s.retry.Attempts, Err: lastErr}
}

func (s *VideoFileSource) restart() error {
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	stream, err := s.start(s.path, s.info)
	if err != nil {
		return err
	}
	s.stream = stream
	return nil
}

// SetResolution is a no-op: video files keep their authored size.
func (s *VideoFileSource) SetResolution(width, height int) error {
	return nil
}

// FPS reports the frame rate reads are paced at.
func (s *VideoFileSource) FPS() float64 {
	return s.info.FPS
}

// Info returns the probed stream properties. Valid after Open.
func (s *VideoFileSource) Info() VideoInfo {
	return s.info
}

// Loops counts how many times playback wrapped around.
func (s *VideoFileSource) Loops() int {
	return s.loops
}

func (s *VideoFileSource) String() string {
	return KindVideoFile.String() + ":" + s.path
}

func (s *VideoFileSource) IsOpened() bool {
	return s.opened
}

func (s *VideoFileSource) Release() {
	if !s.opened {
		return
	}
	if s.stream != nil {
		s.stream.Close()
		s.stream = nil
	}
	s.opened = false
	s.logger.Info("video file released", "path", s.path)
}
