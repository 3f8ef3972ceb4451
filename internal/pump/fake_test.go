package pump

import (
	"image"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"webcam-ip-server/internal/source"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// strictSource fails the test run if two reads ever overlap.
type strictSource struct {
	inFlight atomic.Bool
	overlaps atomic.Int64
	reads    atomic.Int64
	readTime time.Duration

	mu       sync.Mutex
	opened   bool
	failFrom int64 // 0 disables
}

func (s *strictSource) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = true
	return nil
}

func (s *strictSource) ReadFrame() (*image.RGBA, error) {
	if !s.inFlight.CompareAndSwap(false, true) {
		s.overlaps.Add(1)
		panic("reentrant ReadFrame")
	}
	defer s.inFlight.Store(false)

	n := s.reads.Add(1)
	if s.readTime > 0 {
		time.Sleep(s.readTime)
	}
	if s.failFrom > 0 && n >= s.failFrom {
		return nil, &source.ReadError{Kind: source.KindCamera, Target: "#0", Attempts: 3, Err: errors.New("unplugged")}
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Pix[0] = uint8(n)
	return img, nil
}

func (s *strictSource) SetResolution(w, h int) error { return nil }

func (s *strictSource) IsOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *strictSource) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = false
}

// pacedSource looks like a video file to the pump.
type pacedSource struct {
	strictSource
}

func (s *pacedSource) FPS() float64 { return 1000 }

// flakyEncoder fails every other frame.
type flakyEncoder struct {
	calls atomic.Int64
}

func (e *flakyEncoder) Encode(img image.Image) ([]byte, error) {
	if e.calls.Add(1)%2 == 0 {
		return nil, errors.New("bad frame")
	}
	return []byte{img.(*image.RGBA).Pix[0]}, nil
}

type byteEncoder struct{}

func (byteEncoder) Encode(img image.Image) ([]byte, error) {
	return []byte{img.(*image.RGBA).Pix[0]}, nil
}
