package server

import (
	"image"
	"image/color"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"webcam-ip-server/internal/encoder"
	"webcam-ip-server/internal/pump"
	"webcam-ip-server/internal/source"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Interval:        10 * time.Millisecond,
		SourceName:      "fake",
		ShutdownTimeout: time.Second,
		Logger:          testLogger(),
	}
}

// fakeSource cycles through a fixed number of solid frames and records
// overlapping reads instead of panicking, since a panic inside a handler
// would be swallowed by gin's recovery.
type fakeSource struct {
	width, height int
	// frames is the number of distinct frames before the sequence repeats.
	frames    int
	readDelay time.Duration
	failAfter int64
	openErr   error

	mu       sync.Mutex
	opened   bool
	releases int
	next     int

	inFlight atomic.Int32
	overlaps atomic.Int32
	reads    atomic.Int64
}

func newFakeSource(frames int) *fakeSource {
	return &fakeSource{width: 32, height: 24, frames: frames}
}

func (f *fakeSource) Open() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return &source.OpenError{Kind: source.KindCamera, Target: "fake", Err: f.openErr}
	}
	f.opened = true
	return nil
}

func (f *fakeSource) ReadFrame() (*image.RGBA, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlaps.Add(1)
	}
	defer f.inFlight.Add(-1)

	n := f.reads.Add(1)
	if f.readDelay > 0 {
		time.Sleep(f.readDelay)
	}
	if !f.IsOpened() {
		return nil, source.ErrNotOpened
	}
	if f.failAfter > 0 && n > f.failAfter {
		return nil, &source.ReadError{Kind: source.KindCamera, Target: "fake", Attempts: 3, Err: errors.New("device unplugged")}
	}

	f.mu.Lock()
	idx := f.next % f.frames
	f.next++
	f.mu.Unlock()
	return solidFrame(f.width, f.height, idx), nil
}

func (f *fakeSource) SetResolution(width, height int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.width, f.height = width, height
	return nil
}

func (f *fakeSource) IsOpened() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opened
}

func (f *fakeSource) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.opened {
		f.releases++
	}
	f.opened = false
}

func (f *fakeSource) String() string { return "camera:fake" }

// pacedSource behaves like a looping video file: reads block until 1/fps
// has passed since the previous frame.
type pacedSource struct {
	*fakeSource
	fps  float64
	last time.Time
}

func newPacedSource(frames int, fps float64) *pacedSource {
	return &pacedSource{fakeSource: newFakeSource(frames), fps: fps}
}

func (p *pacedSource) ReadFrame() (*image.RGBA, error) {
	delay := time.Duration(float64(time.Second) / p.fps)
	if !p.last.IsZero() {
		if elapsed := time.Since(p.last); elapsed < delay {
			time.Sleep(delay - elapsed)
		}
	}
	frame, err := p.fakeSource.ReadFrame()
	p.last = time.Now()
	return frame, err
}

func (p *pacedSource) FPS() float64 { return p.fps }

func solidFrame(w, h, idx int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	c := color.RGBA{R: uint8(idx * 40), G: uint8(255 - idx*40), B: uint8(idx * 13), A: 255}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// openGuard opens src and wraps it the way the controller does.
func openGuard(t *testing.T, src source.FrameSource) *pump.GuardedSource {
	t.Helper()
	guard := pump.NewGuardedSource(src)
	require.NoError(t, guard.Open())
	return guard
}

func startHTTP(t *testing.T, src source.FrameSource) (*HTTPServer, *pump.GuardedSource, string) {
	t.Helper()
	guard := openGuard(t, src)
	srv := NewHTTPServer(guard, encoder.NewJPEG(80), testOptions())
	require.NoError(t, srv.Start("127.0.0.1", 0))
	t.Cleanup(srv.Stop)
	return srv, guard, "http://" + srv.Addr().String()
}

func startWS(t *testing.T, src source.FrameSource) (*WSServer, *pump.GuardedSource, string) {
	t.Helper()
	guard := openGuard(t, src)
	srv := NewWSServer(guard, encoder.NewJPEG(80), testOptions())
	require.NoError(t, srv.Start("127.0.0.1", 0))
	t.Cleanup(srv.Stop)
	return srv, guard, "ws://" + srv.Addr().String() + "/"
}
