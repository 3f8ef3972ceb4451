package source

import (
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
)

var errDecoderFault = errors.New("decoder fault")

// fakeStream yields `frames` 2x2 frames whose first byte is the frame index.
type fakeStream struct {
	frames int
	pos    int
	// failAt makes Next fail once pos reaches it; -1 disables.
	failAt int
	closed bool
}

func (f *fakeStream) Next() (*image.RGBA, error) {
	if f.closed {
		return nil, errors.New("stream closed")
	}
	if f.failAt >= 0 && f.pos >= f.failAt {
		return nil, errDecoderFault
	}
	if f.pos >= f.frames {
		return nil, io.EOF
	}
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Pix[0] = uint8(f.pos)
	f.pos++
	return img, nil
}

func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

// fakeBackend hands out fakeStreams and records how it was used.
type fakeBackend struct {
	mu sync.Mutex

	frames int
	// failStarts makes the next N starts fail outright.
	failStarts int
	// faultyStreams makes the next N streams fault on their first read.
	faultyStreams int

	starts  int
	streams []*fakeStream
	sizes   []Resolution
}

func (b *fakeBackend) start() (rawStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.starts++
	if b.failStarts > 0 {
		b.failStarts--
		return nil, errors.New("device busy")
	}
	s := &fakeStream{frames: b.frames, failAt: -1}
	if b.faultyStreams > 0 {
		b.faultyStreams--
		s.failAt = 0
	}
	b.streams = append(b.streams, s)
	return s, nil
}

func (b *fakeBackend) current() *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[len(b.streams)-1]
}

func testOptions() Options {
	return Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Retry:  RetryPolicy{Attempts: 3, Backoff: time.Millisecond},
	}.withDefaults()
}

func newFakeVideo(t *testing.T, frames int, fps float64) (*VideoFileSource, *fakeBackend) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("not really a video"), 0o644); err != nil {
		t.Fatal(err)
	}
	backend := &fakeBackend{frames: frames}
	s := newVideoFileSource(path, testOptions())
	s.probe = func(string) (VideoInfo, error) {
		return VideoInfo{Width: 2, Height: 2, FPS: fps, Frames: frames}, nil
	}
	s.start = func(string, VideoInfo) (rawStream, error) {
		return backend.start()
	}
	return s, backend
}

func newFakeCamera(frames int) (*CameraSource, *fakeBackend) {
	backend := &fakeBackend{frames: frames}
	s := newCameraSource(Camera(0), testOptions())
	s.start = func(d Descriptor, res Resolution) (rawStream, error) {
		backend.mu.Lock()
		backend.sizes = append(backend.sizes, res)
		backend.mu.Unlock()
		return backend.start()
	}
	return s, backend
}
