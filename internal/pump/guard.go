// Package pump drives a FrameSource at a steady cadence and turns its raw
// frames into encoded JPEG buffers.
package pump

import (
	"image"
	"sync"
	"sync/atomic"

	"webcam-ip-server/internal/source"
)

// GuardedSource serializes every call into a FrameSource. It is the only
// handle server code gets; the raw source is never shared.
type GuardedSource struct {
	mu    sync.Mutex
	src   source.FrameSource
	reads atomic.Int64
}

func NewGuardedSource(src source.FrameSource) *GuardedSource {
	return &GuardedSource{src: src}
}

func (g *GuardedSource) Open() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.src.Open()
}

// ReadFrame holds the lock for the whole read, including any pacing sleep
// or reopen backoff inside the backend.
func (g *GuardedSource) ReadFrame() (*image.RGBA, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reads.Add(1)
	return g.src.ReadFrame()
}

func (g *GuardedSource) SetResolution(width, height int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.src.SetResolution(width, height)
}

func (g *GuardedSource) IsOpened() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.src.IsOpened()
}

// Release waits for an in-flight read to finish before freeing the backend.
func (g *GuardedSource) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.src.Release()
}

// SelfPaced reports whether the backend sleeps inside ReadFrame to keep its
// own frame rate.
func (g *GuardedSource) SelfPaced() bool {
	_, ok := g.src.(source.SelfPaced)
	return ok
}

// Reads counts ReadFrame calls made through the guard.
func (g *GuardedSource) Reads() int64 {
	return g.reads.Load()
}
