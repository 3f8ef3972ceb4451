package pump

import (
	"context"
	"image"
	"iter"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"webcam-ip-server/internal/util"
)

// DefaultInterval paces camera and image sources at roughly 30 frames/s.
const DefaultInterval = 33 * time.Millisecond

// ErrStopped ends a frame sequence because the session is no longer running.
var ErrStopped = errors.New("stream stopped")

// Encoder compresses one raw frame.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
}

// Config wires a Pump to its session.
type Config struct {
	// Interval between reads for sources that do not pace themselves.
	Interval time.Duration
	// Running is polled before every cycle; false ends the sequence.
	Running func() bool
	// OnFatal is called once when the source fails for good.
	OnFatal func(error)
	Logger  *slog.Logger
}

// Pump is one consumer's cycle over a shared source. Every HTTP connection
// gets its own Pump; the WebSocket broadcaster uses a single one.
type Pump struct {
	src *GuardedSource
	enc Encoder
	cfg Config

	last    time.Time
	err     error
	frames  atomic.Int64
	skipped atomic.Int64
}

func New(src *GuardedSource, enc Encoder, cfg Config) *Pump {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Running == nil {
		cfg.Running = func() bool { return true }
	}
	if cfg.Logger == nil {
		cfg.Logger = util.GetLogger()
	}
	return &Pump{src: src, enc: enc, cfg: cfg}
}

// Next blocks until the next encoded frame is ready. It returns ErrStopped
// once the session stops, ctx.Err() on cancellation, and the read error when
// the source gives up. Frames that fail to encode are skipped.
func (p *Pump) Next(ctx context.Context) ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}
	for {
		if err := p.check(ctx); err != nil {
			return nil, err
		}
		if err := p.pace(ctx); err != nil {
			return nil, err
		}
		if err := p.check(ctx); err != nil {
			return nil, err
		}

		frame, err := p.src.ReadFrame()
		p.last = time.Now()
		if err != nil {
			if !p.cfg.Running() {
				return nil, p.fail(ErrStopped)
			}
			p.cfg.Logger.Error("frame source failed", "error", err)
			if p.cfg.OnFatal != nil {
				p.cfg.OnFatal(err)
			}
			return nil, p.fail(err)
		}

		data, err := p.enc.Encode(frame)
		if err != nil {
			p.skipped.Add(1)
			p.cfg.Logger.Debug("skipping frame", "error", err)
			continue
		}
		p.frames.Add(1)
		return data, nil
	}
}

// Frames yields encoded frames until the session stops, ctx is cancelled or
// the source fails. Err reports why the sequence ended.
func (p *Pump) Frames(ctx context.Context) iter.Seq[[]byte] {
	return func(yield func([]byte) bool) {
		for {
			data, err := p.Next(ctx)
			if err != nil {
				return
			}
			if !yield(data) {
				return
			}
		}
	}
}

// Err is the reason the sequence ended, or nil while it is still live.
func (p *Pump) Err() error {
	return p.err
}

// Frames produced and frames dropped by the encoder.
func (p *Pump) Produced() int64 { return p.frames.Load() }
func (p *Pump) Skipped() int64  { return p.skipped.Load() }

func (p *Pump) check(ctx context.Context) error {
	if !p.cfg.Running() {
		return p.fail(ErrStopped)
	}
	if err := ctx.Err(); err != nil {
		return p.fail(err)
	}
	return nil
}

func (p *Pump) fail(err error) error {
	p.err = err
	return err
}

// pace waits out the rest of the interval since the previous read. Video
// files pace themselves inside ReadFrame.
func (p *Pump) pace(ctx context.Context) error {
	if p.last.IsZero() || p.src.SelfPaced() {
		return nil
	}
	wait := p.cfg.Interval - time.Since(p.last)
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return p.fail(ctx.Err())
	}
}
