package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"webcam-ip-server/internal/pump"
	"webcam-ip-server/internal/util"
)

// Options configure either streaming server.
type Options struct {
	// Interval paces camera and image sources. Zero means pump.DefaultInterval.
	Interval time.Duration
	// SourceName labels the source in logs and stats.
	SourceName string
	// OnFatal is told when the source fails for good and the server has
	// stopped itself.
	OnFatal         func(error)
	ShutdownTimeout time.Duration
	Logger          *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = pump.DefaultInterval
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = ShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = util.GetLogger()
	}
	return o
}

// stream owns the pieces both protocols share: the guarded source, the
// listener, the running flag and the counters behind Stats.
type stream struct {
	protocol Protocol
	src      *pump.GuardedSource
	enc      pump.Encoder
	opts     Options
	logger   *slog.Logger

	isRunning atomic.Bool
	failed    atomic.Bool
	// stopMu serializes shutdowns from Stop and from a failing source.
	stopMu sync.Mutex

	mu        sync.RWMutex
	state     State
	listener  net.Listener
	srv       *http.Server
	served    chan struct{}
	startedAt time.Time
	lastErr   error

	frameCount    atomic.Int64
	lastFrameTime atomic.Int64
}

func (s *stream) init(p Protocol, src *pump.GuardedSource, enc pump.Encoder, opts Options) {
	opts = opts.withDefaults()
	s.protocol = p
	s.src = src
	s.enc = enc
	s.opts = opts
	s.logger = opts.Logger.With("protocol", p.String())
}

// listen binds host:port synchronously so a busy port is reported to the
// caller, then serves handler in the background.
func (s *stream) listen(host string, port int, handler http.Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateStarting || s.state == StateRunning {
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.lastErr = nil

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		bindErr := &BindError{Addr: addr, Err: err}
		s.state = StateError
		s.lastErr = bindErr
		s.logger.Error("failed to bind", "addr", addr, "error", err)
		return bindErr
	}

	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
	served := make(chan struct{})

	s.listener = ln
	s.srv = srv
	s.served = served
	s.startedAt = time.Now()
	s.frameCount.Store(0)
	s.lastFrameTime.Store(0)
	s.failed.Store(false)
	s.isRunning.Store(true)
	s.state = StateRunning

	go func() {
		defer close(served)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("server failed", "addr", ln.Addr().String(), "error", err)
		}
	}()

	s.logger.Info("stream server started", "addr", ln.Addr().String(), "source", s.opts.SourceName)
	return nil
}

// shutdown stops the session. beforeClose runs after the running flag is
// cleared and before the listener goes away. The source is released on
// every path, including when listen never succeeded.
func (s *stream) shutdown(final State, beforeClose func()) {
	s.stopMu.Lock()
	defer s.stopMu.Unlock()

	s.isRunning.Store(false)
	if beforeClose != nil {
		beforeClose()
	}

	s.mu.Lock()
	srv, ln, served := s.srv, s.listener, s.served
	s.srv, s.served = nil, nil
	s.mu.Unlock()

	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		if err := srv.Shutdown(ctx); err != nil {
			s.logger.Warn("forcing server close", "error", err)
			srv.Close()
		}
		cancel()
		<-served
		s.logger.Info("stream server stopped", "addr", ln.Addr().String())
	}

	s.src.Release()

	s.mu.Lock()
	s.listener = nil
	s.state = final
	s.mu.Unlock()
}

// fail handles a source that gave up: the whole session ends in the Error
// state. It runs off the caller's goroutine since shutdown waits for the
// caller (a handler or the broadcast loop) to return.
func (s *stream) fail(err error, stop func(State)) {
	if !s.failed.CompareAndSwap(false, true) {
		return
	}
	s.isRunning.Store(false)
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
	go func() {
		stop(StateError)
		if s.opts.OnFatal != nil {
			s.opts.OnFatal(err)
		}
	}()
}

func (s *stream) newPump(stop func(State)) *pump.Pump {
	return pump.New(s.src, s.enc, pump.Config{
		Interval: s.opts.Interval,
		Running:  s.IsRunning,
		OnFatal:  func(err error) { s.fail(err, stop) },
		Logger:   s.logger,
	})
}

func (s *stream) recordFrame() {
	s.frameCount.Add(1)
	s.lastFrameTime.Store(time.Now().UnixNano())
}

// IsRunning reflects the running flag, not the listener.
func (s *stream) IsRunning() bool {
	return s.isRunning.Load()
}

func (s *stream) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *stream) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *stream) stats(clients int) Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		State:      s.state.String(),
		Protocol:   s.protocol.String(),
		Source:     s.opts.SourceName,
		FramesSent: s.frameCount.Load(),
		Clients:    clients,
	}
	if s.listener != nil {
		st.Address = s.listener.Addr().String()
	}
	if ns := s.lastFrameTime.Load(); ns > 0 {
		last := time.Unix(0, ns)
		st.LastFrameTime = &last
	}
	if s.state == StateRunning {
		st.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// newRouter builds the gin engine shared by both protocols, with the CORS
// headers the control panel pages need.
func newRouter(logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), util.GinLogger(logger))
	r.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})
	return r
}
