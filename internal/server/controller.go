package server

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"

	"webcam-ip-server/internal/encoder"
	"webcam-ip-server/internal/pump"
	"webcam-ip-server/internal/source"
	"webcam-ip-server/internal/util"
)

// ControllerOptions carry the settings a session is built from.
type ControllerOptions struct {
	// Interval paces camera and image sources.
	Interval time.Duration
	// Quality is the JPEG quality, 1-100. Zero means encoder.DefaultQuality.
	Quality int
	Source  source.Options
	Logger  *slog.Logger
}

// Controller runs at most one streaming session at a time. It is the entry
// point used by the CLI.
type Controller struct {
	opts   ControllerOptions
	logger *slog.Logger

	mu       sync.Mutex
	server   StreamingServer
	protocol Protocol
	host     string
	lastErr  error
}

func NewController(opts ControllerOptions) *Controller {
	if opts.Logger == nil {
		opts.Logger = util.GetLogger()
	}
	if opts.Source.Logger == nil {
		opts.Source.Logger = opts.Logger
	}
	return &Controller{opts: opts, logger: opts.Logger}
}

// ResolveSource builds the backend for d without opening it.
func (c *Controller) ResolveSource(d source.Descriptor) (source.FrameSource, error) {
	return source.New(d, c.opts.Source)
}

// StartSession opens src if needed and serves it over p on host:port. On
// any failure src is released and the error says why.
func (c *Controller) StartSession(src source.FrameSource, p Protocol, host string, port int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server != nil {
		if c.server.IsRunning() {
			return ErrAlreadyRunning
		}
		// Left behind by a session that ended on its own.
		c.server.Stop()
		c.server = nil
	}

	guard := pump.NewGuardedSource(src)
	if !guard.IsOpened() {
		if err := guard.Open(); err != nil {
			guard.Release()
			c.lastErr = err
			return err
		}
	}

	var srv StreamingServer
	opts := Options{
		Interval:   c.opts.Interval,
		SourceName: sourceName(src),
		OnFatal:    func(err error) { c.onFatal(srv, err) },
		Logger:     c.logger,
	}
	enc := encoder.NewJPEG(c.opts.Quality)

	switch p {
	case ProtocolHTTP:
		srv = NewHTTPServer(guard, enc, opts)
	case ProtocolWebSocket:
		srv = NewWSServer(guard, enc, opts)
	default:
		guard.Release()
		return errors.Errorf("unsupported protocol %d", int(p))
	}

	if err := srv.Start(host, port); err != nil {
		srv.Stop()
		c.lastErr = err
		return err
	}

	c.server = srv
	c.protocol = p
	c.host = host
	c.lastErr = nil
	return nil
}

// StopSession ends the current session, if any. Safe to call at any time.
func (c *Controller) StopSession() {
	c.mu.Lock()
	srv := c.server
	c.server = nil
	c.mu.Unlock()

	if srv != nil {
		srv.Stop()
	}
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server != nil && c.server.IsRunning()
}

// DisplayURL is the address viewers should open, using the LAN address when
// the server listens on every interface. Empty when no session is live.
func (c *Controller) DisplayURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil {
		return ""
	}
	addr := c.server.Addr()
	if addr == nil {
		return ""
	}
	_, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	host := c.host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = LocalIP()
	}
	return fmt.Sprintf("%s://%s", c.protocol.Scheme(), net.JoinHostPort(host, port))
}

// Stats of the current session, or of the last failure when none is live.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.server == nil {
		st := Stats{State: StateStopped.String()}
		if c.lastErr != nil {
			st.State = StateError.String()
			st.LastError = c.lastErr.Error()
		}
		return st
	}
	return c.server.Stats()
}

// Err is the error that ended or prevented the last session.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// onFatal runs after srv stopped itself because its source gave up.
func (c *Controller) onFatal(srv StreamingServer, err error) {
	c.mu.Lock()
	if c.server == srv {
		c.lastErr = err
	}
	c.mu.Unlock()
	c.logger.Error("session ended", "error", err)
}

// LocalIP returns the address of the interface used for outbound traffic.
// Dialing UDP sends no packets. Falls back to loopback when offline.
func LocalIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "127.0.0.1"
	}
	defer conn.Close()
	if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.IP.String()
	}
	return "127.0.0.1"
}

func sourceName(src source.FrameSource) string {
	if s, ok := src.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprintf("%T", src)
}

