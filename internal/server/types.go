package server

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// ErrAlreadyRunning is returned when starting a server or session that is
// already live.
var ErrAlreadyRunning = errors.New("stream already running")

// StreamingServer serves one frame source over one protocol.
type StreamingServer interface {
	// Start binds host:port and begins serving. It fails fast with a
	// *BindError when the address is unavailable.
	Start(host string, port int) error
	// Stop ends every viewer, closes the listener and releases the source.
	// It is safe to call repeatedly and after a failed Start.
	Stop()
	IsRunning() bool
	State() State
	// Addr is the bound address, or nil when not listening.
	Addr() net.Addr
	Stats() Stats
}

// State of a StreamingServer.
type State int

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Protocol selects the streaming server variant.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolWebSocket
)

func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolWebSocket:
		return "websocket"
	default:
		return "unknown"
	}
}

// Scheme is the URL scheme viewers use.
func (p Protocol) Scheme() string {
	if p == ProtocolWebSocket {
		return "ws"
	}
	return "http"
}

func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "http", "mjpeg":
		return ProtocolHTTP, nil
	case "websocket", "ws":
		return ProtocolWebSocket, nil
	}
	return 0, errors.Errorf("unknown protocol %q, want http or websocket", s)
}

// Stats is a point-in-time view of a running stream.
type Stats struct {
	State         string     `json:"state"`
	Protocol      string     `json:"protocol"`
	Source        string     `json:"source"`
	Address       string     `json:"address,omitempty"`
	FramesSent    int64      `json:"frames_sent"`
	Clients       int        `json:"clients"`
	LastFrameTime *time.Time `json:"last_frame_time,omitempty"`
	UptimeSeconds float64    `json:"uptime_seconds"`
	LastError     string     `json:"last_error,omitempty"`
}

// BindError reports that the listening socket could not be opened.
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s: %v", e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// TransportError is a failure talking to one viewer. It only ever ends that
// viewer's stream.
type TransportError struct {
	Client string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("client %s: %v", e.Client, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
