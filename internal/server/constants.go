package server

import "time"

// Server configuration constants
const (
	// DefaultPort is the port the control panel used to suggest
	DefaultPort = 5000

	// DefaultHost binds every interface
	DefaultHost = "0.0.0.0"

	// FeedPath serves the multipart JPEG stream
	FeedPath = "/video_feed"

	// Boundary separates parts of the multipart stream
	Boundary = "frame"

	// FeedContentType is the Content-Type of FeedPath responses
	FeedContentType = "multipart/x-mixed-replace; boundary=" + Boundary

	// ShutdownTimeout bounds how long Stop waits for viewers to drain
	ShutdownTimeout = 3 * time.Second

	// ReadHeaderTimeout bounds how long a viewer may take to send request headers
	ReadHeaderTimeout = 10 * time.Second

	// WebSocketWriteDeadline is the deadline for pushing one frame to a client
	WebSocketWriteDeadline = 10 * time.Second

	// WebSocketCloseDeadline is the deadline for the close handshake message
	WebSocketCloseDeadline = time.Second

	// WebSocketReadLimit is the maximum message size accepted from clients
	WebSocketReadLimit = 512
)

// partHeader precedes every JPEG in the multipart stream.
var partHeader = []byte("--" + Boundary + "\r\nContent-Type: image/jpeg\r\n\r\n")

var partTrailer = []byte("\r\n")
