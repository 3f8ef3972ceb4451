package server

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const indexPage = `<!DOCTYPE html>
<html>
<head><title>Webcam IP Server</title></head>
<body style="margin:0;background:#000">
<img src="` + FeedPath + `" style="width:100%;height:auto" alt="live feed">
</body>
</html>
`

const viewerPage = `<!DOCTYPE html>
<html>
<head><title>Webcam IP Server</title></head>
<body style="margin:0;background:#000">
<img id="feed" style="width:100%;height:auto" alt="live feed">
<script>
const img = document.getElementById("feed");
const ws = new WebSocket("ws://" + location.host + "/");
ws.binaryType = "blob";
let current = null;
ws.onmessage = (event) => {
  const url = URL.createObjectURL(new Blob([event.data], {type: "image/jpeg"}));
  img.src = url;
  if (current) URL.revokeObjectURL(current);
  current = url;
};
</script>
</body>
</html>
`

type statsProvider interface {
	IsRunning() bool
	Stats() Stats
}

// handleHealth reports whether the stream is live.
func handleHealth(p statsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, code := "healthy", http.StatusOK
		if !p.IsRunning() {
			status, code = "stopping", http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{
			"status":    status,
			"timestamp": time.Now().Unix(),
		})
	}
}

func handleStats(p statsProvider) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, p.Stats())
	}
}

func (s *HTTPServer) handleIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(indexPage))
}

// handleVideoFeed streams multipart JPEG parts until the viewer leaves or
// the session stops.
func (s *HTTPServer) handleVideoFeed(c *gin.Context) {
	if !s.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stream not running"})
		return
	}

	remote := c.Request.RemoteAddr
	s.viewers.Add(1)
	defer s.viewers.Add(-1)
	s.logger.Info("viewer connected", "client", remote)

	c.Header("Content-Type", FeedContentType)
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Header("Pragma", "no-cache")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	p := s.newPump(s.stop)
	for frame := range p.Frames(c.Request.Context()) {
		if err := writePart(c.Writer, frame); err != nil {
			s.logger.Info("viewer dropped", "error", &TransportError{Client: remote, Err: err})
			return
		}
		c.Writer.Flush()
		s.recordFrame()
	}
	s.logger.Info("viewer disconnected", "client", remote, "reason", p.Err(), "frames", p.Produced())
}

// handleRoot serves the viewer page to browsers and upgrades WebSocket
// handshakes on the same path.
func (s *WSServer) handleRoot(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", []byte(viewerPage))
		return
	}
	s.handleWebSocket(c)
}

// handleWebSocket registers the viewer and blocks until it disconnects.
func (s *WSServer) handleWebSocket(c *gin.Context) {
	if !s.IsRunning() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Stream not running"})
		return
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "client", c.Request.RemoteAddr, "error", err)
		return
	}

	client := newClient(uuid.NewString(), conn, s.logger)
	if !s.addClient(client) {
		client.close(websocket.CloseGoingAway)
		return
	}

	client.readPump()
	s.removeClient(client, websocket.CloseNormalClosure)
}
