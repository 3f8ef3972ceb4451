package server

import (
	"io"
	"net/http"
	"sync/atomic"

	"webcam-ip-server/internal/pump"
)

// HTTPServer streams MJPEG over multipart/x-mixed-replace. Every viewer of
// the feed runs its own pump against the shared source, so concurrent
// viewers each see a different subset of frames.
type HTTPServer struct {
	stream
	viewers atomic.Int64
}

func NewHTTPServer(src *pump.GuardedSource, enc pump.Encoder, opts Options) *HTTPServer {
	s := &HTTPServer{}
	s.init(ProtocolHTTP, src, enc, opts)
	return s
}

func (s *HTTPServer) Start(host string, port int) error {
	return s.listen(host, port, s.routes())
}

// Stop clears the running flag so open feeds end on their next cycle, then
// drains them, closes the listener and releases the source.
func (s *HTTPServer) Stop() {
	s.stop(StateStopped)
}

func (s *HTTPServer) stop(final State) {
	s.shutdown(final, nil)
}

func (s *HTTPServer) Stats() Stats {
	return s.stats(int(s.viewers.Load()))
}

func (s *HTTPServer) routes() http.Handler {
	r := newRouter(s.logger)
	r.GET("/", s.handleIndex)
	r.GET(FeedPath, s.handleVideoFeed)
	r.GET("/health", handleHealth(s))
	r.GET("/api/stats", handleStats(s))
	return r
}

// writePart writes one multipart chunk carrying a JPEG.
func writePart(w io.Writer, jpeg []byte) error {
	if _, err := w.Write(partHeader); err != nil {
		return err
	}
	if _, err := w.Write(jpeg); err != nil {
		return err
	}
	_, err := w.Write(partTrailer)
	return err
}
