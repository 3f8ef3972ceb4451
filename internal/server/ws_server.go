package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webcam-ip-server/internal/pump"
)

// WSServer pushes every frame to every connected WebSocket viewer from a
// single broadcast loop. With no viewers the loop does not touch the source.
type WSServer struct {
	stream
	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[string]*Client

	loopMu   sync.Mutex
	cancel   context.CancelFunc
	loopDone chan struct{}
}

func NewWSServer(src *pump.GuardedSource, enc pump.Encoder, opts Options) *WSServer {
	s := &WSServer{
		clients: make(map[string]*Client),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	s.init(ProtocolWebSocket, src, enc, opts)
	return s
}

func (s *WSServer) Start(host string, port int) error {
	if err := s.listen(host, port, s.routes()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.loopMu.Lock()
	s.cancel = cancel
	s.loopDone = done
	s.loopMu.Unlock()

	go s.broadcastLoop(ctx, done)
	return nil
}

// Stop ends the broadcast loop, closes every viewer, closes the listener and
// releases the source.
func (s *WSServer) Stop() {
	s.stop(StateStopped)
}

func (s *WSServer) stop(final State) {
	s.shutdown(final, func() {
		s.loopMu.Lock()
		cancel, done := s.cancel, s.loopDone
		s.cancel, s.loopDone = nil, nil
		s.loopMu.Unlock()

		if cancel != nil {
			cancel()
			<-done
		}
		s.closeAll()
	})
}

func (s *WSServer) Stats() Stats {
	return s.stats(s.clientCount())
}

func (s *WSServer) routes() http.Handler {
	r := newRouter(s.logger)
	r.GET("/", s.handleRoot)
	r.GET("/health", handleHealth(s))
	r.GET("/api/stats", handleStats(s))
	return r
}

// broadcastLoop pulls one frame per cycle and fans it out. A send failure
// evicts that client and nothing else.
func (s *WSServer) broadcastLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	p := s.newPump(s.stop)
	idle := time.NewTimer(s.opts.Interval)
	defer idle.Stop()

	for s.IsRunning() {
		if s.clientCount() == 0 {
			idle.Reset(s.opts.Interval)
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
			continue
		}

		frame, err := p.Next(ctx)
		if err != nil {
			s.logger.Debug("broadcast loop finished", "reason", err)
			return
		}
		s.broadcast(frame)
	}
}

func (s *WSServer) broadcast(frame []byte) {
	s.clientsMu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for _, c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.RUnlock()

	delivered := false
	for _, c := range clients {
		if err := c.send(frame); err != nil {
			s.logger.Info("evicting websocket client", "client", c.id, "error", err)
			s.removeClient(c, websocket.CloseGoingAway)
			continue
		}
		delivered = true
	}
	if delivered {
		s.recordFrame()
	}
}

// addClient registers c unless the server is already stopping.
func (s *WSServer) addClient(c *Client) bool {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	if !s.IsRunning() {
		return false
	}
	s.clients[c.id] = c
	s.logger.Info("websocket client connected", "client", c.id, "clients", len(s.clients))
	return true
}

func (s *WSServer) removeClient(c *Client, code int) {
	s.clientsMu.Lock()
	if s.clients[c.id] == c {
		delete(s.clients, c.id)
		s.logger.Info("websocket client disconnected", "client", c.id, "clients", len(s.clients))
	}
	s.clientsMu.Unlock()

	c.close(code)
}

func (s *WSServer) closeAll() {
	s.clientsMu.Lock()
	clients := s.clients
	s.clients = make(map[string]*Client)
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.close(websocket.CloseGoingAway)
	}
	if len(clients) > 0 {
		s.logger.Info("closed websocket clients", "count", len(clients))
	}
}

func (s *WSServer) clientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
