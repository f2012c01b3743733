package control

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// killGrace is how long the server waits after a Kill before closing the
// connection, so an in-flight response is not truncated.
const killGrace = 2 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server accepts control connections and feeds their commands through a
// Handler. One control channel is expected at a time; the protocol has no
// multi-client semantics.
type Server struct {
	handler *Handler
	log     zerolog.Logger

	httpSrv *http.Server
	ln      net.Listener

	grace time.Duration

	killOnce sync.Once
	killed   chan struct{}
}

// NewServer wraps the handler in a websocket listener.
func NewServer(handler *Handler, log zerolog.Logger) *Server {
	s := &Server{
		handler: handler,
		log:     log,
		grace:   killGrace,
		killed:  make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveWS)
	s.httpSrv = &http.Server{Handler: mux}
	return s
}

// Listen binds the server to addr.
func (s *Server) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info().Str("addr", ln.Addr().String()).Msg("control channel listening")
	return nil
}

// Addr returns the bound address, or empty before Listen.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Serve blocks accepting connections until Shutdown or a Kill command.
func (s *Server) Serve() error {
	err := s.httpSrv.Serve(s.ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Killed is closed once a Kill command has been processed; the daemon uses
// it to begin its shutdown.
func (s *Server) Killed() <-chan struct{} {
	return s.killed
}

// Shutdown stops accepting connections and closes the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

// serveWS runs the per-connection command loop.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("control upgrade failed")
		return
	}
	defer conn.Close()
	s.log.Info().Str("remote", conn.RemoteAddr().String()).Msg("control client connected")

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Info().Err(err).Msg("control client disconnected")
			return
		}
		if msgType != websocket.TextMessage {
			s.log.Warn().Int("type", msgType).Msg("non-text control frame ignored")
			continue
		}

		act, reply := s.handler.Handle(string(data))

		switch act {
		case actionReply:
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				s.log.Error().Err(err).Msg("control reply failed")
				return
			}

		case actionKill:
			// Grace delay so any in-flight write drains before the close.
			time.Sleep(s.grace)
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "killed"))
			s.killOnce.Do(func() { close(s.killed) })
			return
		}
	}
}
