package remote

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/webpilot/pkg/protocol"
)

const (
	// maxFrameSize bounds a single actuator reply (screenshots arrive base64 encoded).
	maxFrameSize = 16 * 1024 * 1024

	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	writeWait  = 10 * time.Second
)

var errTransportClosed = errors.New("actuator transport closed")

// Server accepts actuator websocket connections and attaches each one to the
// Channel. The newest connection becomes the active actuator.
type Server struct {
	channel  *Channel
	upgrader websocket.Upgrader
	token    string
	onEvent  func(name string, epoch uint64)
	logger   *slog.Logger
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithToken requires actuators to present token as a bearer header or ?token= query.
func WithToken(token string) ServerOption {
	return func(s *Server) { s.token = token }
}

// WithLifecycleHook is called with actuator.connected / actuator.disconnected
// as connections come and go.
func WithLifecycleHook(fn func(name string, epoch uint64)) ServerOption {
	return func(s *Server) { s.onEvent = fn }
}

// WithServerLogger sets a custom logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// NewServer creates the websocket endpoint for ch.
func NewServer(ch *Channel, opts ...ServerOption) *Server {
	s := &Server{
		channel: ch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Actuators are browser extensions with chrome-extension:// origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// ServeHTTP upgrades the request and pumps frames until the socket closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("actuator rejected: bad token", "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("actuator upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := newWSTransport(conn, s.logger)
	epoch := s.channel.Attach(t)
	s.logger.Info("actuator attached", "remote", r.RemoteAddr, "epoch", epoch)
	s.emit(protocol.EventActuatorConnected, epoch)

	go t.writePump()
	t.readPump(func(data []byte) {
		s.channel.HandleMessage(epoch, data)
	})

	s.channel.Disconnect(epoch)
	s.emit(protocol.EventActuatorDisconnected, epoch)
}

func (s *Server) emit(name string, epoch uint64) {
	if s.onEvent != nil {
		s.onEvent(name, epoch)
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.token == "" {
		return true
	}
	got := r.URL.Query().Get("token")
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		got = strings.TrimPrefix(h, "Bearer ")
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.token)) == 1
}

// wsTransport is one actuator websocket with its own write pump.
type wsTransport struct {
	conn      *websocket.Conn
	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newWSTransport(conn *websocket.Conn, logger *slog.Logger) *wsTransport {
	return &wsTransport{
		conn:   conn,
		send:   make(chan []byte, 64),
		closed: make(chan struct{}),
		logger: logger,
	}
}

// Send queues a frame for the write pump.
func (t *wsTransport) Send(data []byte) error {
	select {
	case <-t.closed:
		return errTransportClosed
	default:
	}
	select {
	case t.send <- data:
		return nil
	case <-t.closed:
		return errTransportClosed
	default:
		return errors.New("actuator send buffer full")
	}
}

// Close shuts the socket; both pumps exit.
func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.closed)
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) readPump(onMessage func([]byte)) {
	defer t.Close()

	t.conn.SetReadLimit(maxFrameSize)
	t.conn.SetReadDeadline(time.Now().Add(pongWait))
	t.conn.SetPongHandler(func(string) error {
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				t.logger.Warn("actuator read error", "error", err)
			}
			return
		}
		t.conn.SetReadDeadline(time.Now().Add(pongWait))
		onMessage(data)
	}
}

func (t *wsTransport) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		t.Close()
	}()

	for {
		select {
		case <-t.closed:
			return
		case msg := <-t.send:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				t.logger.Warn("actuator write failed", "error", err)
				return
			}
		case <-ticker.C:
			t.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := t.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
