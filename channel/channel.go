package channel

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"stagehand/core"
	"stagehand/protocol"
)

const (
	defaultSendBufferSize = 64
	writeTimeout          = 10 * time.Second
)

// ErrNotConnected is returned when an outbound message is requested while no
// frontend is attached. Outbound messages are never queued across connects.
var ErrNotConnected = errors.New("channel: frontend not connected")

// Handler receives inbound frontend messages. All callbacks are invoked from
// the channel's read loop, one at a time.
type Handler interface {
	HandleConnection(routes []string, currentRoute string)
	HandleRouteChange(currentRoute string)
	HandleHeartbeat(currentRoute string)
}

// Manager owns the single live connection to the presentation frontend.
// Inbound messages are decoded and dispatched to the Handler; outbound
// goto/hint messages go through a buffered send queue so callers never block
// on the socket. On disconnect pending outbound messages are dropped; the
// frontend resynchronizes via a fresh connection message.
type Manager struct {
	mu      sync.Mutex
	conn    *websocket.Conn
	sendCh  chan []byte
	done    chan struct{}
	handler Handler
	logger  *core.Logger
}

// NewManager creates a Manager. Attach a Handler with SetHandler before
// serving connections.
func NewManager(logger *core.Logger) *Manager {
	if logger == nil {
		logger = core.GetLogger()
	}
	return &Manager{
		logger: logger.With(map[string]interface{}{"component": "channel"}),
	}
}

// SetHandler registers the inbound message handler.
func (m *Manager) SetHandler(h Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

// Connected reports whether a frontend is currently attached.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Run serves one frontend connection: it replaces any previous connection,
// starts the write loop, and reads until the peer disconnects. Blocks for
// the lifetime of the connection.
func (m *Manager) Run(conn *websocket.Conn) {
	m.mu.Lock()
	if m.conn != nil {
		// A newer frontend supersedes the old one.
		m.logger.Info("replacing existing frontend connection")
		m.conn.Close()
		close(m.done)
	}
	sendCh := make(chan []byte, defaultSendBufferSize)
	done := make(chan struct{})
	m.conn = conn
	m.sendCh = sendCh
	m.done = done
	m.mu.Unlock()

	m.logger.Info("frontend connected")
	go m.writeLoop(conn, sendCh, done)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.logger.With(map[string]interface{}{"error": err}).Warn("frontend connection lost")
			}
			break
		}
		m.dispatch(data)
	}

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
		m.sendCh = nil
		close(done)
		m.logger.Info("frontend disconnected, pending outbound messages dropped")
	}
	m.mu.Unlock()
	conn.Close()
}

// SendGoto enqueues a navigation command for the frontend.
func (m *Manager) SendGoto(route string) error {
	data, err := protocol.Encode(protocol.NewGoto(route))
	if err != nil {
		return err
	}
	return m.enqueue(data)
}

// SendHint enqueues a transient notification for the frontend.
func (m *Manager) SendHint(text string) error {
	data, err := protocol.Encode(protocol.NewHint(text))
	if err != nil {
		return err
	}
	return m.enqueue(data)
}

func (m *Manager) enqueue(data []byte) error {
	m.mu.Lock()
	sendCh := m.sendCh
	m.mu.Unlock()
	if sendCh == nil {
		return ErrNotConnected
	}

	select {
	case sendCh <- data:
	default:
		// Buffer full: drop oldest and push new.
		select {
		case <-sendCh:
		default:
		}
		select {
		case sendCh <- data:
		default:
		}
		m.logger.Warn("outbound buffer full, dropped oldest message")
	}
	return nil
}

func (m *Manager) writeLoop(conn *websocket.Conn, sendCh chan []byte, done chan struct{}) {
	for {
		select {
		case data := <-sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				m.logger.With(map[string]interface{}{"error": err}).Warn("write to frontend failed")
				// Unblock the read loop so both halves tear down together
				// and the connection is deregistered.
				conn.Close()
				return
			}
		case <-done:
			return
		}
	}
}

func (m *Manager) dispatch(data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		// Unknown or malformed inbound messages are logged and ignored.
		m.logger.With(map[string]interface{}{"error": err}).Warn("ignoring inbound message")
		return
	}

	m.mu.Lock()
	handler := m.handler
	m.mu.Unlock()
	if handler == nil {
		return
	}

	switch msg := msg.(type) {
	case protocol.ConnectionMessage:
		m.logger.With(map[string]interface{}{
			"routes":        len(msg.Routes),
			"current_route": msg.CurrentRoute,
		}).Info("connection message received")
		handler.HandleConnection(msg.Routes, msg.CurrentRoute)
	case protocol.RouteChangeMessage:
		handler.HandleRouteChange(msg.CurrentRoute)
	case protocol.HeartbeatMessage:
		handler.HandleHeartbeat(msg.CurrentRoute)
	}
}
