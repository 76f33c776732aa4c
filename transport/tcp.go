package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosoftphone/core/sip"
)

// TCPTransport connects once to (server, port) and frames inbound bytes
// with sip.StreamFramer, per spec.md §4.5. There is no automatic
// reconnect: a dropped connection surfaces ErrDisconnected and the caller
// re-invokes register().
type TCPTransport struct {
	log zerolog.Logger

	mu     sync.Mutex
	conn   net.Conn
	closed bool
	framer sip.StreamFramer
	onMsg  MessageHandler
	onErr  func(error)
}

// NewTCPTransport dials server:port with ConnectTimeout and starts the
// read loop.
func NewTCPTransport(server string, port int) (*TCPTransport, error) {
	addr := fmt.Sprintf("%s:%d", server, port)
	conn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: tcp dial %s: %w", addr, err)
	}

	t := &TCPTransport{
		conn: conn,
		log:  log.Logger.With().Str("caller", "transport<TCP>").Logger(),
	}
	go t.readLoop()
	return t, nil
}

func (t *TCPTransport) Network() string { return NetworkTCP }

func (t *TCPTransport) LocalAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

func (t *TCPTransport) Send(msg []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: tcp send after close")
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("transport: tcp send: %w", err)
	}
	return nil
}

func (t *TCPTransport) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	t.onMsg = handler
	t.mu.Unlock()
}

func (t *TCPTransport) OnError(handler func(error)) {
	t.mu.Lock()
	t.onErr = handler
	t.mu.Unlock()
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

func (t *TCPTransport) readLoop() {
	buf := make([]byte, 4096)
	remote := t.conn.RemoteAddr().String()
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			t.deliver(buf[:n], remote)
		}
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			onErr := t.onErr
			t.mu.Unlock()
			if !closed {
				t.log.Debug().Err(err).Msg("tcp stream closed")
				if onErr != nil {
					onErr(ErrDisconnected)
				}
			}
			return
		}
	}
}

func (t *TCPTransport) deliver(chunk []byte, remote string) {
	t.mu.Lock()
	msgs, err := t.framer.Feed(chunk)
	handler := t.onMsg
	onErr := t.onErr
	t.mu.Unlock()

	if err != nil {
		t.log.Warn().Err(err).Msg("tcp frame error")
		if onErr != nil {
			onErr(fmt.Errorf("transport: frame: %w", err))
		}
		return
	}
	if handler == nil {
		return
	}
	for _, m := range msgs {
		handler(m, remote)
	}
}
