package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/gosoftphone/core/sip"
)

// TLSTransport is a TCPTransport variant dialed over TLS with SNI set to
// the server name and certificate verification disabled (the
// rejectUnauthorized=false equivalent spec.md §4.5 calls for, since the
// softphone has no independent CA trust store to validate against).
type TLSTransport struct {
	log zerolog.Logger

	mu     sync.Mutex
	conn   *tls.Conn
	closed bool
	framer sip.StreamFramer
	onMsg  MessageHandler
	onErr  func(error)
}

// NewTLSTransport dials server:port (rewriting port 5060 to 5061 per
// spec.md §4.5's default-port policy) with ConnectTimeout and starts the
// read loop.
func NewTLSTransport(server string, port int) (*TLSTransport, error) {
	port = rewriteDefaultTLSPort(port)
	addr := fmt.Sprintf("%s:%d", server, port)

	rawConn, err := net.DialTimeout("tcp", addr, ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("transport: tls dial %s: %w", addr, err)
	}

	conf := &tls.Config{
		ServerName:         server,
		InsecureSkipVerify: true,
	}
	conn := tls.Client(rawConn, conf)
	if err := conn.Handshake(); err != nil {
		rawConn.Close()
		return nil, fmt.Errorf("transport: tls handshake %s: %w", addr, err)
	}

	t := &TLSTransport{
		conn: conn,
		log:  log.Logger.With().Str("caller", "transport<TLS>").Logger(),
	}
	go t.readLoop()
	return t, nil
}

func (t *TLSTransport) Network() string { return NetworkTLS }

func (t *TLSTransport) LocalAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

func (t *TLSTransport) Send(msg []byte) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: tls send after close")
	}
	if _, err := conn.Write(msg); err != nil {
		return fmt.Errorf("transport: tls send: %w", err)
	}
	return nil
}

func (t *TLSTransport) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	t.onMsg = handler
	t.mu.Unlock()
}

func (t *TLSTransport) OnError(handler func(error)) {
	t.mu.Lock()
	t.onErr = handler
	t.mu.Unlock()
}

func (t *TLSTransport) Close() error {
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

func (t *TLSTransport) readLoop() {
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
				t.log.Debug().Err(err).Msg("tls stream closed")
				if onErr != nil {
					onErr(ErrDisconnected)
				}
			}
			return
		}
	}
}

func (t *TLSTransport) deliver(chunk []byte, remote string) {
	t.mu.Lock()
	msgs, err := t.framer.Feed(chunk)
	handler := t.onMsg
	onErr := t.onErr
	t.mu.Unlock()

	if err != nil {
		t.log.Warn().Err(err).Msg("tls frame error")
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
