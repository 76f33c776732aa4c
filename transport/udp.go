package transport

import (
	"fmt"
	"net"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// UDPMTUSize bounds the receive buffer; oversized datagrams are truncated
// by the kernel before we see them, same as the teacher's UDP transport.
var UDPMTUSize = 1500

// UDPTransport is one datagram = one SIP message, per spec.md §4.5. The
// socket is bound on an ephemeral port on 0.0.0.0.
type UDPTransport struct {
	log zerolog.Logger

	mu     sync.Mutex
	conn   *net.UDPConn
	remote *net.UDPAddr
	closed bool
	onMsg  MessageHandler
	onErr  func(error)
}

// NewUDPTransport binds an ephemeral UDP socket and starts the read loop.
// server/port identify the destination every Send writes to; it is not
// re-learned from the source address of inbound packets.
func NewUDPTransport(server string, port int) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("transport: udp listen: %w", err)
	}
	remote, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", server, port))
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: resolve udp peer: %w", err)
	}

	t := &UDPTransport{
		conn:   conn,
		remote: remote,
		log:    log.Logger.With().Str("caller", "transport<UDP>").Logger(),
	}
	go t.readLoop()
	return t, nil
}

func (t *UDPTransport) Network() string { return NetworkUDP }

func (t *UDPTransport) LocalAddr() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return ""
	}
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) Send(msg []byte) error {
	t.mu.Lock()
	conn, dst := t.conn, t.remote
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("transport: udp send after close")
	}
	_, err := conn.WriteToUDP(msg, dst)
	if err != nil {
		return fmt.Errorf("transport: udp send: %w", err)
	}
	return nil
}

func (t *UDPTransport) OnMessage(handler MessageHandler) {
	t.mu.Lock()
	t.onMsg = handler
	t.mu.Unlock()
}

func (t *UDPTransport) OnError(handler func(error)) {
	t.mu.Lock()
	t.onErr = handler
	t.mu.Unlock()
}

func (t *UDPTransport) Close() error {
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

func (t *UDPTransport) readLoop() {
	buf := make([]byte, UDPMTUSize)
	for {
		n, src, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			t.mu.Lock()
			closed := t.closed
			onErr := t.onErr
			t.mu.Unlock()
			if closed {
				return
			}
			t.log.Debug().Err(err).Msg("udp read error")
			if onErr != nil {
				onErr(fmt.Errorf("transport: udp read: %w", err))
			}
			return
		}
		if n == 2 && buf[0] == '\r' && buf[1] == '\n' {
			t.log.Debug().Msg("udp keepalive crlf received")
			continue
		}

		t.mu.Lock()
		handler := t.onMsg
		t.mu.Unlock()
		if handler != nil {
			msg := make([]byte, n)
			copy(msg, buf[:n])
			handler(msg, src.String())
		}
	}
}
