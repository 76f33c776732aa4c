// Package transport implements spec.md §4.5: one transport instance per
// user agent, in one of three variants (UDP, TCP, TLS) that share a single
// contract — Send a whole SIP message, and deliver whole inbound messages
// to a callback along with the sender's address.
package transport

import (
	"errors"
	"fmt"
	"time"
)

const (
	// NetworkUDP, NetworkTCP and NetworkTLS name the three transport
	// variants the teacher's transport layer historically supported;
	// WS/WSS/QUIC are not carried forward (see DESIGN.md).
	NetworkUDP = "UDP"
	NetworkTCP = "TCP"
	NetworkTLS = "TLS"
)

// ConnectTimeout bounds TCP/TLS dialing, per spec.md §4.5.
const ConnectTimeout = 10 * time.Second

// ErrDisconnected is surfaced to the delivery callback's error path (via
// OnError) when a stream transport's connection drops. The UA core
// interprets it as a transition to Disconnected with no automatic
// reconnect.
var ErrDisconnected = errors.New("transport: connection closed")

// MessageHandler receives one complete, de-framed SIP message and the
// address it arrived from.
type MessageHandler func(msg []byte, sourceAddr string)

// Transport is the contract shared by UDP, TCP and TLS. There is exactly
// one instance per user agent.
type Transport interface {
	// Network names which variant this is (NetworkUDP, NetworkTCP, NetworkTLS).
	Network() string

	// LocalAddr returns the local address the transport is bound or
	// connected from, once known.
	LocalAddr() string

	// Send writes one complete SIP message.
	Send(msg []byte) error

	// OnMessage installs the delivery callback for whole inbound
	// messages. Must be called before Send/Close are used concurrently.
	OnMessage(handler MessageHandler)

	// OnError installs a callback for transport-level failures
	// (including ErrDisconnected for stream transports).
	OnError(handler func(err error))

	// Close releases the underlying socket. Idempotent.
	Close() error
}

// New dials or binds the named transport variant toward server:port.
func New(network, server string, port int) (Transport, error) {
	switch network {
	case NetworkUDP:
		return NewUDPTransport(server, port)
	case NetworkTCP:
		return NewTCPTransport(server, port)
	case NetworkTLS:
		return NewTLSTransport(server, port)
	default:
		return nil, fmt.Errorf("transport: unknown network %q", network)
	}
}

// rewriteDefaultTLSPort applies spec.md §4.5's default-port policy: a TLS
// transport configured with the plain-SIP default port silently uses 5061
// instead.
func rewriteDefaultTLSPort(port int) int {
	if port == 5060 {
		return 5061
	}
	return port
}
