package ua

import "fmt"

// TransportKind is the configured signaling transport, per spec.md §3's
// Via-Transport Binding: the UA is configured with exactly one of these.
type TransportKind string

const (
	TransportUDP TransportKind = "udp"
	TransportTCP TransportKind = "tcp"
	TransportTLS TransportKind = "tls"
)

// Config is the shell-provided, fully-resolved configuration passed to
// configure(), per spec.md §6's Configuration enumeration. Legacy upgrade
// of udp/tcp configs to tls is the shell's job; the core only defends
// against an unrecognized transport value.
type Config struct {
	Server      string
	Port        uint16
	Transport   TransportKind
	Extension   string
	Password    string
	DisplayName string
	STUNServer  string // hint only, never dialed (spec.md §1 Non-goals)
}

// normalize fills in the default port for the configured transport (5060
// for udp/tcp, 5061 for tls) and validates the transport kind.
func (c Config) normalize() (Config, error) {
	switch c.Transport {
	case TransportUDP, TransportTCP:
		if c.Port == 0 {
			c.Port = 5060
		}
	case TransportTLS:
		if c.Port == 0 {
			c.Port = 5061
		}
	default:
		return c, fmt.Errorf("ua: unsupported transport %q", c.Transport)
	}
	if c.Server == "" {
		return c, fmt.Errorf("ua: server is required")
	}
	if c.Extension == "" {
		return c, fmt.Errorf("ua: extension is required")
	}
	return c, nil
}

// transportNetwork maps the config's transport kind to the transport
// package's network constant.
func (c Config) transportNetwork() string {
	switch c.Transport {
	case TransportTCP:
		return "TCP"
	case TransportTLS:
		return "TLS"
	default:
		return "UDP"
	}
}
