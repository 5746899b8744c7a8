package filo

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

const (
	// ProtocolTCP lets the OS pick between IPv4 and IPv6.
	ProtocolTCP Protocol = iota
	ProtocolTCP4
	ProtocolTCP6
)

// Protocol selects which connection-oriented network an `Endpoint`
// binds or dials.
type Protocol uint8

func (p Protocol) String() string {
	switch p {
	case ProtocolTCP4:
		return "tcp4"
	case ProtocolTCP6:
		return "tcp6"
	default:
		return "tcp"
	}
}

// network returns the name the `net` package expects.
func (p Protocol) network() string {
	return p.String()
}

// ParseProtocol maps the textual names "tcp", "tcp4" and "tcp6" to a
// `Protocol`. The empty string means `ProtocolTCP`.
func ParseProtocol(name string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "tcp":
		return ProtocolTCP, nil
	case "tcp4":
		return ProtocolTCP4, nil
	case "tcp6":
		return ProtocolTCP6, nil
	default:
		return ProtocolTCP, fmt.Errorf("%w: unknown protocol %q", ErrInvalidCfg, name)
	}
}

// Endpoint is where a `Server` listens or a `Client` dials.
type Endpoint struct {
	IP       string
	Port     int
	Protocol Protocol
}

// Validate runs before any socket operation so configuration mistakes
// surface synchronously. The IP must parse as a literal address and
// the port must fit in [0, 65535]; port 0 asks the OS for an
// ephemeral port when listening.
func (ep Endpoint) Validate() error {
	if net.ParseIP(ep.IP) == nil {
		return fmt.Errorf("%w: %q", ErrAddrFormat, ep.IP)
	}
	if ep.Port < 0 || ep.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrPortRange, ep.Port)
	}
	return nil
}

func (ep Endpoint) addr() string {
	return net.JoinHostPort(ep.IP, strconv.Itoa(ep.Port))
}

func (ep Endpoint) String() string {
	return ep.Protocol.String() + "://" + ep.addr()
}
