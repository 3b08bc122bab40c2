package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownProtocol is returned when a protocol name is not recognised.
var ErrUnknownProtocol = errors.New("unknown protocol")

// Protocol is the wire protocol used to reach an agent.
type Protocol int

const (
	ProtocolHTTP Protocol = iota
	ProtocolSSE
	ProtocolWebSocket
)

// String returns the canonical protocol name.
func (p Protocol) String() string {
	switch p {
	case ProtocolHTTP:
		return "http"
	case ProtocolSSE:
		return "sse"
	case ProtocolWebSocket:
		return "websocket"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Valid reports whether p is one of the known protocols.
func (p Protocol) Valid() bool {
	return p >= ProtocolHTTP && p <= ProtocolWebSocket
}

// ParseProtocol converts a protocol name to a Protocol. Matching is
// case-insensitive, "ws" is accepted for websocket and an empty name
// means http.
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "http", "https":
		return ProtocolHTTP, nil
	case "sse":
		return ProtocolSSE, nil
	case "websocket", "ws", "wss":
		return ProtocolWebSocket, nil
	default:
		return ProtocolHTTP, fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Protocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownProtocol, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Protocol) UnmarshalText(text []byte) error {
	parsed, err := ParseProtocol(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
