package hub

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Engine.IO v4 packet types.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket.IO v5 packet types, carried inside an Engine.IO message.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketConnectError = '4'
)

var ErrMalformedFrame = errors.New("malformed socket.io frame")

// Packet is one decoded websocket text frame.
type Packet struct {
	Engine byte
	Socket byte
	Event  string
	Data   json.RawMessage
}

// EncodeEvent frames an event for the default namespace: 42["event",body].
func EncodeEvent(event string, body interface{}) ([]byte, error) {
	args := []interface{}{event}
	if body != nil {
		args = append(args, body)
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	out := make([]byte, 0, len(payload)+2)
	out = append(out, engineMessage, socketEvent)
	return append(out, payload...), nil
}

// DecodePacket parses a websocket text frame.
func DecodePacket(frame []byte) (Packet, error) {
	if len(frame) == 0 {
		return Packet{}, ErrMalformedFrame
	}
	p := Packet{Engine: frame[0]}
	rest := frame[1:]
	if p.Engine != engineMessage {
		if len(rest) > 0 {
			p.Data = json.RawMessage(rest)
		}
		return p, nil
	}
	if len(rest) == 0 {
		return Packet{}, ErrMalformedFrame
	}
	p.Socket = rest[0]
	rest = rest[1:]

	if p.Socket != socketEvent {
		if len(rest) > 0 {
			p.Data = json.RawMessage(rest)
		}
		return p, nil
	}

	// Namespaced and acknowledged events are not used by the hub.
	if len(rest) > 0 && rest[0] == '/' {
		return Packet{}, fmt.Errorf("%w: namespaced event", ErrMalformedFrame)
	}
	rest = bytes.TrimLeft(rest, "0123456789")

	var args []json.RawMessage
	if err := json.Unmarshal(rest, &args); err != nil || len(args) == 0 {
		return Packet{}, ErrMalformedFrame
	}
	if err := json.Unmarshal(args[0], &p.Event); err != nil {
		return Packet{}, ErrMalformedFrame
	}
	if len(args) > 1 {
		p.Data = args[1]
	}
	return p, nil
}

// SocketURL turns a hub endpoint into its Engine.IO websocket URL.
func SocketURL(endpoint string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return "", fmt.Errorf("parse hub endpoint: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported hub endpoint scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("hub endpoint %q has no host", endpoint)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/socket.io/"
	q := u.Query()
	q.Set("EIO", "4")
	q.Set("transport", "websocket")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// HTTPBase derives the REST base from a hub endpoint by swapping ws for http
// and wss for https.
func HTTPBase(endpoint string) string {
	base := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	switch {
	case strings.HasPrefix(base, "ws://"):
		return "http://" + strings.TrimPrefix(base, "ws://")
	case strings.HasPrefix(base, "wss://"):
		return "https://" + strings.TrimPrefix(base, "wss://")
	}
	return base
}
