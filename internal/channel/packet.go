package channel

import (
	"encoding/json"
	"errors"
	"fmt"
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
	socketAck          = '3'
	socketConnectError = '4'
)

var errEmptyPacket = errors.New("empty packet")

// packet is one decoded text frame.
type packet struct {
	engine byte
	socket byte
	event  string
	args   []json.RawMessage
	data   json.RawMessage
}

// payload returns the first event argument, or null when the event carried none.
func (p packet) payload() json.RawMessage {
	if len(p.args) == 0 {
		return json.RawMessage("null")
	}
	return p.args[0]
}

// openInfo is the handshake body of an Engine.IO open packet.
type openInfo struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
}

func parsePacket(frame string) (packet, error) {
	if frame == "" {
		return packet{}, errEmptyPacket
	}
	p := packet{engine: frame[0]}
	rest := frame[1:]

	switch p.engine {
	case engineOpen:
		p.data = json.RawMessage(rest)
		return p, nil
	case engineClose, enginePing, enginePong, engineNoop:
		return p, nil
	case engineMessage:
	default:
		return packet{}, fmt.Errorf("unknown engine packet type %q", p.engine)
	}

	if rest == "" {
		return packet{}, errors.New("message packet without socket type")
	}
	p.socket = rest[0]
	rest = rest[1:]

	// Optional namespace, terminated by a comma.
	if strings.HasPrefix(rest, "/") {
		if i := strings.IndexByte(rest, ','); i >= 0 {
			rest = rest[i+1:]
		} else {
			rest = ""
		}
	}
	// Optional ack id.
	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	rest = rest[i:]

	switch p.socket {
	case socketConnect, socketDisconnect, socketConnectError:
		if rest != "" {
			p.data = json.RawMessage(rest)
		}
		return p, nil
	case socketEvent, socketAck:
		var parts []json.RawMessage
		if err := json.Unmarshal([]byte(rest), &parts); err != nil {
			return packet{}, fmt.Errorf("decode event array: %w", err)
		}
		if p.socket == socketEvent {
			if len(parts) == 0 {
				return packet{}, errors.New("event packet without a name")
			}
			if err := json.Unmarshal(parts[0], &p.event); err != nil {
				return packet{}, fmt.Errorf("decode event name: %w", err)
			}
			parts = parts[1:]
		}
		p.args = parts
		return p, nil
	default:
		return packet{}, fmt.Errorf("unsupported socket packet type %q", p.socket)
	}
}

// encodeEvent builds the text frame for an event with an optional payload.
func encodeEvent(name string, payload any) (string, error) {
	parts := []any{name}
	if payload != nil {
		parts = append(parts, payload)
	}
	body, err := json.Marshal(parts)
	if err != nil {
		return "", err
	}
	return string([]byte{engineMessage, socketEvent}) + string(body), nil
}

func connectFrame() string {
	return string([]byte{engineMessage, socketConnect})
}

func pongFrame() string {
	return string([]byte{enginePong})
}
