package protocol

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrUnknownType marks inbound messages whose type is not part of the
// protocol. Callers log and ignore these rather than treating them as fatal.
var ErrUnknownType = errors.New("protocol: unknown message type")

// Encode serializes an outbound message.
func Encode(msg any) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal message: %w", err)
	}
	return data, nil
}

// Decode parses an inbound frontend message into its typed form
// (ConnectionMessage, RouteChangeMessage or HeartbeatMessage). A missing or
// unrecognized type field yields an error; malformed JSON likewise.
func Decode(data []byte) (any, error) {
	var probe struct {
		Type MessageType `json:"type"`
	}
	if err := sonic.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("protocol: unmarshal message: %w", err)
	}
	if probe.Type == "" {
		return nil, fmt.Errorf("protocol: message missing type field")
	}

	switch probe.Type {
	case MsgConnection:
		var msg ConnectionMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal connection: %w", err)
		}
		return msg, nil
	case MsgRouteChange:
		var msg RouteChangeMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal route_change: %w", err)
		}
		return msg, nil
	case MsgHeartbeat:
		var msg HeartbeatMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			return nil, fmt.Errorf("protocol: unmarshal heartbeat: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, probe.Type)
	}
}
