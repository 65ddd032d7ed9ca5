package protocol

// MessageType enumerates all presentation channel message types.
type MessageType string

const (
	// Frontend -> Agent
	MsgConnection  MessageType = "connection"
	MsgRouteChange MessageType = "route_change"
	MsgHeartbeat   MessageType = "heartbeat"

	// Agent -> Frontend
	MsgGoto MessageType = "goto"
	MsgHint MessageType = "hint"
)

// --- Frontend -> Agent messages ---

// ConnectionMessage is sent once by the frontend after (re)connecting and
// carries the full route set plus the route currently on screen.
type ConnectionMessage struct {
	Type         MessageType `json:"type"`
	Routes       []string    `json:"routes"`
	CurrentRoute string      `json:"currentRoute"`
}

// RouteChangeMessage reports a frontend-initiated navigation.
type RouteChangeMessage struct {
	Type         MessageType `json:"type"`
	CurrentRoute string      `json:"currentRoute"`
}

// HeartbeatMessage is a periodic liveness signal. CurrentRoute doubles as a
// navigation resync fallback when no route_change has been observed.
type HeartbeatMessage struct {
	Type         MessageType `json:"type"`
	CurrentRoute string      `json:"currentRoute"`
}

// --- Agent -> Frontend messages ---

// GotoMessage instructs the frontend to navigate to a route.
type GotoMessage struct {
	Type  MessageType `json:"type"`
	Route string      `json:"route"`
}

// HintMessage instructs the frontend to display a transient notification.
type HintMessage struct {
	Type MessageType `json:"type"`
	Text string      `json:"text"`
}

// NewGoto builds an outbound goto message.
func NewGoto(route string) GotoMessage {
	return GotoMessage{Type: MsgGoto, Route: route}
}

// NewHint builds an outbound hint message.
func NewHint(text string) HintMessage {
	return HintMessage{Type: MsgHint, Text: text}
}
