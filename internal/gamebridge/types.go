// Package gamebridge pushes game effect events to connected overlay and
// game-client WebSocket consumers. Consumers subscribe to channel ids (or
// "*" for everything) and receive effects as they fire.
package gamebridge

// Event is one effect pushed to game clients, e.g. fireworks or a mob spawn.
type Event struct {
	Type      string         `json:"type"`
	ChannelID string         `json:"channel_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

type ClientMessageType string

const (
	ClientMessageTypeSubscribe   ClientMessageType = "subscribe"
	ClientMessageTypeUnsubscribe ClientMessageType = "unsubscribe"
	ClientMessageTypePing        ClientMessageType = "ping"
)

type ServerMessageType string

const (
	ServerMessageTypeEvent ServerMessageType = "event"
	ServerMessageTypeError ServerMessageType = "error"
	ServerMessageTypePong  ServerMessageType = "pong"
)

type ClientMessage struct {
	Type   ClientMessageType `json:"type"`
	Topics []string          `json:"topics,omitempty"`
}

type ServerMessage struct {
	Type    ServerMessageType `json:"type"`
	Topic   string            `json:"topic,omitempty"`
	Event   *Event            `json:"event,omitempty"`
	Message string            `json:"message,omitempty"`
}

// TopicAll subscribes a client to events from every channel.
const TopicAll = "*"
