// Package eventsub holds the wire types for the Twitch EventSub envelope as
// delivered over both the WebSocket transport and the legacy webhook ingress.
package eventsub

import (
	"encoding/json"
	"time"
)

type MessageType string

const (
	MessageTypeSessionWelcome   MessageType = "session_welcome"
	MessageTypeSessionKeepalive MessageType = "session_keepalive"
	MessageTypeNotification     MessageType = "notification"
	MessageTypeSessionReconnect MessageType = "session_reconnect"
	MessageTypeRevocation       MessageType = "revocation"
)

// SubscriptionType identifies an EventSub subscription type, e.g.
// "channel.chat.message".
type SubscriptionType string

const (
	SubChannelChatMessage    SubscriptionType = "channel.chat.message"
	SubChannelFollow         SubscriptionType = "channel.follow"
	SubChannelSubscribe      SubscriptionType = "channel.subscribe"
	SubChannelSubGift        SubscriptionType = "channel.subscription.gift"
	SubChannelRaid           SubscriptionType = "channel.raid"
	SubChannelPointsRedeemed SubscriptionType = "channel.channel_points_custom_reward_redemption.add"
	SubStreamOnline          SubscriptionType = "stream.online"
	SubStreamOffline         SubscriptionType = "stream.offline"
)

// Envelope is the outer frame of every EventSub message.
type Envelope struct {
	Metadata Metadata `json:"metadata"`
	Payload  Payload  `json:"payload"`
}

type Metadata struct {
	MessageID           string           `json:"message_id"`
	MessageType         MessageType      `json:"message_type"`
	MessageTimestamp    time.Time        `json:"message_timestamp"`
	SubscriptionType    SubscriptionType `json:"subscription_type,omitempty"`
	SubscriptionVersion string           `json:"subscription_version,omitempty"`
}

type Payload struct {
	Session      *Session        `json:"session,omitempty"`
	Subscription *Subscription   `json:"subscription,omitempty"`
	Event        json.RawMessage `json:"event,omitempty"`
	Challenge    string          `json:"challenge,omitempty"`
}

type Session struct {
	ID                      string     `json:"id"`
	Status                  string     `json:"status"`
	ConnectedAt             *time.Time `json:"connected_at,omitempty"`
	KeepaliveTimeoutSeconds int        `json:"keepalive_timeout_seconds"`
	ReconnectURL            string     `json:"reconnect_url,omitempty"`
}

type Subscription struct {
	ID        string           `json:"id"`
	Type      SubscriptionType `json:"type"`
	Version   string           `json:"version"`
	Status    string           `json:"status"`
	Condition map[string]any   `json:"condition,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// Close codes sent by the EventSub server when it terminates a connection.
const (
	CloseInternalServerError = 4000
	CloseClientSentTraffic   = 4001
	CloseFailedKeepalive     = 4002
	CloseConnectionUnused    = 4003
	CloseReconnectGrace      = 4004
	CloseNetworkTimeout      = 4005
	CloseNetworkError        = 4006
	CloseInvalidReconnectURL = 4007
)
