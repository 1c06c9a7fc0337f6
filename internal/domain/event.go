package domain

// Badge is a chat badge attached to a message, e.g. set "moderator".
type Badge struct {
	SetID string `json:"set_id"`
	ID    string `json:"id"`
	Info  string `json:"info,omitempty"`
}

// ChatMessageEvent is the decoded payload of a channel.chat.message
// notification.
type ChatMessageEvent struct {
	BroadcasterUserID    string      `json:"broadcaster_user_id"`
	BroadcasterUserLogin string      `json:"broadcaster_user_login"`
	BroadcasterUserName  string      `json:"broadcaster_user_name"`
	ChatterUserID        string      `json:"chatter_user_id"`
	ChatterUserLogin     string      `json:"chatter_user_login"`
	ChatterUserName      string      `json:"chatter_user_name"`
	MessageID            string      `json:"message_id"`
	Message              ChatMessage `json:"message"`
	Badges               []Badge     `json:"badges,omitempty"`
}

type ChatMessage struct {
	Text string `json:"text"`
}

// HasBadge reports whether the chatter carries a badge with the given set id.
func (e *ChatMessageEvent) HasBadge(setID string) bool {
	for _, b := range e.Badges {
		if b.SetID == setID {
			return true
		}
	}
	return false
}

// SubscribeEvent is the decoded payload of a channel.subscribe notification.
type SubscribeEvent struct {
	BroadcasterUserID   string `json:"broadcaster_user_id"`
	BroadcasterUserName string `json:"broadcaster_user_name"`
	UserID              string `json:"user_id"`
	UserLogin           string `json:"user_login"`
	UserName            string `json:"user_name"`
	Tier                string `json:"tier"`
	IsGift              bool   `json:"is_gift"`
}

// FollowEvent is the decoded payload of a channel.follow notification.
type FollowEvent struct {
	BroadcasterUserID   string `json:"broadcaster_user_id"`
	BroadcasterUserName string `json:"broadcaster_user_name"`
	UserID              string `json:"user_id"`
	UserLogin           string `json:"user_login"`
	UserName            string `json:"user_name"`
	FollowedAt          string `json:"followed_at"`
}

// RaidEvent is the decoded payload of a channel.raid notification.
type RaidEvent struct {
	FromBroadcasterUserID   string `json:"from_broadcaster_user_id"`
	FromBroadcasterUserName string `json:"from_broadcaster_user_name"`
	ToBroadcasterUserID     string `json:"to_broadcaster_user_id"`
	ToBroadcasterUserName   string `json:"to_broadcaster_user_name"`
	Viewers                 int    `json:"viewers"`
}

// RedemptionEvent is the decoded payload of a channel points custom reward
// redemption notification.
type RedemptionEvent struct {
	BroadcasterUserID   string `json:"broadcaster_user_id"`
	BroadcasterUserName string `json:"broadcaster_user_name"`
	UserID              string `json:"user_id"`
	UserName            string `json:"user_name"`
	UserInput           string `json:"user_input"`
	Reward              struct {
		ID     string `json:"id"`
		Title  string `json:"title"`
		Cost   int    `json:"cost"`
		Prompt string `json:"prompt"`
	} `json:"reward"`
}
