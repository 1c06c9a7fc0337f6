package domain

import "time"

// Role is a chatter role a command permission can require.
type Role string

const (
	RoleEveryone    Role = "everyone"
	RoleFollower    Role = "follower"
	RoleSubscriber  Role = "subscriber"
	RoleFounder     Role = "founder"
	RoleVIP         Role = "vip"
	RoleModerator   Role = "moderator"
	RoleBroadcaster Role = "broadcaster"
)

// CooldownScope says who an active cooldown blocks.
type CooldownScope string

const (
	CooldownScopeUser   CooldownScope = "user"
	CooldownScopeGlobal CooldownScope = "global"
)

// Command is a chat-triggered command, read from the store at dispatch time and
// immutable for the duration of one invocation.
type Command struct {
	ID        string
	ChannelID string
	Trigger   string
	Response  string
	Roles     []Role
	Cooldowns []CooldownRule
	Action    *ActionRef
}

type CooldownRule struct {
	Scope           CooldownScope
	DurationSeconds int
}

// ActionRef points a command at a single registered action handler.
type ActionRef struct {
	Module string
	Action string
	Config map[string]any
}

// ActiveCooldown is a persisted cooldown row. SubjectID is empty for the
// global scope.
type ActiveCooldown struct {
	ID        int64
	CommandID string
	Scope     CooldownScope
	SubjectID string
	ExpiresAt time.Time
}

func (c ActiveCooldown) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}
