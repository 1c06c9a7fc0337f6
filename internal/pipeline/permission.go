package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/streamforge/streamforge/internal/domain"
)

// checkPermission decides whether the chatter may run the command. The
// broadcaster is always allowed; a command with no roles, or with the
// everyone role, allows anyone. The follower lookup is an API call, so it
// only happens when the follower role is actually required.
func (p *Pipeline) checkPermission(ctx context.Context, cmd *domain.Command, event *domain.ChatMessageEvent) (bool, string, error) {
	if event.ChatterUserID == event.BroadcasterUserID {
		return true, "", nil
	}
	if len(cmd.Roles) == 0 {
		return true, "", nil
	}

	held := badgeRoles(event)
	for _, required := range cmd.Roles {
		if required == domain.RoleEveryone {
			return true, "", nil
		}
		if held[required] {
			return true, "", nil
		}
		if required == domain.RoleFollower {
			follows, err := p.client.IsFollower(ctx, event.BroadcasterUserID, event.ChatterUserID)
			if err != nil {
				return false, "", err
			}
			if follows {
				return true, "", nil
			}
		}
	}

	return false, denyReason(cmd.Roles), nil
}

func badgeRoles(event *domain.ChatMessageEvent) map[domain.Role]bool {
	held := make(map[domain.Role]bool)
	for badge, role := range map[string]domain.Role{
		"broadcaster": domain.RoleBroadcaster,
		"moderator":   domain.RoleModerator,
		"vip":         domain.RoleVIP,
		"subscriber":  domain.RoleSubscriber,
		"founder":     domain.RoleFounder,
	} {
		if event.HasBadge(badge) {
			held[role] = true
		}
	}
	// Founders are subscribers too; their badge replaces the subscriber one.
	if held[domain.RoleFounder] {
		held[domain.RoleSubscriber] = true
	}
	return held
}

func denyReason(roles []domain.Role) string {
	names := make([]string, len(roles))
	for i, role := range roles {
		names[i] = string(role)
	}
	return fmt.Sprintf("You don't have permission to use this command. Required: %s", strings.Join(names, ", "))
}
