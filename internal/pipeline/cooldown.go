package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/streamforge/streamforge/internal/domain"
)

// cooldownRemaining returns how long the command stays blocked for this
// user, or zero when it may run. The global scope is checked before the user
// scope: an active global cooldown blocks everyone, including the user who
// started it.
func (p *Pipeline) cooldownRemaining(ctx context.Context, cmd *domain.Command, userID string) (time.Duration, error) {
	if len(cmd.Cooldowns) == 0 {
		return 0, nil
	}

	active, err := p.store.ActiveCooldowns(ctx, cmd.ID)
	if err != nil {
		return 0, err
	}
	now := p.now()

	for _, row := range active {
		if row.Scope == domain.CooldownScopeGlobal && !row.Expired(now) {
			return row.ExpiresAt.Sub(now), nil
		}
	}
	for _, row := range active {
		if row.Scope == domain.CooldownScopeUser && row.SubjectID == userID && !row.Expired(now) {
			return row.ExpiresAt.Sub(now), nil
		}
	}
	return 0, nil
}

// activateCooldowns arms every configured cooldown rule. All rules were
// confirmed inactive before this is called; a store.ErrOnCooldown here means
// a concurrent invocation won the activation race.
func (p *Pipeline) activateCooldowns(ctx context.Context, cmd *domain.Command, userID string) error {
	now := p.now()
	for _, rule := range cmd.Cooldowns {
		subject := ""
		if rule.Scope == domain.CooldownScopeUser {
			subject = userID
		}
		expiresAt := now.Add(time.Duration(rule.DurationSeconds) * time.Second)
		if err := p.store.ActivateCooldown(ctx, cmd.ID, rule.Scope, subject, expiresAt); err != nil {
			return err
		}
	}
	return nil
}

func cooldownReply(remaining time.Duration) string {
	secs := int((remaining + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("This command is on cooldown. Try again in %ds.", secs)
}
