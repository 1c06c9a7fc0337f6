package workflow

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/streamforge/streamforge/internal/domain"
	"github.com/streamforge/streamforge/internal/template"
)

// Runner executes workflows: actions sorted by order ascending (ties keep
// store order), run strictly sequentially, each action's config resolved
// against the results accumulated so far.
type Runner struct {
	registry *Registry
	engine   *template.Engine
	client   template.PlatformAPI
	logger   *zap.Logger
}

func NewRunner(registry *Registry, engine *template.Engine, client template.PlatformAPI, logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		registry: registry,
		engine:   engine,
		client:   client,
		logger:   logger,
	}
}

// Run executes one workflow against its trigger event. The first action
// error aborts the remaining actions of this run only.
func (r *Runner) Run(ctx context.Context, wf domain.Workflow, trigger map[string]any) error {
	actions := make([]domain.WorkflowAction, len(wf.Actions))
	copy(actions, wf.Actions)
	sort.SliceStable(actions, func(i, j int) bool { return actions[i].Order < actions[j].Order })

	triggerKey := wf.TriggerID
	if triggerKey == "" {
		triggerKey = "trigger"
	}
	results := map[string]any{triggerKey: trigger}

	channelID := wf.ChannelID
	if channelID == "" {
		channelID = triggerChannel(trigger)
	}

	r.logger.Info("running workflow",
		zap.String("workflow_id", wf.ID),
		zap.String("workflow", wf.Name),
		zap.Int("actions", len(actions)))

	for _, action := range actions {
		tc := &template.Context{
			Client:    r.client,
			ChannelID: channelID,
			Event:     trigger,
			Results:   results,
		}
		config, err := r.engine.ResolveConfig(ctx, action.Config, tc)
		if err != nil {
			return fmt.Errorf("resolve config for action %s: %w", action.ID, err)
		}

		out, err := r.registry.Dispatch(ctx, action.Module, action.Type, Invocation{
			ChannelID: channelID,
			Config:    config,
			Trigger:   trigger,
			Results:   results,
		})
		if err != nil {
			return fmt.Errorf("action %s (%s.%s): %w", action.ID, action.Module, action.Type, err)
		}
		results[action.ID] = out
	}
	return nil
}

func triggerChannel(trigger map[string]any) string {
	for _, key := range []string{"broadcaster_user_id", "to_broadcaster_user_id"} {
		if v, ok := trigger[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
