package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/streamforge/streamforge/internal/domain"
)

// WorkflowsByTrigger returns every workflow on the channel that has a trigger
// for the given event type, with actions in store order (the runner sorts by
// the explicit order field; store order breaks ties).
func (s *SQLiteStore) WorkflowsByTrigger(ctx context.Context, channelID, eventType string) ([]domain.Workflow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT w.id, w.name, t.id
		 FROM workflows w
		 JOIN workflow_triggers t ON t.workflow_id = w.id
		 WHERE w.channel_id = ? AND t.event_type = ?`, channelID, eventType)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows: %w", err)
	}
	defer rows.Close()

	var workflows []domain.Workflow
	for rows.Next() {
		wf := domain.Workflow{ChannelID: channelID}
		if err := rows.Scan(&wf.ID, &wf.Name, &wf.TriggerID); err != nil {
			return nil, fmt.Errorf("failed to scan workflow row: %w", err)
		}
		workflows = append(workflows, wf)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range workflows {
		actions, err := s.workflowActions(ctx, workflows[i].ID)
		if err != nil {
			return nil, err
		}
		workflows[i].Actions = actions
	}
	return workflows, nil
}

func (s *SQLiteStore) workflowActions(ctx context.Context, workflowID string) ([]domain.WorkflowAction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ord, module, type, config
		 FROM workflow_actions WHERE workflow_id = ? ORDER BY rowid`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow actions: %w", err)
	}
	defer rows.Close()

	var actions []domain.WorkflowAction
	for rows.Next() {
		var a domain.WorkflowAction
		var config string
		if err := rows.Scan(&a.ID, &a.Order, &a.Module, &a.Type, &config); err != nil {
			return nil, fmt.Errorf("failed to scan workflow action row: %w", err)
		}
		if err := json.Unmarshal([]byte(config), &a.Config); err != nil {
			return nil, fmt.Errorf("failed to decode config for action %s: %w", a.ID, err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
