package domain

// Workflow is an ordered, fallible sequence of actions bound to one or more
// trigger event types.
type Workflow struct {
	ID        string
	ChannelID string
	Name      string
	TriggerID string
	Actions   []WorkflowAction
}

// WorkflowAction is one step in a workflow. Order determines execution
// position; ties are broken by store order.
type WorkflowAction struct {
	ID     string
	Order  int
	Module string
	Type   string
	Config map[string]any
}
