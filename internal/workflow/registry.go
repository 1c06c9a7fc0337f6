// Package workflow executes ordered action lists against a flat capability
// registry of module/action handlers.
package workflow

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Invocation is everything one action execution sees: its resolved config,
// the trigger event, and the results of prior actions in the same run.
type Invocation struct {
	ChannelID string
	Config    map[string]any
	Trigger   map[string]any
	Results   map[string]any
}

// Handler executes one action. Its return value is stored in the run's
// results map under the action id; returning nil is fine.
type Handler func(ctx context.Context, inv Invocation) (any, error)

// Registry maps module name to action name to handler. Constructed once at
// startup and passed to everything that registers or dispatches actions.
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	modules map[string]map[string]Handler
}

func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		logger:  logger,
		modules: make(map[string]map[string]Handler),
	}
}

func (r *Registry) Register(module, action string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	actions, ok := r.modules[module]
	if !ok {
		actions = make(map[string]Handler)
		r.modules[module] = actions
	}
	actions[action] = h
}

// Dispatch runs the handler for (module, action). An unknown module or
// action is a logged no-op that yields nil.
func (r *Registry) Dispatch(ctx context.Context, module, action string, inv Invocation) (any, error) {
	r.mu.RLock()
	var h Handler
	if actions, ok := r.modules[module]; ok {
		h = actions[action]
	}
	r.mu.RUnlock()

	if h == nil {
		r.logger.Warn("no handler registered",
			zap.String("module", module), zap.String("action", action))
		return nil, nil
	}
	return h(ctx, inv)
}
