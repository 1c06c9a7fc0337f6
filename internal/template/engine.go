// Package template resolves ${ref} variable references inside command
// responses and workflow action configs. A ref is either namespace.key
// (namespace defaults to "twitch") or a prior action id followed by a path
// into that action's stored result.
package template

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrRequirementUnmet is returned when a template references a namespace
// whose declared context requirements the caller did not supply.
var ErrRequirementUnmet = errors.New("namespace requirement unmet")

// Requirement names one piece of caller-supplied context a namespace needs.
type Requirement string

const (
	RequireClient  Requirement = "client"
	RequireEvent   Requirement = "event"
	RequireChannel Requirement = "channel"
)

// PlatformAPI is the slice of the platform client variable resolvers use.
type PlatformAPI interface {
	FollowerCount(ctx context.Context, broadcasterID string) (int, error)
	SubscriberCount(ctx context.Context, broadcasterID string) (int, error)
	IsFollower(ctx context.Context, broadcasterID, userID string) (bool, error)
}

// Context carries everything a resolution pass may need. Results holds prior
// action outputs keyed by action id; Event is the trigger payload.
type Context struct {
	Client    PlatformAPI
	ChannelID string
	Event     map[string]any
	Results   map[string]any
}

// VarFunc resolves one variable within a namespace.
type VarFunc func(ctx context.Context, tc *Context) (any, error)

// Namespace groups variable resolvers and declares what context they need.
type Namespace struct {
	Name     string
	Requires []Requirement
	Vars     map[string]VarFunc
}

const defaultNamespace = "twitch"

var tokenRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// Engine holds the registered namespaces. Safe for concurrent use after all
// namespaces are registered.
type Engine struct {
	namespaces map[string]*Namespace
	logger     *zap.Logger
}

func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		namespaces: make(map[string]*Namespace),
		logger:     logger,
	}
}

func (e *Engine) RegisterNamespace(ns *Namespace) {
	e.namespaces[ns.Name] = ns
}

// ResolveString substitutes every ${ref} token in s. Unresolvable refs
// become empty strings; only unmet namespace requirements abort the pass.
func (e *Engine) ResolveString(ctx context.Context, s string, tc *Context) (string, error) {
	matches := tokenRe.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		val, err := e.resolveRef(ctx, s[m[2]:m[3]], tc)
		if err != nil {
			return "", err
		}
		b.WriteString(stringify(val))
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

// ResolveValue resolves a config value recursively. A string that is exactly
// one ${ref} token resolves in raw mode and keeps the referenced value's
// native type; all other string leaves go through ResolveString.
func (e *Engine) ResolveValue(ctx context.Context, v any, tc *Context) (any, error) {
	switch val := v.(type) {
	case string:
		if ref, ok := rawToken(val); ok {
			return e.resolveRef(ctx, ref, tc)
		}
		return e.ResolveString(ctx, val, tc)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, nested := range val {
			resolved, err := e.ResolveValue(ctx, nested, tc)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, nested := range val {
			resolved, err := e.ResolveValue(ctx, nested, tc)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// ResolveConfig resolves every value of an action config map.
func (e *Engine) ResolveConfig(ctx context.Context, config map[string]any, tc *Context) (map[string]any, error) {
	resolved, err := e.ResolveValue(ctx, any(config), tc)
	if err != nil {
		return nil, err
	}
	out, _ := resolved.(map[string]any)
	return out, nil
}

// rawToken reports whether s is exactly one ${ref} token and returns the ref.
func rawToken(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	if inner == "" || strings.ContainsAny(inner, "${}") {
		return "", false
	}
	return inner, true
}

func (e *Engine) resolveRef(ctx context.Context, ref string, tc *Context) (any, error) {
	segments := strings.Split(ref, ".")

	// A UUID first segment addresses a prior action's result.
	if _, err := uuid.Parse(segments[0]); err == nil {
		return resultPath(tc, segments), nil
	}

	nsName := defaultNamespace
	key := ref
	if len(segments) > 1 {
		nsName = segments[0]
		key = strings.Join(segments[1:], ".")
	}

	ns, ok := e.namespaces[nsName]
	if !ok {
		e.logger.Debug("unknown template namespace", zap.String("namespace", nsName))
		return "", nil
	}
	if err := checkRequirements(ns, tc); err != nil {
		return nil, err
	}

	fn, ok := ns.Vars[key]
	if !ok {
		e.logger.Debug("unknown template variable",
			zap.String("namespace", nsName), zap.String("key", key))
		return "", nil
	}
	val, err := fn(ctx, tc)
	if err != nil {
		// Per-reference failures degrade to empty, never abort the template.
		e.logger.Warn("template variable failed",
			zap.String("namespace", nsName), zap.String("key", key), zap.Error(err))
		return "", nil
	}
	return val, nil
}

func resultPath(tc *Context, segments []string) any {
	if tc == nil || tc.Results == nil {
		return ""
	}
	current, ok := tc.Results[segments[0]]
	if !ok {
		return ""
	}
	for _, seg := range segments[1:] {
		m, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current, ok = m[seg]
		if !ok {
			return ""
		}
	}
	return current
}

func checkRequirements(ns *Namespace, tc *Context) error {
	for _, req := range ns.Requires {
		ok := false
		if tc != nil {
			switch req {
			case RequireClient:
				ok = tc.Client != nil
			case RequireEvent:
				ok = tc.Event != nil
			case RequireChannel:
				ok = tc.ChannelID != ""
			}
		}
		if !ok {
			return fmt.Errorf("%w: namespace %q needs %s", ErrRequirementUnmet, ns.Name, req)
		}
	}
	return nil
}

// stringify renders a resolved value for substitution into a string
// template. Non-strings are JSON-encoded.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		buf, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(buf)
	}
}
