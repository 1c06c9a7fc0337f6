package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/streamforge/streamforge/internal/domain"
	"github.com/streamforge/streamforge/internal/store"
	"github.com/streamforge/streamforge/pkg/eventsub"
)

type fakeSource struct {
	mu        sync.Mutex
	workflows map[string][]domain.Workflow // keyed by eventType
	wfErr     error
	events    []store.EventLog
	logErr    error
}

func (f *fakeSource) WorkflowsByTrigger(ctx context.Context, channelID, eventType string) ([]domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.wfErr != nil {
		return nil, f.wfErr
	}
	return f.workflows[eventType], nil
}

func (f *fakeSource) InsertEventLog(ctx context.Context, entry *store.EventLog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logErr != nil {
		return f.logErr
	}
	f.events = append(f.events, *entry)
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	runs     []string // workflow ids in run order
	triggers []map[string]any
	failIDs  map[string]bool
}

func (f *fakeRunner) Run(ctx context.Context, wf domain.Workflow, trigger map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, wf.ID)
	f.triggers = append(f.triggers, trigger)
	if f.failIDs[wf.ID] {
		return errors.New("action exploded")
	}
	return nil
}

func TestRegistryDispatchCallsHandler(t *testing.T) {
	src := &fakeSource{}
	reg := NewRegistry(src, &fakeRunner{}, nil)

	var gotUser string
	reg.Register(eventsub.SubChannelChatMessage, Typed(func(ctx context.Context, e domain.ChatMessageEvent) error {
		gotUser = e.ChatterUserLogin
		return nil
	}))

	payload := json.RawMessage(`{"broadcaster_user_id":"123","chatter_user_login":"alice","message":{"text":"!hello"}}`)
	reg.Dispatch(context.Background(), eventsub.SubChannelChatMessage, payload)

	if gotUser != "alice" {
		t.Fatalf("handler saw user %q, want alice", gotUser)
	}
	if len(src.events) != 1 {
		t.Fatalf("event logs = %d, want 1", len(src.events))
	}
	if src.events[0].ChannelID != "123" || src.events[0].EventType != "channel.chat.message" {
		t.Fatalf("event log = %+v", src.events[0])
	}
}

func TestRegistryDispatchUnhandledTypeIsNoop(t *testing.T) {
	src := &fakeSource{}
	runner := &fakeRunner{}
	reg := NewRegistry(src, runner, nil)

	reg.Dispatch(context.Background(), eventsub.SubStreamOnline,
		json.RawMessage(`{"broadcaster_user_id":"123"}`))

	if len(runner.runs) != 0 {
		t.Fatalf("runs = %d, want 0", len(runner.runs))
	}
	if len(src.events) != 1 {
		t.Fatalf("event logs = %d, want 1", len(src.events))
	}
}

func TestRegistryDispatchRunsWorkflows(t *testing.T) {
	src := &fakeSource{
		workflows: map[string][]domain.Workflow{
			"channel.follow": {
				{ID: "wf-1", ChannelID: "123"},
				{ID: "wf-2", ChannelID: "123"},
			},
		},
	}
	runner := &fakeRunner{failIDs: map[string]bool{"wf-1": true}}
	reg := NewRegistry(src, runner, nil)

	payload := json.RawMessage(`{"broadcaster_user_id":"123","user_login":"bob"}`)
	reg.Dispatch(context.Background(), eventsub.SubChannelFollow, payload)

	// wf-1 failing must not stop wf-2.
	if len(runner.runs) != 2 || runner.runs[0] != "wf-1" || runner.runs[1] != "wf-2" {
		t.Fatalf("runs = %v, want [wf-1 wf-2]", runner.runs)
	}
	if runner.triggers[0]["user_login"] != "bob" {
		t.Fatalf("trigger = %v", runner.triggers[0])
	}
}

func TestRegistryDispatchRaidChannelFromTarget(t *testing.T) {
	src := &fakeSource{
		workflows: map[string][]domain.Workflow{
			"channel.raid": {{ID: "wf-raid", ChannelID: "123"}},
		},
	}
	runner := &fakeRunner{}
	reg := NewRegistry(src, runner, nil)

	payload := json.RawMessage(`{"from_broadcaster_user_id":"999","to_broadcaster_user_id":"123","viewers":42}`)
	reg.Dispatch(context.Background(), eventsub.SubChannelRaid, payload)

	if len(runner.runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(runner.runs))
	}
	if len(src.events) != 1 || src.events[0].ChannelID != "123" {
		t.Fatalf("event log channel = %+v", src.events)
	}
}

func TestRegistryDispatchSurvivesFailures(t *testing.T) {
	src := &fakeSource{
		logErr: errors.New("disk full"),
		wfErr:  errors.New("db gone"),
	}
	reg := NewRegistry(src, &fakeRunner{}, nil)
	reg.Register(eventsub.SubChannelChatMessage, func(ctx context.Context, payload json.RawMessage) error {
		return errors.New("handler broke")
	})

	// Nothing here may panic or propagate.
	reg.Dispatch(context.Background(), eventsub.SubChannelChatMessage,
		json.RawMessage(`{"broadcaster_user_id":"123"}`))
}

func TestTypedRejectsBadPayload(t *testing.T) {
	h := Typed(func(ctx context.Context, e domain.ChatMessageEvent) error { return nil })
	if err := h(context.Background(), json.RawMessage(`{"message":"not-an-object"}`)); err == nil {
		t.Fatal("expected decode error")
	}
}
