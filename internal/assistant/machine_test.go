package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/orbitworks/orbit-agent/internal/llm"
	"github.com/orbitworks/orbit-agent/internal/profile"
	"github.com/orbitworks/orbit-agent/internal/store"
)

// fakeModel plays back scripted completions and records every request.
type fakeModel struct {
	script []llm.Completion
	errs   []error
	next   int
	reqs   []llm.CompleteRequest
}

func (f *fakeModel) Complete(ctx context.Context, req llm.CompleteRequest) (llm.Completion, error) {
	f.reqs = append(f.reqs, req)
	if f.next >= len(f.script) {
		return llm.Completion{}, fmt.Errorf("fake model script exhausted")
	}
	i := f.next
	f.next++
	if i < len(f.errs) && f.errs[i] != nil {
		return llm.Completion{}, f.errs[i]
	}
	return f.script[i], nil
}

type machineFixture struct {
	db      *store.Store
	model   *fakeModel
	machine *Machine
	// consolidation replies, consumed in order; empty means error out.
	consolidations []string
	consolidateN   int
}

func newFixture(t *testing.T, model *fakeModel, opts Options) *machineFixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "orbit.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	fx := &machineFixture{db: db, model: model}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	profiles := profile.NewManager(db, func(ctx context.Context, prompt string) (string, error) {
		if fx.consolidateN >= len(fx.consolidations) {
			return "", fmt.Errorf("no consolidation reply scripted")
		}
		reply := fx.consolidations[fx.consolidateN]
		fx.consolidateN++
		return reply, nil
	}, logger)

	opts.Store = db
	opts.Model = model
	opts.ModelName = "test-model"
	opts.Profiles = profiles
	opts.Logger = logger
	m, err := NewMachine(opts)
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	fx.machine = m
	return fx
}

func (fx *machineFixture) loadState(t *testing.T, userKey string) *ThreadState {
	t.Helper()
	cp, err := fx.db.GetLatestCheckpoint(context.Background(), userKey, "")
	if err != nil {
		t.Fatalf("GetLatestCheckpoint: %v", err)
	}
	if cp == nil {
		t.Fatalf("no checkpoint for %s", userKey)
	}
	var st ThreadState
	if err := json.Unmarshal(cp.State, &st); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return &st
}

func TestHandleMessage_PlainTurn(t *testing.T) {
	t.Parallel()
	model := &fakeModel{script: []llm.Completion{{Text: "Hello there!", FinishReason: "stop"}}}
	fx := newFixture(t, model, Options{})
	ctx := context.Background()

	reply, err := fx.machine.HandleMessage(ctx, "u1", "hi")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "Hello there!" {
		t.Fatalf("reply = %q", reply)
	}

	// Agent and check_memory both checkpointed.
	cps, err := fx.db.ListCheckpoints(ctx, "u1", "", 0)
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(cps) != 2 {
		t.Fatalf("expected 2 checkpoints, got %d", len(cps))
	}
	if cps[0].ParentCheckpointID != cps[1].CheckpointID {
		t.Fatalf("parent linkage broken: %+v", cps)
	}

	st := fx.loadState(t, "u1")
	if len(st.Messages) != 2 || st.Turns != 1 {
		t.Fatalf("state = %+v", st)
	}
	if st.Messages[0].Role != llm.RoleUser || st.Messages[1].Role != llm.RoleAssistant {
		t.Fatalf("roles = %q %q", st.Messages[0].Role, st.Messages[1].Role)
	}

	// The model saw a fresh system prompt with the default profile text.
	if len(model.reqs) != 1 {
		t.Fatalf("model calls = %d", len(model.reqs))
	}
	sys := model.reqs[0].Messages[0]
	if sys.Role != llm.RoleSystem || !strings.Contains(sys.Text, profile.DefaultText) {
		t.Fatalf("system message = %+v", sys)
	}
}

func TestHandleMessage_ResumesFromCheckpoint(t *testing.T) {
	t.Parallel()
	model := &fakeModel{script: []llm.Completion{
		{Text: "First reply."},
		{Text: "Second reply."},
	}}
	fx := newFixture(t, model, Options{})
	ctx := context.Background()

	if _, err := fx.machine.HandleMessage(ctx, "u1", "one"); err != nil {
		t.Fatalf("turn 1: %v", err)
	}
	if _, err := fx.machine.HandleMessage(ctx, "u1", "two"); err != nil {
		t.Fatalf("turn 2: %v", err)
	}

	// The second model call must include the full prior conversation.
	second := model.reqs[1].Messages
	var texts []string
	for _, m := range second {
		texts = append(texts, m.Text)
	}
	joined := strings.Join(texts, "\n")
	for _, want := range []string{"one", "First reply.", "two"} {
		if !strings.Contains(joined, want) {
			t.Fatalf("second request missing %q:\n%s", want, joined)
		}
	}

	st := fx.loadState(t, "u1")
	if st.Turns != 2 || len(st.Messages) != 4 {
		t.Fatalf("state = turns %d, %d messages", st.Turns, len(st.Messages))
	}
}

func TestHandleMessage_ToolRoundTrip(t *testing.T) {
	t.Parallel()
	model := &fakeModel{script: []llm.Completion{
		{ToolCalls: []llm.ToolCall{{
			ID:   "call_1",
			Name: "update_profile",
			Args: json.RawMessage(`{"fact":"allergic to peanuts"}`),
		}}, FinishReason: "tool_calls"},
		{Text: "Noted, I'll remember that."},
	}}
	fx := newFixture(t, model, Options{})
	ctx := context.Background()

	reply, err := fx.machine.HandleMessage(ctx, "u1", "I'm allergic to peanuts")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "Noted, I'll remember that." {
		t.Fatalf("reply = %q", reply)
	}

	st := fx.loadState(t, "u1")
	// user, assistant(tool call), tool result, assistant
	if len(st.Messages) != 4 {
		t.Fatalf("messages = %d", len(st.Messages))
	}
	toolMsg := st.Messages[2]
	if toolMsg.Role != llm.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("tool message = %+v", toolMsg)
	}
	if toolMsg.Text != "Successfully updated user profile." {
		t.Fatalf("tool output = %q", toolMsg.Text)
	}

	// The fact landed in the document.
	text, version, err := fx.db.GetDocument(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if version != 1 || !strings.Contains(text, "allergic to peanuts") {
		t.Fatalf("document = %q v%d", text, version)
	}

	// agent, tools, agent, check_memory.
	cps, _ := fx.db.ListCheckpoints(ctx, "u1", "", 0)
	if len(cps) != 4 {
		t.Fatalf("checkpoints = %d", len(cps))
	}

	// Pending writes were recorded for the tool step.
	writes, err := fx.db.GetPendingWrites(ctx, "u1", st.Messages[1].ID)
	if err != nil {
		t.Fatalf("GetPendingWrites: %v", err)
	}
	if len(writes) != 1 || writes[0].Channel != "tool:update_profile" {
		t.Fatalf("writes = %+v", writes)
	}
}

func TestHandleMessage_ToolFailureBecomesResult(t *testing.T) {
	t.Parallel()
	model := &fakeModel{script: []llm.Completion{
		{ToolCalls: []llm.ToolCall{{ID: "call_1", Name: "no_such_tool", Args: json.RawMessage(`{}`)}}},
		{Text: "Sorry, that didn't work."},
	}}
	fx := newFixture(t, model, Options{})

	reply, err := fx.machine.HandleMessage(context.Background(), "u1", "do the thing")
	if err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if reply != "Sorry, that didn't work." {
		t.Fatalf("reply = %q", reply)
	}

	st := fx.loadState(t, "u1")
	toolMsg := st.Messages[2]
	if !strings.HasPrefix(toolMsg.Text, "Error: ") {
		t.Fatalf("tool output = %q", toolMsg.Text)
	}
}

func TestHandleMessage_ModelFailureIsFatal(t *testing.T) {
	t.Parallel()
	model := &fakeModel{
		script: []llm.Completion{{}},
		errs:   []error{fmt.Errorf("provider is down")},
	}
	fx := newFixture(t, model, Options{})
	ctx := context.Background()

	if _, err := fx.machine.HandleMessage(ctx, "u1", "hi"); err == nil {
		t.Fatalf("expected error")
	}

	// Nothing was checkpointed for the failed turn.
	cp, err := fx.db.GetLatestCheckpoint(ctx, "u1", "")
	if err != nil {
		t.Fatalf("GetLatestCheckpoint: %v", err)
	}
	if cp != nil {
		t.Fatalf("failed turn left a checkpoint")
	}
}

func TestHandleMessage_MemoryPressurePrunes(t *testing.T) {
	t.Parallel()
	// Each plain turn adds two messages. Threshold 6, prune 4: the fourth
	// turn reaches 8 messages and triggers consolidation.
	script := make([]llm.Completion, 4)
	for i := range script {
		script[i] = llm.Completion{Text: fmt.Sprintf("reply %d", i+1)}
	}
	model := &fakeModel{script: script}
	fx := newFixture(t, model, Options{MessageThreshold: 6, PruneCount: 4})
	fx.consolidations = []string{"Consolidated profile."}
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := fx.machine.HandleMessage(ctx, "u1", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	if fx.consolidateN != 1 {
		t.Fatalf("consolidation calls = %d", fx.consolidateN)
	}
	st := fx.loadState(t, "u1")
	if len(st.Messages) != 4 {
		t.Fatalf("expected 4 messages after prune, got %d", len(st.Messages))
	}
	if st.Messages[0].Text != "msg 3" {
		t.Fatalf("oldest surviving message = %q", st.Messages[0].Text)
	}

	text, _, err := fx.db.GetDocument(ctx, "u1")
	if err != nil {
		t.Fatalf("GetDocument: %v", err)
	}
	if text != "Consolidated profile." {
		t.Fatalf("document = %q", text)
	}
}

func TestHandleMessage_ConsolidationFailureStillPrunes(t *testing.T) {
	t.Parallel()
	script := make([]llm.Completion, 4)
	for i := range script {
		script[i] = llm.Completion{Text: fmt.Sprintf("reply %d", i+1)}
	}
	model := &fakeModel{script: script}
	fx := newFixture(t, model, Options{MessageThreshold: 6, PruneCount: 4})
	// No consolidation replies scripted: the completer errors.
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := fx.machine.HandleMessage(ctx, "u1", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("turn %d: %v", i, err)
		}
	}

	st := fx.loadState(t, "u1")
	if len(st.Messages) != 4 {
		t.Fatalf("expected prune despite consolidation failure, got %d messages", len(st.Messages))
	}
	if _, version, _ := fx.db.GetDocument(ctx, "u1"); version != 0 {
		t.Fatalf("document written despite failure")
	}
}

func TestHandleMessage_ClosesDanglingToolCalls(t *testing.T) {
	t.Parallel()
	model := &fakeModel{script: []llm.Completion{{Text: "Back online."}}}
	fx := newFixture(t, model, Options{})
	ctx := context.Background()

	// Simulate a crash between requesting a tool and recording its result.
	crashed := &ThreadState{
		Turns: 1,
		Messages: []llm.Message{
			{ID: "m1", Role: llm.RoleUser, Text: "list my events"},
			{ID: "m2", Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "call_9", Name: "get_events", Args: json.RawMessage(`{}`)}}},
		},
	}
	blob, _ := json.Marshal(crashed)
	err := fx.db.PutCheckpoint(ctx, store.Checkpoint{
		ThreadID:     "u1",
		CheckpointID: "00000000000000000001-aa",
		State:        blob,
	})
	if err != nil {
		t.Fatalf("PutCheckpoint: %v", err)
	}

	if _, err := fx.machine.HandleMessage(ctx, "u1", "are you there?"); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	st := fx.loadState(t, "u1")
	var patched *llm.Message
	for i := range st.Messages {
		if st.Messages[i].ToolCallID == "call_9" {
			patched = &st.Messages[i]
		}
	}
	if patched == nil {
		t.Fatalf("dangling tool call was not closed: %+v", st.Messages)
	}
	if patched.Role != llm.RoleTool || !strings.Contains(patched.Text, "interrupted") {
		t.Fatalf("patched message = %+v", patched)
	}
}

func TestForceConsolidate(t *testing.T) {
	t.Parallel()
	model := &fakeModel{script: []llm.Completion{{Text: "ok"}, {Text: "ok"}}}
	fx := newFixture(t, model, Options{PruneCount: 3})
	fx.consolidations = []string{"From history."}
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := fx.machine.HandleMessage(ctx, "u1", fmt.Sprintf("msg %d", i)); err != nil {
			t.Fatalf("turn: %v", err)
		}
	}

	pruned, err := fx.machine.ForceConsolidate(ctx, "u1")
	if err != nil {
		t.Fatalf("ForceConsolidate: %v", err)
	}
	if pruned != 3 {
		t.Fatalf("pruned = %d", pruned)
	}
	st := fx.loadState(t, "u1")
	if len(st.Messages) != 1 {
		t.Fatalf("messages = %d", len(st.Messages))
	}
	text, _, _ := fx.db.GetDocument(ctx, "u1")
	if text != "From history." {
		t.Fatalf("document = %q", text)
	}
}

func TestForceConsolidate_EmptyThread(t *testing.T) {
	t.Parallel()
	model := &fakeModel{}
	fx := newFixture(t, model, Options{})

	pruned, err := fx.machine.ForceConsolidate(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("ForceConsolidate: %v", err)
	}
	if pruned != 0 {
		t.Fatalf("pruned = %d", pruned)
	}
}
