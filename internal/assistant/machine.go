package assistant

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/orbitworks/orbit-agent/internal/calendar"
	"github.com/orbitworks/orbit-agent/internal/llm"
	"github.com/orbitworks/orbit-agent/internal/profile"
	"github.com/orbitworks/orbit-agent/internal/store"
)

// CalendarFactory resolves the calendar client for one user, typically from
// a stored per-user refresh token. Returning an error means the user has no
// usable calendar; tools surface that to the model instead of failing the turn.
type CalendarFactory func(ctx context.Context, userKey string) (calendar.Client, error)

// Options configures a Machine. Store, Model, ModelName and Profiles are
// required; the rest have working defaults.
type Options struct {
	Store     *store.Store
	Model     llm.Client
	ModelName string
	Profiles  *profile.Manager
	Calendar  CalendarFactory
	Logger    *slog.Logger

	// Namespace partitions checkpoints; empty is the default namespace.
	Namespace string
	// MessageThreshold and PruneCount override the memory-pressure defaults,
	// mainly for tests. Zero keeps the default.
	MessageThreshold int
	PruneCount       int

	now func() time.Time
}

// Machine drives one conversation turn at a time through the agent, tools,
// memory-check, and summarize states, checkpointing the full thread state
// after every transition so an interrupted turn resumes instead of replaying.
type Machine struct {
	store     *store.Store
	model     llm.Client
	modelName string
	profiles  *profile.Manager
	calendar  CalendarFactory
	log       *slog.Logger
	namespace string
	threshold int
	prune     int
	now       func() time.Time
}

func NewMachine(opts Options) (*Machine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Model == nil {
		return nil, errors.New("model client is required")
	}
	if strings.TrimSpace(opts.ModelName) == "" {
		return nil, errors.New("model name is required")
	}
	if opts.Profiles == nil {
		return nil, errors.New("profile manager is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threshold := opts.MessageThreshold
	if threshold <= 0 {
		threshold = memoryPressureThreshold
	}
	prune := opts.PruneCount
	if prune <= 0 {
		prune = prunePrefixCount
	}
	now := opts.now
	if now == nil {
		now = time.Now
	}
	return &Machine{
		store:     opts.Store,
		model:     opts.Model,
		modelName: strings.TrimSpace(opts.ModelName),
		profiles:  opts.Profiles,
		calendar:  opts.Calendar,
		log:       logger,
		namespace: opts.Namespace,
		threshold: threshold,
		prune:     prune,
		now:       now,
	}, nil
}

// checkpointMeta is the metadata blob written alongside every checkpoint.
type checkpointMeta struct {
	State        State  `json:"state"`
	Step         int    `json:"step"`
	Turn         int64  `json:"turn"`
	WrittenAtUTC string `json:"written_at_utc"`
}

// HandleMessage runs one full turn for the user: load the latest checkpoint,
// append the inbound message, then step the machine to completion. The
// returned string is the assistant's final reply for this turn.
//
// A model failure in the agent state aborts the turn; tool failures and
// consolidation failures degrade instead.
func (m *Machine) HandleMessage(ctx context.Context, userKey string, input string) (string, error) {
	if m == nil || m.store == nil {
		return "", errors.New("machine not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return "", errors.New("missing user key")
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return "", errors.New("empty message")
	}

	if err := m.store.EnsureUser(ctx, userKey); err != nil {
		return "", fmt.Errorf("ensure user: %w", err)
	}

	threadID := userKey
	st, parentID, err := m.loadThread(ctx, threadID)
	if err != nil {
		return "", err
	}
	closeDanglingToolCalls(st)

	st.Messages = append(st.Messages, llm.Message{
		ID:   newMessageID(),
		Role: llm.RoleUser,
		Text: input,
	})
	st.Turns++

	reg, err := m.buildTools(userKey)
	if err != nil {
		return "", fmt.Errorf("build tools: %w", err)
	}

	state := StateAgent
	step := 0
	for state != StateDone {
		switch state {
		case StateAgent:
			if err := m.stepAgent(ctx, userKey, st, reg); err != nil {
				return "", err
			}
		case StateTools:
			m.stepTools(ctx, threadID, st, reg)
		case StateCheckMemory:
			// Pure routing; nextState does the counting.
		case StateSummarize:
			m.stepSummarize(ctx, userKey, st)
		}
		next := nextState(state, st, m.threshold)
		step++
		parentID, err = m.persistCheckpoint(ctx, threadID, parentID, st, state, step)
		if err != nil {
			return "", err
		}
		state = next
	}

	return finalReply(st), nil
}

// ForceConsolidate runs the summarize step outside a turn: the oldest
// messages are folded into the user profile and removed, and the pruned
// thread is checkpointed. Returns how many messages were pruned.
func (m *Machine) ForceConsolidate(ctx context.Context, userKey string) (int, error) {
	if m == nil || m.store == nil {
		return 0, errors.New("machine not initialized")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	userKey = strings.TrimSpace(userKey)
	if userKey == "" {
		return 0, errors.New("missing user key")
	}

	threadID := userKey
	st, parentID, err := m.loadThread(ctx, threadID)
	if err != nil {
		return 0, err
	}
	if len(st.Messages) == 0 {
		return 0, nil
	}

	before := len(st.Messages)
	m.stepSummarize(ctx, userKey, st)
	if _, err := m.persistCheckpoint(ctx, threadID, parentID, st, StateSummarize, 1); err != nil {
		return 0, err
	}
	return before - len(st.Messages), nil
}

func (m *Machine) loadThread(ctx context.Context, threadID string) (*ThreadState, string, error) {
	latest, err := m.store.GetLatestCheckpoint(ctx, threadID, m.namespace)
	if err != nil {
		return nil, "", fmt.Errorf("load checkpoint: %w", err)
	}
	st := &ThreadState{}
	if latest == nil {
		return st, "", nil
	}
	if err := json.Unmarshal(latest.State, st); err != nil {
		return nil, "", fmt.Errorf("decode checkpoint %s: %w", latest.CheckpointID, err)
	}
	return st, latest.CheckpointID, nil
}

func (m *Machine) buildTools(userKey string) (*Registry, error) {
	reg := NewRegistry()
	if err := registerProfileTool(reg, m.profiles, userKey); err != nil {
		return nil, err
	}
	if m.calendar != nil {
		var cached calendar.Client
		resolve := func(ctx context.Context) (calendar.Client, error) {
			if cached != nil {
				return cached, nil
			}
			cal, err := m.calendar(ctx, userKey)
			if err != nil {
				return nil, err
			}
			cached = cal
			return cached, nil
		}
		if err := registerCalendarTools(reg, resolve); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// stepAgent makes one model call with the fresh system prompt and appends
// the assistant's output. Any failure here is fatal for the turn; there is
// nothing sensible to answer without the model.
func (m *Machine) stepAgent(ctx context.Context, userKey string, st *ThreadState, reg *Registry) error {
	profileText, _, err := m.profiles.ReadProfile(ctx, userKey)
	if err != nil {
		return fmt.Errorf("read profile: %w", err)
	}
	localTime := localTimeString(m.store.GetUserTimezone(ctx, userKey), m.now())

	completion, err := m.model.Complete(ctx, llm.CompleteRequest{
		Model:    m.modelName,
		Messages: effectiveMessages(profileText, localTime, st.Messages),
		Tools:    reg.Defs(),
	})
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}

	st.Messages = append(st.Messages, llm.Message{
		ID:        newMessageID(),
		Role:      llm.RoleAssistant,
		Text:      completion.Text,
		ToolCalls: completion.ToolCalls,
	})
	return nil
}

// stepTools executes every call the model requested, in order, and appends
// one tool result per call. Failures become error-text results the model can
// react to; the machine itself never aborts here.
func (m *Machine) stepTools(ctx context.Context, threadID string, st *ThreadState, reg *Registry) {
	last := lastMessage(st)
	if last == nil || last.Role != llm.RoleAssistant || len(last.ToolCalls) == 0 {
		return
	}
	calls := last.ToolCalls

	m.recordPendingWrites(ctx, threadID, last.ID, calls)

	for _, call := range calls {
		output, err := reg.Dispatch(ctx, call)
		if err != nil {
			m.log.Warn("tool call failed", "tool", call.Name, "error", err)
			output = "Error: " + err.Error()
		}
		st.Messages = append(st.Messages, llm.Message{
			ID:         newMessageID(),
			Role:       llm.RoleTool,
			Text:       output,
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
}

// recordPendingWrites snapshots the requested calls before execution so a
// crash mid-dispatch leaves a trace. Best effort: failure to record never
// blocks the tools themselves.
func (m *Machine) recordPendingWrites(ctx context.Context, threadID string, taskID string, calls []llm.ToolCall) {
	writes := make([]store.PendingWrite, 0, len(calls))
	for _, call := range calls {
		value, err := json.Marshal(call)
		if err != nil {
			continue
		}
		writes = append(writes, store.PendingWrite{
			Channel: "tool:" + call.Name,
			Value:   value,
		})
	}
	if err := m.store.PutPendingWrites(ctx, threadID, taskID, writes); err != nil {
		m.log.Warn("record pending writes failed", "thread", threadID, "error", err)
	}
}

// stepSummarize consolidates the oldest messages into the user profile and
// then removes them from the thread. If consolidation fails the prune still
// happens, trading remembered detail for a bounded context.
func (m *Machine) stepSummarize(ctx context.Context, userKey string, st *ThreadState) {
	count := m.prune
	if count > len(st.Messages) {
		count = len(st.Messages)
	}
	if count == 0 {
		return
	}
	prefix := st.Messages[:count]

	transcript := make([]profile.TranscriptMessage, 0, len(prefix))
	for _, msg := range prefix {
		transcript = append(transcript, profile.TranscriptMessage{
			Role: string(msg.Role),
			Text: transcriptText(msg),
		})
	}
	outcome, err := m.profiles.Consolidate(ctx, userKey, transcript)
	if err != nil {
		m.log.Warn("consolidation failed, pruning without it", "user", userKey, "error", err)
	} else {
		m.log.Info("consolidation finished", "user", userKey, "outcome", string(outcome), "pruned", count)
	}

	ids := make(map[string]struct{}, count)
	for _, msg := range prefix {
		ids[msg.ID] = struct{}{}
	}
	removeMessages(st, ids)
}

func (m *Machine) persistCheckpoint(ctx context.Context, threadID string, parentID string, st *ThreadState, executed State, step int) (string, error) {
	blob, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("encode thread state: %w", err)
	}
	now := m.now()
	meta, err := json.Marshal(checkpointMeta{
		State:        executed,
		Step:         step,
		Turn:         st.Turns,
		WrittenAtUTC: now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return "", fmt.Errorf("encode checkpoint metadata: %w", err)
	}
	id := newCheckpointID(now)
	err = m.store.PutCheckpoint(ctx, store.Checkpoint{
		ThreadID:           threadID,
		Namespace:          m.namespace,
		CheckpointID:       id,
		ParentCheckpointID: parentID,
		State:              blob,
		Metadata:           meta,
		CreatedAtUnixMs:    now.UnixMilli(),
	})
	if err != nil {
		return "", fmt.Errorf("persist checkpoint: %w", err)
	}
	return id, nil
}

// closeDanglingToolCalls patches up a thread that crashed between requesting
// tools and recording their results. Providers reject a transcript where an
// assistant tool call has no matching result, so missing results are filled
// with a synthetic interruption note.
func closeDanglingToolCalls(st *ThreadState) {
	if st == nil || len(st.Messages) == 0 {
		return
	}
	answered := make(map[string]struct{})
	for _, msg := range st.Messages {
		if msg.Role == llm.RoleTool && msg.ToolCallID != "" {
			answered[msg.ToolCallID] = struct{}{}
		}
	}
	last := lastMessage(st)
	if last.Role != llm.RoleAssistant {
		return
	}
	for _, call := range last.ToolCalls {
		if _, ok := answered[call.ID]; ok {
			continue
		}
		st.Messages = append(st.Messages, llm.Message{
			ID:         newMessageID(),
			Role:       llm.RoleTool,
			Text:       "Error: interrupted before this tool ran.",
			ToolCallID: call.ID,
			ToolName:   call.Name,
		})
	}
}

func finalReply(st *ThreadState) string {
	for i := len(st.Messages) - 1; i >= 0; i-- {
		if st.Messages[i].Role == llm.RoleAssistant && strings.TrimSpace(st.Messages[i].Text) != "" {
			return st.Messages[i].Text
		}
	}
	return ""
}

func transcriptText(msg llm.Message) string {
	if msg.Role != llm.RoleAssistant || len(msg.ToolCalls) == 0 {
		return msg.Text
	}
	names := make([]string, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		names = append(names, call.Name)
	}
	text := msg.Text
	if text != "" {
		text += " "
	}
	return text + "[called tools: " + strings.Join(names, ", ") + "]"
}

func newMessageID() string {
	return uuid.NewString()
}

// newCheckpointID yields ids whose lexicographic order matches creation
// order: a fixed-width nanosecond timestamp plus a short random suffix to
// break ties within the same nanosecond.
func newCheckpointID(now time.Time) string {
	var suffix [4]byte
	_, _ = rand.Read(suffix[:])
	return fmt.Sprintf("%020d-%s", now.UnixNano(), hex.EncodeToString(suffix[:]))
}
