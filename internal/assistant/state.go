package assistant

import (
	"github.com/orbitworks/orbit-agent/internal/llm"
)

// State names one node of the conversation machine. A turn always starts at
// StateAgent and runs until StateDone.
type State string

const (
	StateAgent       State = "agent"
	StateTools       State = "tools"
	StateCheckMemory State = "check_memory"
	StateSummarize   State = "summarize"
	StateDone        State = "done"
)

const (
	// memoryPressureThreshold is the message count above which a turn ends
	// with a consolidation pass.
	memoryPressureThreshold = 75
	// prunePrefixCount is how many of the oldest messages one consolidation
	// pass absorbs and removes. Pruning a large chunk leaves enough headroom
	// that summarization does not run on every subsequent turn.
	prunePrefixCount = 30
)

// ThreadState is the full per-thread conversation state captured in every
// checkpoint. Message order is append order and is the only ordering
// guarantee.
type ThreadState struct {
	Messages []llm.Message `json:"messages"`
	Turns    int64         `json:"turns"`
}

// nextState is the pure transition function of the machine. It inspects
// only the accumulated thread state, never the outside world, so the
// machine is testable with fake collaborators.
func nextState(cur State, st *ThreadState, threshold int) State {
	switch cur {
	case StateAgent:
		if last := lastMessage(st); last != nil && last.Role == llm.RoleAssistant && len(last.ToolCalls) > 0 {
			return StateTools
		}
		return StateCheckMemory
	case StateTools:
		// Unconditional: the model always sees tool results and decides the
		// next step itself.
		return StateAgent
	case StateCheckMemory:
		if st != nil && threshold > 0 && len(st.Messages) > threshold {
			return StateSummarize
		}
		return StateDone
	case StateSummarize:
		return StateDone
	default:
		return StateDone
	}
}

func lastMessage(st *ThreadState) *llm.Message {
	if st == nil || len(st.Messages) == 0 {
		return nil
	}
	return &st.Messages[len(st.Messages)-1]
}

// removeMessages drops messages by ID, preserving the order of the rest.
// This is a targeted delete, not a rewrite: messages without a listed ID are
// untouched.
func removeMessages(st *ThreadState, ids map[string]struct{}) {
	if st == nil || len(ids) == 0 {
		return
	}
	kept := st.Messages[:0]
	for _, msg := range st.Messages {
		if _, gone := ids[msg.ID]; gone {
			continue
		}
		kept = append(kept, msg)
	}
	st.Messages = kept
}
