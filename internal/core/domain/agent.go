package domain

import "time"

type AgentMode string

const (
	ModeGeneral           AgentMode = "general"
	ModeReviewMethodology AgentMode = "review:methodology"
	ModeReviewComparison  AgentMode = "review:comparison"
	ModeReviewFindings    AgentMode = "review:findings"
)

// KnownModes is the closed set a routing decision may resolve to.
// Anything outside it maps to ModeGeneral.
var KnownModes = []AgentMode{
	ModeGeneral,
	ModeReviewMethodology,
	ModeReviewComparison,
	ModeReviewFindings,
}

func ParseMode(raw string) (AgentMode, bool) {
	for _, mode := range KnownModes {
		if string(mode) == raw {
			return mode, true
		}
	}
	return ModeGeneral, false
}

// AgentContext identifies the caller of a run. It is injected by the
// framework on every loop iteration and tool invocation; tool arguments
// coming from the model can never override it.
type AgentContext struct {
	UserID         string
	ProjectID      string
	ConversationID string
	RunID          string
	Mode           AgentMode
}

type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

type TerminationReason string

const (
	TerminationFinalAnswer  TerminationReason = "final_answer"
	TerminationFastPath     TerminationReason = "fast_path"
	TerminationExhausted    TerminationReason = "budget_exhausted"
	TerminationAborted      TerminationReason = "aborted"
	TerminationDisconnected TerminationReason = "client_disconnect"
)

// ToolCall records one ACT transition. Never mutated after completion.
type ToolCall struct {
	Tool      string        `json:"tool"`
	Arguments string        `json:"arguments,omitempty"`
	Output    string        `json:"output"`
	Status    string        `json:"status"`
	Iteration int           `json:"iteration"`
	Duration  time.Duration `json:"duration"`
}

// AgentRun describes one control-loop execution for a single turn.
type AgentRun struct {
	RunID             string            `json:"run_id"`
	UserID            string            `json:"user_id"`
	ConversationID    string            `json:"conversation_id"`
	Mode              AgentMode         `json:"mode"`
	Status            RunStatus         `json:"status"`
	Iterations        int               `json:"iterations"`
	LastCompletedStep int               `json:"last_completed_step"`
	PartialResults    string            `json:"partial_results,omitempty"`
	Termination       TerminationReason `json:"termination,omitempty"`
	StartedAt         time.Time         `json:"started_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type AgentRunResult struct {
	RunID          string            `json:"run_id"`
	ConversationID string            `json:"conversation_id"`
	Mode           AgentMode         `json:"mode"`
	Answer         string            `json:"answer"`
	Iterations     int               `json:"iterations"`
	MemoryHits     int               `json:"memory_hits"`
	Termination    TerminationReason `json:"termination"`
	ToolCalls      []ToolCall        `json:"tool_calls,omitempty"`
}

// PlanStep is the parsed shape of one planner decision: either a single
// tool call or a final answer.
type PlanStep struct {
	Type   string         `json:"type"`
	Tool   string         `json:"tool,omitempty"`
	Answer string         `json:"answer,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
}

type AgentLimits struct {
	MaxIterations  int
	RunTimeout     time.Duration
	PlannerTimeout time.Duration
	ToolTimeout    time.Duration
	HistoryWindow  int
	MemoryTopK     int
	RetrievalTopK  int
}

// EventKind values mirror what the real-time transport delivers to clients.
type EventKind string

const (
	EventToolStarted  EventKind = "tool_started"
	EventToolFinished EventKind = "tool_finished"
	EventFinalAnswer  EventKind = "final_answer"
)

type RunEvent struct {
	Kind           EventKind `json:"kind"`
	RunID          string    `json:"run_id"`
	ConversationID string    `json:"conversation_id,omitempty"`
	Tool           string    `json:"tool,omitempty"`
	Status         string    `json:"status,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`
	Payload        string    `json:"payload,omitempty"`
}

// Completion is what the black-box LLM provider returns.
type Completion struct {
	Text             string
	PromptTokens     int
	CompletionTokens int
}
