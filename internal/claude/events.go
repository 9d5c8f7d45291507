package claude

// ToolUse is the agent's announcement that it invoked a tool.
type ToolUse struct {
	// ID is unique within one agent session.
	ID string `json:"id"`
	// Name is the tool name (Read, Edit, Bash, ...).
	Name string `json:"name"`
	// Input is the decoded tool input object.
	Input map[string]any `json:"input"`
	// InputKeys lists Input's keys in the order the agent wrote them.
	InputKeys []string `json:"-"`
}

// ToolResult is the outcome of a previously announced tool invocation.
type ToolResult struct {
	// ToolUseID references ToolUse.ID.
	ToolUseID string `json:"tool_use_id"`
	// Content is the textual result.
	Content string `json:"content"`
	// IsError reports whether the tool itself failed.
	IsError bool `json:"is_error,omitempty"`
}

// FailureKind classifies why a run ended in an error event.
type FailureKind string

const (
	// FailureSpawn means the subprocess could not be started.
	FailureSpawn FailureKind = "spawn"
	// FailureDecode means a line on stdout could not be decoded.
	FailureDecode FailureKind = "decode"
	// FailureProcess means the subprocess exited without a result.
	FailureProcess FailureKind = "process"
	// FailureAgent means the agent reported an error result.
	FailureAgent FailureKind = "agent"
)

// Event is a marker interface for events decoded from the agent stream.
type Event interface {
	isClaudeEvent()
}

// EvSystemInit is emitted once the agent session has started.
type EvSystemInit struct {
	// SessionID is the agent's session identifier.
	SessionID string
	// Tools lists the tools available to the agent, in reported order.
	Tools []string
	// Model is the model serving the session.
	Model string
}

// EvTextDelta carries a fragment of assistant narration.
type EvTextDelta struct {
	Text string
}

// EvToolUse wraps a ToolUse.
type EvToolUse struct {
	ToolUse ToolUse
}

// EvToolResult wraps a ToolResult.
type EvToolResult struct {
	ToolResult ToolResult
}

// EvCompleted ends a successful run.
type EvCompleted struct {
	// Turns is the number of agent turns in the run.
	Turns int
	// CostUSD is the total reported cost.
	CostUSD float64
	// DurationMs is the agent-reported wall time.
	DurationMs int64
	// Result is the final assistant message.
	Result string
}

// EvError ends a failed run.
type EvError struct {
	Kind    FailureKind
	Message string
}

func (EvSystemInit) isClaudeEvent() {}
func (EvTextDelta) isClaudeEvent()  {}
func (EvToolUse) isClaudeEvent()    {}
func (EvToolResult) isClaudeEvent() {}
func (EvCompleted) isClaudeEvent()  {}
func (EvError) isClaudeEvent()      {}

// IsTerminal reports whether ev ends a run.
func IsTerminal(ev Event) bool {
	switch ev.(type) {
	case EvCompleted, EvError:
		return true
	default:
		return false
	}
}
