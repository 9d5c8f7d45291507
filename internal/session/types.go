package session

import (
	"github.com/claudian/claudian/internal/actor"
	"github.com/claudian/claudian/internal/claude"
	"github.com/claudian/claudian/internal/config"
)

// Status is the run status shown to the user.
type Status string

const (
	// StatusIdle means no run has been started yet.
	StatusIdle Status = "idle"
	// StatusRunning means an agent process is active.
	StatusRunning Status = "running"
	// StatusDone means the last run completed.
	StatusDone Status = "done"
	// StatusError means the last run failed.
	StatusError Status = "error"
	// StatusCancelled means the user cancelled the last run.
	StatusCancelled Status = "cancelled"
)

// CanStart reports whether a new run may start from s.
func (s Status) CanStart() bool { return s != StatusRunning }

// Workspace is what a run needs besides the prompt.
type Workspace struct {
	// VaultRoot is the absolute project root the agent works in.
	VaultRoot string
	// CurrentFile is the active file relative to VaultRoot, or empty.
	CurrentFile string
	// Settings is copied into every run by value.
	Settings config.Settings
}

// ToolCard is the merged view of one tool invocation and its result.
type ToolCard struct {
	ToolUse claude.ToolUse
	// Result is nil until the matching tool result arrives.
	Result *claude.ToolResult
	// Expanded is toggled by the user only.
	Expanded bool
}

// Resolved reports whether the result has arrived.
func (c ToolCard) Resolved() bool { return c.Result != nil }

// Label is the header summary of the tool input.
func (c ToolCard) Label() string { return ToolLabel(c.ToolUse) }

// ResultDisplay is the result text as shown, possibly truncated. The full
// content stays in Result.
func (c ToolCard) ResultDisplay() string {
	if c.Result == nil {
		return ""
	}
	return ResultDisplay(c.Result.Content)
}

// ItemKind discriminates output items.
type ItemKind string

const (
	ItemText     ItemKind = "text"
	ItemToolCard ItemKind = "tool"
	ItemError    ItemKind = "error"
)

// Item is one entry in the rendered output, in display order.
type Item struct {
	Kind ItemKind
	// Text holds the block content for ItemText and the message for ItemError.
	Text string
	// ToolUseID references State.Cards for ItemToolCard.
	ToolUseID string
}

// State is the loop-owned controller state.
type State struct {
	Status    Status
	Workspace Workspace

	// RunnerGen increments on every accepted start. Runner events carry the
	// generation of the process that produced them.
	RunnerGen int64
	// Prompt is the trimmed prompt of the current or last run.
	Prompt string

	// Output lists text blocks, tool cards and errors in display order.
	Output []Item
	// TextOpen reports whether the last Output item is a text block that
	// further deltas extend.
	TextOpen bool

	// Cards is the correlation table, keyed by tool-use id.
	Cards map[string]ToolCard
	// CardOrder is the display order of Cards.
	CardOrder []string

	// Turns and CostUSD are only meaningful once Status is StatusDone.
	Turns   int
	CostUSD float64

	// ErrorMessage is the message of the failure that ended the last run.
	ErrorMessage string

	// AgentSessionID and AgentTools are advisory data from the init event.
	AgentSessionID string
	AgentTools     []string

	// Disposed is set once the controller is closed; all inputs become no-ops.
	Disposed bool
}

// NewState returns the idle state for ws.
func NewState(ws Workspace) State {
	return State{Status: StatusIdle, Workspace: ws}
}

// Card returns the card for id.
func (s State) Card(id string) (ToolCard, bool) {
	c, ok := s.Cards[id]
	return c, ok
}

// ToolCards returns the cards in display order.
func (s State) ToolCards() []ToolCard {
	out := make([]ToolCard, 0, len(s.CardOrder))
	for _, id := range s.CardOrder {
		out = append(out, s.Cards[id])
	}
	return out
}

// TextBlocks returns the content of every text block in display order.
func (s State) TextBlocks() []string {
	var out []string
	for _, item := range s.Output {
		if item.Kind == ItemText {
			out = append(out, item.Text)
		}
	}
	return out
}

// OpenTextBlock returns the open block's content, if one is open.
func (s State) OpenTextBlock() (string, bool) {
	if !s.TextOpen || len(s.Output) == 0 {
		return "", false
	}
	return s.Output[len(s.Output)-1].Text, true
}

// Summary is the status line text for the current status.
func (s State) Summary() string {
	return StatusSummary(s.Status, s.Turns, s.CostUSD)
}

// Commands

type command interface {
	actor.Input
	replyChan() chan error
}

type cmdStart struct {
	actor.InputBase
	Prompt string
	Reply  chan error
}

type cmdCancel struct {
	actor.InputBase
	Reply chan error
}

type cmdToggleCard struct {
	actor.InputBase
	ID    string
	Reply chan error
}

type cmdSetActiveFile struct {
	actor.InputBase
	Path  string
	Reply chan error
}

type cmdUpdateSettings struct {
	actor.InputBase
	Settings config.Settings
	Reply    chan error
}

type cmdDispose struct {
	actor.InputBase
	Reply chan error
}

func (c cmdStart) replyChan() chan error          { return c.Reply }
func (c cmdCancel) replyChan() chan error         { return c.Reply }
func (c cmdToggleCard) replyChan() chan error     { return c.Reply }
func (c cmdSetActiveFile) replyChan() chan error  { return c.Reply }
func (c cmdUpdateSettings) replyChan() chan error { return c.Reply }
func (c cmdDispose) replyChan() chan error        { return c.Reply }

// Runner events. Gen is the generation of the emitting process.

type evSystemInit struct {
	actor.InputBase
	Gen       int64
	SessionID string
	Tools     []string
}

type evTextDelta struct {
	actor.InputBase
	Gen  int64
	Text string
}

type evToolUse struct {
	actor.InputBase
	Gen     int64
	ToolUse claude.ToolUse
}

type evToolResult struct {
	actor.InputBase
	Gen    int64
	Result claude.ToolResult
}

type evCompleted struct {
	actor.InputBase
	Gen     int64
	Turns   int
	CostUSD float64
}

type evFailed struct {
	actor.InputBase
	Gen     int64
	Kind    claude.FailureKind
	Message string
}

// Effects

type effStartRunner struct {
	actor.EffectBase
	Gen     int64
	Options claude.Options
}

type effKillRunner struct {
	actor.EffectBase
	Gen int64
}

type effReleaseRunner struct {
	actor.EffectBase
	Gen int64
}

type effResetOutput struct {
	actor.EffectBase
}

type effAppendText struct {
	actor.EffectBase
	Text     string
	NewBlock bool
}

type effOpenToolCard struct {
	actor.EffectBase
	Card ToolCard
}

type effUpdateToolResult struct {
	actor.EffectBase
	ID      string
	Display string
}

type effToggleToolCard struct {
	actor.EffectBase
	ID       string
	Expanded bool
}

type effAppendError struct {
	actor.EffectBase
	Message string
}

type effSetStatus struct {
	actor.EffectBase
	Status  Status
	Summary string
}

type effClose struct {
	actor.EffectBase
}
