package session

import (
	"maps"
	"slices"
	"strings"

	"github.com/claudian/claudian/internal/actor"
	"github.com/claudian/claudian/internal/claude"
)

// Reduce is the session reducer. It owns every state transition; effects are
// interpreted by Runtime.
func Reduce(state State, input actor.Input) (State, []actor.Effect) {
	if state.Disposed {
		if cmd, ok := input.(command); ok {
			complete(cmd.replyChan(), ErrDisposed)
		}
		return state, nil
	}

	switch in := input.(type) {
	case cmdStart:
		return reduceStart(state, in)
	case cmdCancel:
		return reduceCancel(state, in)
	case cmdToggleCard:
		return reduceToggleCard(state, in)
	case cmdSetActiveFile:
		state.Workspace.CurrentFile = in.Path
		complete(in.Reply, nil)
		return state, nil
	case cmdUpdateSettings:
		state.Workspace.Settings = in.Settings
		complete(in.Reply, nil)
		return state, nil
	case cmdDispose:
		return reduceDispose(state, in)

	case evSystemInit:
		if !acceptsRunEvent(state, in.Gen) {
			return state, nil
		}
		state.AgentSessionID = in.SessionID
		state.AgentTools = slices.Clone(in.Tools)
		return state, nil
	case evTextDelta:
		return reduceTextDelta(state, in)
	case evToolUse:
		return reduceToolUse(state, in)
	case evToolResult:
		return reduceToolResult(state, in)
	case evCompleted:
		return reduceCompleted(state, in)
	case evFailed:
		return reduceFailed(state, in)
	default:
		return state, nil
	}
}

// complete replies without blocking the loop. Callers pass a buffered channel
// or nil.
func complete(reply chan error, err error) {
	if reply == nil {
		return
	}
	select {
	case reply <- err:
	default:
	}
}

// acceptsRunEvent reports whether an event from generation gen belongs to the
// active run. Events from killed or superseded processes are dropped.
func acceptsRunEvent(state State, gen int64) bool {
	return state.Status == StatusRunning && gen == state.RunnerGen
}

func reduceStart(state State, cmd cmdStart) (State, []actor.Effect) {
	if !state.Status.CanStart() {
		complete(cmd.Reply, ErrRunning)
		return state, nil
	}
	prompt := strings.TrimSpace(cmd.Prompt)
	if prompt == "" {
		complete(cmd.Reply, ErrEmptyPrompt)
		return state, nil
	}

	state.RunnerGen++
	state.Status = StatusRunning
	state.Prompt = prompt
	state.Output = nil
	state.TextOpen = false
	state.Cards = nil
	state.CardOrder = nil
	state.Turns = 0
	state.CostUSD = 0
	state.ErrorMessage = ""
	state.AgentSessionID = ""
	state.AgentTools = nil
	complete(cmd.Reply, nil)

	return state, []actor.Effect{
		effResetOutput{},
		effSetStatus{Status: StatusRunning, Summary: state.Summary()},
		effStartRunner{
			Gen: state.RunnerGen,
			Options: claude.Options{
				Prompt:      prompt,
				WorkDir:     state.Workspace.VaultRoot,
				CurrentFile: state.Workspace.CurrentFile,
				Settings:    state.Workspace.Settings,
			},
		},
	}
}

func reduceCancel(state State, cmd cmdCancel) (State, []actor.Effect) {
	if state.Status != StatusRunning {
		complete(cmd.Reply, ErrNotRunning)
		return state, []actor.Effect{effClose{}}
	}
	complete(cmd.Reply, nil)
	state.Status = StatusCancelled
	state.TextOpen = false
	return state, []actor.Effect{
		effKillRunner{Gen: state.RunnerGen},
		effSetStatus{Status: StatusCancelled, Summary: state.Summary()},
	}
}

func reduceToggleCard(state State, cmd cmdToggleCard) (State, []actor.Effect) {
	card, ok := state.Cards[cmd.ID]
	if !ok {
		complete(cmd.Reply, ErrUnknownCard)
		return state, nil
	}
	card.Expanded = !card.Expanded
	state.Cards = maps.Clone(state.Cards)
	state.Cards[cmd.ID] = card
	complete(cmd.Reply, nil)
	return state, []actor.Effect{effToggleToolCard{ID: cmd.ID, Expanded: card.Expanded}}
}

func reduceDispose(state State, cmd cmdDispose) (State, []actor.Effect) {
	state.Disposed = true
	state.TextOpen = false
	complete(cmd.Reply, nil)
	if state.Status != StatusRunning {
		return state, nil
	}
	return state, []actor.Effect{effKillRunner{Gen: state.RunnerGen}}
}

func reduceTextDelta(state State, ev evTextDelta) (State, []actor.Effect) {
	if !acceptsRunEvent(state, ev.Gen) {
		return state, nil
	}
	state.Output = slices.Clone(state.Output)
	if state.TextOpen {
		last := len(state.Output) - 1
		state.Output[last].Text += ev.Text
		return state, []actor.Effect{effAppendText{Text: ev.Text}}
	}
	state.Output = append(state.Output, Item{Kind: ItemText, Text: ev.Text})
	state.TextOpen = true
	return state, []actor.Effect{effAppendText{Text: ev.Text, NewBlock: true}}
}

func reduceToolUse(state State, ev evToolUse) (State, []actor.Effect) {
	if !acceptsRunEvent(state, ev.Gen) {
		return state, nil
	}
	id := ev.ToolUse.ID
	state.TextOpen = false
	state.Output = slices.Clone(state.Output)
	state.CardOrder = slices.Clone(state.CardOrder)
	state.Cards = maps.Clone(state.Cards)
	if state.Cards == nil {
		state.Cards = make(map[string]ToolCard)
	}

	// A reused id replaces the earlier card, which moves to the end.
	if _, exists := state.Cards[id]; exists {
		state.CardOrder = slices.DeleteFunc(state.CardOrder, func(other string) bool {
			return other == id
		})
		state.Output = slices.DeleteFunc(state.Output, func(item Item) bool {
			return item.Kind == ItemToolCard && item.ToolUseID == id
		})
	}

	card := ToolCard{ToolUse: ev.ToolUse}
	state.Cards[id] = card
	state.CardOrder = append(state.CardOrder, id)
	state.Output = append(state.Output, Item{Kind: ItemToolCard, ToolUseID: id})
	return state, []actor.Effect{effOpenToolCard{Card: card}}
}

func reduceToolResult(state State, ev evToolResult) (State, []actor.Effect) {
	if !acceptsRunEvent(state, ev.Gen) {
		return state, nil
	}
	id := ev.Result.ToolUseID
	card, ok := state.Cards[id]
	if !ok {
		return state, nil
	}
	result := ev.Result
	card.Result = &result
	state.Cards = maps.Clone(state.Cards)
	state.Cards[id] = card
	return state, []actor.Effect{effUpdateToolResult{ID: id, Display: card.ResultDisplay()}}
}

func reduceCompleted(state State, ev evCompleted) (State, []actor.Effect) {
	if !acceptsRunEvent(state, ev.Gen) {
		return state, nil
	}
	state.Status = StatusDone
	state.TextOpen = false
	state.Turns = ev.Turns
	state.CostUSD = ev.CostUSD
	return state, []actor.Effect{
		effReleaseRunner{Gen: ev.Gen},
		effSetStatus{Status: StatusDone, Summary: state.Summary()},
	}
}

func reduceFailed(state State, ev evFailed) (State, []actor.Effect) {
	if !acceptsRunEvent(state, ev.Gen) {
		return state, nil
	}
	state.Status = StatusError
	state.TextOpen = false
	state.ErrorMessage = ev.Message
	state.Output = append(slices.Clone(state.Output), Item{Kind: ItemError, Text: ev.Message})
	return state, []actor.Effect{
		effAppendError{Message: ev.Message},
		effReleaseRunner{Gen: ev.Gen},
		effSetStatus{Status: StatusError, Summary: state.Summary()},
	}
}
