package session

import (
	"github.com/claudian/claudian/internal/actor"
	"github.com/claudian/claudian/internal/claude"
	"github.com/claudian/claudian/internal/config"
)

// StartRun returns a command input that starts a run for prompt. reply is
// completed once the start is accepted or rejected, before the process is
// spawned.
func StartRun(prompt string, reply chan error) actor.Input {
	return cmdStart{Prompt: prompt, Reply: reply}
}

// CancelRun returns a command input that cancels the active run, or closes the
// session when no run is active.
func CancelRun(reply chan error) actor.Input {
	return cmdCancel{Reply: reply}
}

// ToggleCard returns a command input that flips the expanded flag of a card.
func ToggleCard(id string, reply chan error) actor.Input {
	return cmdToggleCard{ID: id, Reply: reply}
}

// SetActiveFile returns a command input that changes the file mentioned to the
// agent on the next run.
func SetActiveFile(path string, reply chan error) actor.Input {
	return cmdSetActiveFile{Path: path, Reply: reply}
}

// UpdateSettings returns a command input that replaces the settings used by
// the next run.
func UpdateSettings(settings config.Settings, reply chan error) actor.Input {
	return cmdUpdateSettings{Settings: settings, Reply: reply}
}

// Dispose returns a command input that kills any active run and turns the
// session into a no-op.
func Dispose(reply chan error) actor.Input {
	return cmdDispose{Reply: reply}
}

// RunnerEvent converts a claude event from the process of generation gen into
// an input. It returns nil for events the session does not consume.
func RunnerEvent(gen int64, ev claude.Event) actor.Input {
	switch e := ev.(type) {
	case claude.EvSystemInit:
		return evSystemInit{Gen: gen, SessionID: e.SessionID, Tools: e.Tools}
	case claude.EvTextDelta:
		return evTextDelta{Gen: gen, Text: e.Text}
	case claude.EvToolUse:
		return evToolUse{Gen: gen, ToolUse: e.ToolUse}
	case claude.EvToolResult:
		return evToolResult{Gen: gen, Result: e.ToolResult}
	case claude.EvCompleted:
		return evCompleted{Gen: gen, Turns: e.Turns, CostUSD: e.CostUSD}
	case claude.EvError:
		return evFailed{Gen: gen, Kind: e.Kind, Message: e.Message}
	default:
		return nil
	}
}

// RunnerFailed returns an event input reporting that the process of
// generation gen could not be started.
func RunnerFailed(gen int64, err error) actor.Input {
	return evFailed{Gen: gen, Kind: claude.FailureSpawn, Message: err.Error()}
}
