package session

import (
	"strings"
	"testing"

	"github.com/claudian/claudian/internal/actor"
	"github.com/claudian/claudian/internal/actor/actortest"
	"github.com/claudian/claudian/internal/claude"
	"github.com/claudian/claudian/internal/config"
	"github.com/stretchr/testify/require"
)

func testWorkspace() Workspace {
	return Workspace{
		VaultRoot:   "/vault",
		CurrentFile: "notes/today.md",
		Settings:    config.DefaultSettings(),
	}
}

// startRun applies an accepted start and returns the running state.
func startRun(t *testing.T, state State, prompt string) State {
	t.Helper()
	reply := make(chan error, 1)
	next, _ := Reduce(state, StartRun(prompt, reply))
	require.NoError(t, <-reply)
	require.Equal(t, StatusRunning, next.Status)
	return next
}

func textDelta(gen int64, text string) actor.Input {
	return RunnerEvent(gen, claude.EvTextDelta{Text: text})
}

func toolUse(gen int64, id, name string, input map[string]any) actor.Input {
	return RunnerEvent(gen, claude.EvToolUse{ToolUse: claude.ToolUse{ID: id, Name: name, Input: input}})
}

func toolResult(gen int64, id, content string) actor.Input {
	return RunnerEvent(gen, claude.EvToolResult{ToolResult: claude.ToolResult{ToolUseID: id, Content: content}})
}

func completed(gen int64, turns int, cost float64) actor.Input {
	return RunnerEvent(gen, claude.EvCompleted{Turns: turns, CostUSD: cost})
}

func failed(gen int64, msg string) actor.Input {
	return RunnerEvent(gen, claude.EvError{Kind: claude.FailureProcess, Message: msg})
}

func outputKinds(state State) []ItemKind {
	kinds := make([]ItemKind, 0, len(state.Output))
	for _, item := range state.Output {
		kinds = append(kinds, item.Kind)
	}
	return kinds
}

func TestStartAcceptedFromIdle(t *testing.T) {
	t.Parallel()

	reply := make(chan error, 1)
	next, effects := Reduce(NewState(testWorkspace()), StartRun("  summarize this  ", reply))
	require.NoError(t, <-reply)

	require.Equal(t, StatusRunning, next.Status)
	require.Equal(t, int64(1), next.RunnerGen)
	require.Equal(t, "summarize this", next.Prompt)
	require.Equal(t, []actor.Effect{
		effResetOutput{},
		effSetStatus{Status: StatusRunning, Summary: "Running..."},
		effStartRunner{
			Gen: 1,
			Options: claude.Options{
				Prompt:      "summarize this",
				WorkDir:     "/vault",
				CurrentFile: "notes/today.md",
				Settings:    config.DefaultSettings(),
			},
		},
	}, effects)
}

func TestStartRejectedWhileRunning(t *testing.T) {
	t.Parallel()

	state := startRun(t, NewState(testWorkspace()), "first")
	state, _ = Reduce(state, textDelta(1, "partial"))

	reply := make(chan error, 1)
	next, effects := Reduce(state, StartRun("second", reply))
	require.ErrorIs(t, <-reply, ErrRunning)
	require.Empty(t, effects)
	require.Equal(t, state, next)
}

func TestStartRejectsBlankPrompt(t *testing.T) {
	t.Parallel()

	for _, prompt := range []string{"", "   ", "\n\t "} {
		reply := make(chan error, 1)
		state := NewState(testWorkspace())
		next, effects := Reduce(state, StartRun(prompt, reply))
		require.ErrorIs(t, <-reply, ErrEmptyPrompt)
		require.Empty(t, effects)
		require.Equal(t, StatusIdle, next.Status)
		require.Zero(t, next.RunnerGen)
	}
}

func TestStartResetsPreviousRun(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "first"), Reduce,
		textDelta(1, "hello"),
		toolUse(1, "t1", "Read", map[string]any{"file_path": "a.md"}),
		toolResult(1, "t1", "contents"),
		completed(1, 3, 0.5),
	)
	require.Equal(t, StatusDone, state.Status)
	require.Len(t, state.Cards, 1)

	for _, terminal := range []Status{StatusDone, StatusError, StatusCancelled} {
		prev := state
		prev.Status = terminal
		next := startRun(t, prev, "second")

		require.Equal(t, int64(2), next.RunnerGen)
		require.Empty(t, next.Output)
		require.Empty(t, next.Cards)
		require.Empty(t, next.CardOrder)
		require.False(t, next.TextOpen)
		require.Zero(t, next.Turns)
		require.Zero(t, next.CostUSD)
	}
}

func TestTextDeltasCoalesceIntoOneBlock(t *testing.T) {
	t.Parallel()

	state := startRun(t, NewState(testWorkspace()), "go")
	state, first := Reduce(state, textDelta(1, "Hello"))
	state, second := Reduce(state, textDelta(1, " world"))

	require.Equal(t, []string{"Hello world"}, state.TextBlocks())
	open, ok := state.OpenTextBlock()
	require.True(t, ok)
	require.Equal(t, "Hello world", open)
	require.Equal(t, []actor.Effect{effAppendText{Text: "Hello", NewBlock: true}}, first)
	require.Equal(t, []actor.Effect{effAppendText{Text: " world"}}, second)
}

func TestToolUseClosesTextBlock(t *testing.T) {
	t.Parallel()

	state, effects := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		textDelta(1, "a"),
		toolUse(1, "t1", "Grep", map[string]any{"pattern": "TODO"}),
		textDelta(1, "b"),
	)

	require.Equal(t, []string{"a", "b"}, state.TextBlocks())
	require.Equal(t, []ItemKind{ItemText, ItemToolCard, ItemText}, outputKinds(state))

	appends := actortest.OfType[effAppendText](effects)
	require.Len(t, appends, 2)
	require.True(t, appends[0].NewBlock)
	require.True(t, appends[1].NewBlock)

	card, ok := state.Card("t1")
	require.True(t, ok)
	require.False(t, card.Resolved())
	require.False(t, card.Expanded)
	require.Equal(t, "TODO", card.Label())
}

func TestToolResultCorrelatesWithCard(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		toolUse(1, "t1", "Read", map[string]any{"file_path": "a.md"}),
		toolUse(1, "t2", "LS", map[string]any{}),
	)
	next, effects := Reduce(state, toolResult(1, "t2", "a.md\nb.md"))

	require.Equal(t, []actor.Effect{effUpdateToolResult{ID: "t2", Display: "a.md\nb.md"}}, effects)
	t1, _ := next.Card("t1")
	t2, _ := next.Card("t2")
	require.False(t, t1.Resolved())
	require.True(t, t2.Resolved())
	require.Equal(t, "a.md\nb.md", t2.Result.Content)
	require.Equal(t, StatusRunning, next.Status)
}

func TestToolResultTruncatesDisplayOnly(t *testing.T) {
	t.Parallel()

	content := strings.Repeat("a", 1000)
	state, effects := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		toolUse(1, "t1", "Bash", map[string]any{"command": "yes a"}),
		toolResult(1, "t1", content),
	)

	updates := actortest.OfType[effUpdateToolResult](effects)
	require.Len(t, updates, 1)
	require.Equal(t, strings.Repeat("a", 500)+"\n… (truncated)", updates[0].Display)

	card, _ := state.Card("t1")
	require.Equal(t, content, card.Result.Content)
}

func TestUnknownToolResultIsIgnored(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		toolUse(1, "t1", "Read", map[string]any{"file_path": "a.md"}),
	)
	next, effects := Reduce(state, toolResult(1, "nope", "orphan"))
	require.Empty(t, effects)
	require.Equal(t, state, next)
}

func TestReusedToolUseIDReplacesCard(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		toolUse(1, "t1", "Read", map[string]any{"file_path": "old.md"}),
		toolResult(1, "t1", "old"),
		toolUse(1, "t2", "Glob", map[string]any{"pattern": "*.md"}),
		toolUse(1, "t1", "Read", map[string]any{"file_path": "new.md"}),
	)

	require.Len(t, state.Cards, 2)
	require.Equal(t, []string{"t2", "t1"}, state.CardOrder)
	card, _ := state.Card("t1")
	require.Equal(t, "new.md", card.Label())
	require.False(t, card.Resolved())

	var ids []string
	for _, item := range state.Output {
		ids = append(ids, item.ToolUseID)
	}
	require.Equal(t, []string{"t2", "t1"}, ids)
}

func TestCompletionSetsCountersAndSummary(t *testing.T) {
	t.Parallel()

	tests := []struct {
		turns   int
		cost    float64
		summary string
	}{
		{turns: 3, cost: 0.0123, summary: "Done (3 turns · $0.0123)"},
		{turns: 1, cost: 0, summary: "Done (1 turn · $0.0000)"},
		{turns: 0, cost: 1.23456, summary: "Done (0 turns · $1.2346)"},
	}
	for _, tc := range tests {
		state := startRun(t, NewState(testWorkspace()), "go")
		next, effects := Reduce(state, completed(1, tc.turns, tc.cost))

		require.Equal(t, StatusDone, next.Status)
		require.Equal(t, tc.turns, next.Turns)
		require.Equal(t, tc.cost, next.CostUSD)
		require.Equal(t, tc.summary, next.Summary())
		require.Equal(t, []actor.Effect{
			effReleaseRunner{Gen: 1},
			effSetStatus{Status: StatusDone, Summary: tc.summary},
		}, effects)
	}
}

func TestFailureAppendsErrorBlock(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		textDelta(1, "thinking"),
	)
	next, effects := Reduce(state, failed(1, "claude exited: exit status 1"))

	require.Equal(t, StatusError, next.Status)
	require.Equal(t, "claude exited: exit status 1", next.ErrorMessage)
	require.Equal(t, []ItemKind{ItemText, ItemError}, outputKinds(next))
	require.False(t, next.TextOpen)
	require.Equal(t, []actor.Effect{
		effAppendError{Message: "claude exited: exit status 1"},
		effReleaseRunner{Gen: 1},
		effSetStatus{Status: StatusError, Summary: "Error occurred. See output above."},
	}, effects)
}

func TestCancelKillsOnceAndIgnoresLateEvents(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		textDelta(1, "working"),
		toolUse(1, "t1", "Bash", map[string]any{"command": "make"}),
	)

	reply := make(chan error, 1)
	cancelled, effects := Reduce(state, CancelRun(reply))
	require.NoError(t, <-reply)
	require.Equal(t, StatusCancelled, cancelled.Status)
	require.Equal(t, "Cancelled.", cancelled.Summary())
	require.Len(t, actortest.OfType[effKillRunner](effects), 1)

	late, lateEffects := actor.Replay(cancelled, Reduce,
		textDelta(1, "more"),
		toolUse(1, "t2", "Read", map[string]any{"file_path": "x"}),
		toolResult(1, "t1", "built"),
		completed(1, 2, 0.1),
		failed(1, "killed"),
	)
	require.Empty(t, lateEffects)
	require.Equal(t, cancelled, late)
	_, open := late.OpenTextBlock()
	require.False(t, open)

	// A second cancel closes instead of killing again.
	reply = make(chan error, 1)
	_, effects = Reduce(late, CancelRun(reply))
	require.ErrorIs(t, <-reply, ErrNotRunning)
	require.Empty(t, actortest.OfType[effKillRunner](effects))
	require.Len(t, actortest.OfType[effClose](effects), 1)
}

func TestStaleGenerationIsIgnored(t *testing.T) {
	t.Parallel()

	state := startRun(t, NewState(testWorkspace()), "first")
	state, _ = Reduce(state, CancelRun(nil))
	state = startRun(t, state, "second")
	require.Equal(t, int64(2), state.RunnerGen)

	stale, effects := actor.Replay(state, Reduce,
		textDelta(1, "old"),
		completed(1, 9, 9),
	)
	require.Empty(t, effects)
	require.Equal(t, state, stale)

	fresh, _ := Reduce(state, textDelta(2, "new"))
	require.Equal(t, []string{"new"}, fresh.TextBlocks())
}

func TestCancelWhenIdleCloses(t *testing.T) {
	t.Parallel()

	state := NewState(testWorkspace())
	reply := make(chan error, 1)
	next, effects := Reduce(state, CancelRun(reply))
	require.ErrorIs(t, <-reply, ErrNotRunning)
	require.Equal(t, state, next)
	require.Equal(t, []actor.Effect{effClose{}}, effects)
}

func TestToggleCard(t *testing.T) {
	t.Parallel()

	state, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		toolUse(1, "t1", "Read", map[string]any{"file_path": "a.md"}),
		completed(1, 1, 0),
	)

	reply := make(chan error, 1)
	next, effects := Reduce(state, ToggleCard("t1", reply))
	require.NoError(t, <-reply)
	card, _ := next.Card("t1")
	require.True(t, card.Expanded)
	require.Equal(t, []actor.Effect{effToggleToolCard{ID: "t1", Expanded: true}}, effects)

	// The previous snapshot is untouched.
	before, _ := state.Card("t1")
	require.False(t, before.Expanded)

	next, _ = Reduce(next, ToggleCard("t1", nil))
	card, _ = next.Card("t1")
	require.False(t, card.Expanded)

	reply = make(chan error, 1)
	_, effects = Reduce(next, ToggleCard("missing", reply))
	require.ErrorIs(t, <-reply, ErrUnknownCard)
	require.Empty(t, effects)
}

func TestWorkspaceChangesApplyToNextRun(t *testing.T) {
	t.Parallel()

	settings := config.DefaultSettings()
	settings.Model = "opus"

	state, _ := actor.Replay(NewState(testWorkspace()), Reduce,
		SetActiveFile("projects/plan.md", nil),
		UpdateSettings(settings, nil),
	)
	_, effects := Reduce(state, StartRun("plan", nil))

	starts := actortest.OfType[effStartRunner](effects)
	require.Len(t, starts, 1)
	require.Equal(t, "projects/plan.md", starts[0].Options.CurrentFile)
	require.Equal(t, "opus", starts[0].Options.Settings.Model)
}

func TestDisposeKillsAndIgnoresEverything(t *testing.T) {
	t.Parallel()

	state := startRun(t, NewState(testWorkspace()), "go")
	disposed, effects := Reduce(state, Dispose(nil))
	require.True(t, disposed.Disposed)
	require.Equal(t, []actor.Effect{effKillRunner{Gen: 1}}, effects)

	reply := make(chan error, 1)
	next, effects := Reduce(disposed, StartRun("again", reply))
	require.ErrorIs(t, <-reply, ErrDisposed)
	require.Empty(t, effects)

	next, effects = Reduce(next, textDelta(1, "late"))
	require.Empty(t, effects)
	require.Equal(t, disposed, next)
}

func TestSystemInitRecordsAgentSession(t *testing.T) {
	t.Parallel()

	state := startRun(t, NewState(testWorkspace()), "go")
	next, effects := Reduce(state, RunnerEvent(1, claude.EvSystemInit{SessionID: "abc", Tools: []string{"Read"}}))
	require.Empty(t, effects)
	require.Equal(t, "abc", next.AgentSessionID)
	require.Equal(t, []string{"Read"}, next.AgentTools)
}

func TestReduceDoesNotMutatePreviousState(t *testing.T) {
	t.Parallel()

	base, _ := actor.Replay(startRun(t, NewState(testWorkspace()), "go"), Reduce,
		textDelta(1, "a"),
	)
	left, _ := Reduce(base, textDelta(1, "b"))
	right, _ := Reduce(base, textDelta(1, "c"))

	require.Equal(t, []string{"a"}, base.TextBlocks())
	require.Equal(t, []string{"ab"}, left.TextBlocks())
	require.Equal(t, []string{"ac"}, right.TextBlocks())
}

func TestRunnerEventIgnoresUnknownEvents(t *testing.T) {
	t.Parallel()
	require.Nil(t, RunnerEvent(1, nil))
}
