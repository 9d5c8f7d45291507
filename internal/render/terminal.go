// Package render implements session sinks: a styled terminal transcript and
// a frame stream for machine consumers (NDJSON and websocket clients).
package render

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/claudian/claudian/internal/session"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	defaultWidth = 80
	resultPrefix = "  ⎿  "
	resultIndent = "     "
	inputIndent  = "     "
)

// Terminal renders a session as an append-only transcript. Text deltas are
// written as they arrive; cards, results and status lines start on a fresh
// line.
type Terminal struct {
	mu sync.Mutex

	w     io.Writer
	out   *termenv.Output
	width int

	cards map[string]session.ToolCard
	// midLine is set when the cursor is not at column 0.
	midLine bool
	// wrote is set once anything was written since the last Reset.
	wrote bool
}

var _ session.Sink = (*Terminal)(nil)

// NewTerminal returns a terminal sink writing to w. Styling is only applied
// when w is a terminal.
func NewTerminal(w io.Writer) *Terminal {
	profile := termenv.Ascii
	width := defaultWidth
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		profile = termenv.NewOutput(f).EnvColorProfile()
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			width = cols
		}
	}
	return &Terminal{
		w:     w,
		out:   termenv.NewOutput(w, termenv.WithProfile(profile)),
		width: width,
		cards: make(map[string]session.ToolCard),
	}
}

// Reset implements session.Sink.
func (t *Terminal) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakLine()
	t.cards = make(map[string]session.ToolCard)
	t.wrote = false
}

// AppendText implements session.Sink.
func (t *Terminal) AppendText(text string, newBlock bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if newBlock && t.wrote {
		t.breakLine()
		t.write("\n")
	}
	t.write(text)
}

// OpenToolCard implements session.Sink.
func (t *Terminal) OpenToolCard(card session.ToolCard) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cards[card.ToolUse.ID] = card

	t.breakLine()
	if t.wrote {
		t.write("\n")
	}
	bullet := t.out.String("●").Foreground(termenv.ANSIBlue).String()
	name := t.out.String(card.ToolUse.Name).Bold().String()
	header := bullet + " " + name
	if label := strings.Join(strings.Fields(card.Label()), " "); label != "" {
		header += "(" + t.clip(label, len(card.ToolUse.Name)+4) + ")"
	}
	t.write(header + "\n")
}

// UpdateToolResult implements session.Sink.
func (t *Terminal) UpdateToolResult(id string, display string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakLine()
	if strings.TrimSpace(display) == "" {
		display = "(no output)"
	}
	for i, line := range strings.Split(strings.TrimRight(display, "\n"), "\n") {
		prefix := resultIndent
		if i == 0 {
			prefix = resultPrefix
		}
		t.write(t.out.String(prefix + line).Faint().String() + "\n")
	}
}

// ToggleToolCard implements session.Sink. The transcript is append-only, so
// expanding prints the full input below the current output.
func (t *Terminal) ToggleToolCard(id string, expanded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	card, ok := t.cards[id]
	if !ok {
		return
	}
	card.Expanded = expanded
	t.cards[id] = card
	if !expanded {
		return
	}

	t.breakLine()
	t.write(t.out.String("  "+card.ToolUse.Name+" input ("+id+"):").Faint().String() + "\n")
	for _, line := range strings.Split(session.InputJSON(card.ToolUse), "\n") {
		t.write(inputIndent + line + "\n")
	}
}

// AppendError implements session.Sink.
func (t *Terminal) AppendError(message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.breakLine()
	t.write(t.out.String("Error: " + message).Foreground(termenv.ANSIRed).String() + "\n")
}

// SetStatus implements session.Sink.
func (t *Terminal) SetStatus(status session.Status, summary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if summary == "" {
		return
	}
	t.breakLine()
	style := t.out.String(summary)
	switch status {
	case session.StatusRunning:
		style = style.Faint()
	case session.StatusDone:
		style = style.Foreground(termenv.ANSIGreen)
	case session.StatusError:
		style = style.Foreground(termenv.ANSIRed).Bold()
	case session.StatusCancelled:
		style = style.Foreground(termenv.ANSIYellow)
	}
	t.write(style.String() + "\n")
	if status == session.StatusRunning {
		t.wrote = false
	}
}

// breakLine moves to column 0 if needed. Callers hold mu.
func (t *Terminal) breakLine() {
	if t.midLine {
		t.write("\n")
	}
}

func (t *Terminal) write(s string) {
	if s == "" {
		return
	}
	_, _ = io.WriteString(t.w, s)
	t.midLine = !strings.HasSuffix(s, "\n")
	t.wrote = true
}

// clip shortens a label to fit the terminal width after reserve columns.
func (t *Terminal) clip(s string, reserve int) string {
	limit := t.width - reserve
	if limit < 10 {
		limit = 10
	}
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit-1]) + "…"
}
