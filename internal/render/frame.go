package render

import (
	"encoding/json"
	"io"
	"sync"

	"github.com/claudian/claudian/internal/session"
	"github.com/claudian/claudian/pkg/logger"
)

// FrameType names a presentation update.
type FrameType string

const (
	FrameReset      FrameType = "reset"
	FrameText       FrameType = "text"
	FrameToolUse    FrameType = "tool_use"
	FrameToolResult FrameType = "tool_result"
	FrameToolToggle FrameType = "tool_toggle"
	FrameError      FrameType = "error"
	FrameStatus     FrameType = "status"
)

// Frame is one sink call in wire form.
type Frame struct {
	Type FrameType `json:"type"`

	// text
	Text     string `json:"text,omitempty"`
	NewBlock bool   `json:"new_block,omitempty"`

	// tool_use, tool_result, tool_toggle
	ID       string         `json:"id,omitempty"`
	Tool     string         `json:"tool,omitempty"`
	Label    string         `json:"label,omitempty"`
	Input    map[string]any `json:"input,omitempty"`
	Display  string         `json:"display,omitempty"`
	Expanded bool           `json:"expanded,omitempty"`

	// error
	Message string `json:"message,omitempty"`

	// status
	Status  session.Status `json:"status,omitempty"`
	Summary string         `json:"summary,omitempty"`
}

// FrameSink turns sink calls into frames.
type FrameSink struct {
	emit func(Frame)
}

var _ session.Sink = (*FrameSink)(nil)

// NewFrameSink returns a sink that passes every frame to emit, in order.
func NewFrameSink(emit func(Frame)) *FrameSink {
	return &FrameSink{emit: emit}
}

// NewJSONSink returns a sink writing one JSON frame per line to w.
func NewJSONSink(w io.Writer) *FrameSink {
	var (
		mu     sync.Mutex
		failed bool
	)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return NewFrameSink(func(f Frame) {
		mu.Lock()
		defer mu.Unlock()
		if err := enc.Encode(f); err != nil && !failed {
			failed = true
			logger.Warnf("render: writing frame: %v", err)
		}
	})
}

func (s *FrameSink) Reset() { s.emit(Frame{Type: FrameReset}) }

func (s *FrameSink) AppendText(text string, newBlock bool) {
	s.emit(Frame{Type: FrameText, Text: text, NewBlock: newBlock})
}

func (s *FrameSink) OpenToolCard(card session.ToolCard) {
	s.emit(Frame{
		Type:  FrameToolUse,
		ID:    card.ToolUse.ID,
		Tool:  card.ToolUse.Name,
		Label: card.Label(),
		Input: card.ToolUse.Input,
	})
}

func (s *FrameSink) UpdateToolResult(id string, display string) {
	s.emit(Frame{Type: FrameToolResult, ID: id, Display: display})
}

func (s *FrameSink) ToggleToolCard(id string, expanded bool) {
	s.emit(Frame{Type: FrameToolToggle, ID: id, Expanded: expanded})
}

func (s *FrameSink) AppendError(message string) {
	s.emit(Frame{Type: FrameError, Message: message})
}

func (s *FrameSink) SetStatus(status session.Status, summary string) {
	s.emit(Frame{Type: FrameStatus, Status: status, Summary: summary})
}

// Snapshot returns the frames that rebuild the presentation of state from
// scratch, for clients that attach mid-run.
func Snapshot(state session.State) []Frame {
	frames := []Frame{{Type: FrameReset}}
	for _, item := range state.Output {
		switch item.Kind {
		case session.ItemText:
			frames = append(frames, Frame{Type: FrameText, Text: item.Text, NewBlock: true})
		case session.ItemError:
			frames = append(frames, Frame{Type: FrameError, Message: item.Text})
		case session.ItemToolCard:
			card, ok := state.Card(item.ToolUseID)
			if !ok {
				continue
			}
			frames = append(frames, Frame{
				Type:  FrameToolUse,
				ID:    card.ToolUse.ID,
				Tool:  card.ToolUse.Name,
				Label: card.Label(),
				Input: card.ToolUse.Input,
			})
			if card.Resolved() {
				frames = append(frames, Frame{Type: FrameToolResult, ID: card.ToolUse.ID, Display: card.ResultDisplay()})
			}
			if card.Expanded {
				frames = append(frames, Frame{Type: FrameToolToggle, ID: card.ToolUse.ID, Expanded: true})
			}
		}
	}
	if state.Status != session.StatusIdle {
		frames = append(frames, Frame{Type: FrameStatus, Status: state.Status, Summary: state.Summary()})
	}
	return frames
}
