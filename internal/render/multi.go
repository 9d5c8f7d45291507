package render

import "github.com/claudian/claudian/internal/session"

type multiSink []session.Sink

// Multi returns a sink that forwards every call to each of sinks in order.
func Multi(sinks ...session.Sink) session.Sink {
	out := make(multiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

func (m multiSink) Reset() {
	for _, s := range m {
		s.Reset()
	}
}

func (m multiSink) AppendText(text string, newBlock bool) {
	for _, s := range m {
		s.AppendText(text, newBlock)
	}
}

func (m multiSink) OpenToolCard(card session.ToolCard) {
	for _, s := range m {
		s.OpenToolCard(card)
	}
}

func (m multiSink) UpdateToolResult(id string, display string) {
	for _, s := range m {
		s.UpdateToolResult(id, display)
	}
}

func (m multiSink) ToggleToolCard(id string, expanded bool) {
	for _, s := range m {
		s.ToggleToolCard(id, expanded)
	}
}

func (m multiSink) AppendError(message string) {
	for _, s := range m {
		s.AppendError(message)
	}
}

func (m multiSink) SetStatus(status session.Status, summary string) {
	for _, s := range m {
		s.SetStatus(status, summary)
	}
}
