package session

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/claudian/claudian/internal/claude"
	"github.com/stretchr/testify/require"
)

// fakeRun is one process started by fakeRunner. Tests drive it through emit.
type fakeRun struct {
	opts  claude.Options
	emit  func(claude.Event)
	kills atomic.Int32
}

func (r *fakeRun) Kill() error {
	r.kills.Add(1)
	return nil
}

type fakeRunner struct {
	mu       sync.Mutex
	runs     []*fakeRun
	startErr error
	started  chan *fakeRun
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{started: make(chan *fakeRun, 8)}
}

func (f *fakeRunner) Start(_ context.Context, opts claude.Options, emit func(claude.Event)) (Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return nil, f.startErr
	}
	run := &fakeRun{opts: opts, emit: emit}
	f.runs = append(f.runs, run)
	f.started <- run
	return run, nil
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func (f *fakeRunner) next(t *testing.T) *fakeRun {
	t.Helper()
	select {
	case run := <-f.started:
		return run
	case <-time.After(2 * time.Second):
		t.Fatal("runner was not started")
		return nil
	}
}

// recordingSink records sink calls as short strings.
type recordingSink struct {
	mu     sync.Mutex
	calls  []string
	status Status
}

func (s *recordingSink) record(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, fmt.Sprintf(format, args...))
}

func (s *recordingSink) Reset() { s.record("reset") }

func (s *recordingSink) AppendText(text string, newBlock bool) {
	if newBlock {
		s.record("block:%s", text)
		return
	}
	s.record("text:%s", text)
}

func (s *recordingSink) OpenToolCard(card ToolCard) {
	s.record("card:%s:%s", card.ToolUse.ID, card.Label())
}

func (s *recordingSink) UpdateToolResult(id string, display string) {
	s.record("result:%s:%s", id, display)
}

func (s *recordingSink) ToggleToolCard(id string, expanded bool) {
	s.record("toggle:%s:%t", id, expanded)
}

func (s *recordingSink) AppendError(message string) { s.record("error:%s", message) }

func (s *recordingSink) SetStatus(status Status, summary string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	s.record("status:%s:%s", status, summary)
}

func (s *recordingSink) snapshot() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *recordingSink) lastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func waitSinkStatus(t *testing.T, sink *recordingSink, want Status) {
	t.Helper()
	require.Eventually(t, func() bool { return sink.lastStatus() == want }, 2*time.Second, 5*time.Millisecond)
}
