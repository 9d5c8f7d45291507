package session

import (
	"context"
	"sync"

	"github.com/claudian/claudian/internal/actor"
	"github.com/claudian/claudian/internal/claude"
	"github.com/claudian/claudian/pkg/logger"
)

// Handle is a running agent process.
type Handle interface {
	// Kill stops the process. It must be idempotent and must not block on
	// process exit.
	Kill() error
}

// Runner launches agent processes. Start must not block on the run itself;
// emit is called from the runner's own goroutines, one event at a time.
type Runner interface {
	Start(ctx context.Context, opts claude.Options, emit func(claude.Event)) (Handle, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, opts claude.Options, emit func(claude.Event)) (Handle, error)

// Start implements Runner.
func (f RunnerFunc) Start(ctx context.Context, opts claude.Options, emit func(claude.Event)) (Handle, error) {
	return f(ctx, opts, emit)
}

// ClaudeRunner launches the claude CLI.
var ClaudeRunner Runner = RunnerFunc(func(ctx context.Context, opts claude.Options, emit func(claude.Event)) (Handle, error) {
	p, err := claude.Start(ctx, opts, emit)
	if err != nil {
		return nil, err
	}
	return p, nil
})

// Sink renders the presentation model. Calls arrive from the actor loop, one
// at a time, in output order.
type Sink interface {
	// Reset clears the output for a new run.
	Reset()
	// AppendText appends to the open text block, or opens a new one first
	// when newBlock is set.
	AppendText(text string, newBlock bool)
	OpenToolCard(card ToolCard)
	// UpdateToolResult attaches the display text of a result to card id.
	UpdateToolResult(id string, display string)
	ToggleToolCard(id string, expanded bool)
	AppendError(message string)
	SetStatus(status Status, summary string)
}

// Runtime interprets session effects.
//
// Runtime never mutates session state. Runner events re-enter the loop
// through emit, tagged with the generation of the process that produced them.
type Runtime struct {
	mu sync.Mutex

	runner  Runner
	sink    Sink
	onClose func()

	handle Handle
	gen    int64
}

// NewRuntime returns a Runtime that starts runs with runner and renders into
// sink. onClose, if set, runs on its own goroutine when the user closes the
// session.
func NewRuntime(runner Runner, sink Sink, onClose func()) *Runtime {
	return &Runtime{runner: runner, sink: sink, onClose: onClose}
}

// HandleEffects implements actor.Runtime.
func (r *Runtime) HandleEffects(ctx context.Context, effects []actor.Effect, emit func(actor.Input)) {
	for _, eff := range effects {
		select {
		case <-ctx.Done():
			return
		default:
		}

		switch e := eff.(type) {
		case effStartRunner:
			r.startRunner(ctx, e, emit)
		case effKillRunner:
			r.killRunner(e.Gen)
		case effReleaseRunner:
			r.releaseRunner(e.Gen)
		case effResetOutput:
			r.sink.Reset()
		case effAppendText:
			r.sink.AppendText(e.Text, e.NewBlock)
		case effOpenToolCard:
			r.sink.OpenToolCard(e.Card)
		case effUpdateToolResult:
			r.sink.UpdateToolResult(e.ID, e.Display)
		case effToggleToolCard:
			r.sink.ToggleToolCard(e.ID, e.Expanded)
		case effAppendError:
			r.sink.AppendError(e.Message)
		case effSetStatus:
			r.sink.SetStatus(e.Status, e.Summary)
		case effClose:
			if r.onClose != nil {
				go r.onClose()
			}
		default:
			logger.Warnf("session: unhandled effect %T", eff)
		}
	}
}

// Stop implements actor.Runtime.
func (r *Runtime) Stop() {
	r.mu.Lock()
	h := r.handle
	r.handle = nil
	r.gen = 0
	r.mu.Unlock()
	if h != nil {
		if err := h.Kill(); err != nil {
			logger.Debugf("session: kill on stop: %v", err)
		}
	}
}

// Running reports the generation of the tracked process, or 0.
func (r *Runtime) Running() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.handle == nil {
		return 0
	}
	return r.gen
}

func (r *Runtime) startRunner(ctx context.Context, eff effStartRunner, emit func(actor.Input)) {
	// At most one process; a leftover handle here means a missed release.
	r.Stop()

	gen := eff.Gen
	h, err := r.runner.Start(ctx, eff.Options, func(ev claude.Event) {
		if in := RunnerEvent(gen, ev); in != nil {
			emit(in)
		}
	})
	if err != nil {
		logger.Warnf("session: start run %d: %v", gen, err)
		// emit blocks on a full mailbox; never from the loop goroutine.
		go emit(RunnerFailed(gen, err))
		return
	}

	r.mu.Lock()
	r.handle = h
	r.gen = gen
	r.mu.Unlock()
	logger.Debugf("session: run %d started", gen)
}

func (r *Runtime) killRunner(gen int64) {
	r.mu.Lock()
	h := r.handle
	if h == nil || r.gen != gen {
		r.mu.Unlock()
		return
	}
	r.handle = nil
	r.gen = 0
	r.mu.Unlock()

	if err := h.Kill(); err != nil {
		logger.Warnf("session: kill run %d: %v", gen, err)
	}
	logger.Debugf("session: run %d killed", gen)
}

func (r *Runtime) releaseRunner(gen int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gen != gen {
		return
	}
	r.handle = nil
	r.gen = 0
}
