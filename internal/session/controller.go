package session

import (
	"context"
	"errors"

	"github.com/claudian/claudian/internal/actor"
	"github.com/claudian/claudian/internal/config"
	"github.com/claudian/claudian/pkg/logger"
	"github.com/google/uuid"
)

// Controller owns one session: at most one agent run at a time, the
// correlation of its tool calls and the rendering of its output.
//
// All methods are safe for concurrent use. Each command is serialized through
// the session loop; methods return once the command has been accepted or
// rejected, without waiting for the agent process.
type Controller struct {
	id      string
	actor   *actor.Actor[State]
	runtime *Runtime
}

// Option configures a Controller.
type Option func(*options)

type options struct {
	onClose     func()
	mailboxSize int
}

// WithOnClose sets the hook run when the user cancels while no run is active.
func WithOnClose(fn func()) Option {
	return func(o *options) { o.onClose = fn }
}

// WithMailboxSize overrides the loop's input buffer.
func WithMailboxSize(n int) Option {
	return func(o *options) { o.mailboxSize = n }
}

// New creates an idle controller for ws and starts its loop.
func New(ws Workspace, runner Runner, sink Sink, opts ...Option) *Controller {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	id := uuid.NewString()
	rt := NewRuntime(runner, sink, o.onClose)
	actorOpts := []actor.Option[State]{actor.WithHooks(loggingHooks(id))}
	if o.mailboxSize > 0 {
		actorOpts = append(actorOpts, actor.WithMailboxSize[State](o.mailboxSize))
	}

	c := &Controller{
		id:      id,
		actor:   actor.New(NewState(ws), Reduce, rt, actorOpts...),
		runtime: rt,
	}
	c.actor.Start()
	logger.Debugf("session %s: created in %s", id, ws.VaultRoot)
	return c
}

func loggingHooks(id string) actor.Hooks[State] {
	return actor.Hooks[State]{
		OnInput: func(in actor.Input) {
			if logger.Enabled(logger.LevelTrace) {
				logger.Tracef("session %s: input %T", id, in)
			}
		},
		OnTransition: func(prev, next State, _ actor.Input) {
			if prev.Status != next.Status {
				logger.Debugf("session %s: %s -> %s (run %d)", id, prev.Status, next.Status, next.RunnerGen)
			}
		},
		OnPanic: func(r any) {
			logger.Errorf("session %s: loop panic: %v", id, r)
		},
	}
}

// ID returns the controller's instance id.
func (c *Controller) ID() string { return c.id }

// State returns a snapshot of the session state.
func (c *Controller) State() State { return c.actor.State() }

// Done closes once the controller has been disposed.
func (c *Controller) Done() <-chan struct{} { return c.actor.Done() }

// Start begins a run for prompt. It fails with ErrRunning while a run is
// active and with ErrEmptyPrompt when prompt is blank.
func (c *Controller) Start(ctx context.Context, prompt string) error {
	return c.call(ctx, func(reply chan error) actor.Input { return StartRun(prompt, reply) })
}

// Cancel kills the active run. With no run active it closes the session
// through the OnClose hook and returns ErrNotRunning.
func (c *Controller) Cancel(ctx context.Context) error {
	return c.call(ctx, CancelRun)
}

// ToggleCard flips the expanded flag of the tool card id.
func (c *Controller) ToggleCard(ctx context.Context, id string) error {
	return c.call(ctx, func(reply chan error) actor.Input { return ToggleCard(id, reply) })
}

// SetActiveFile sets the file mentioned to the agent on the next run.
func (c *Controller) SetActiveFile(ctx context.Context, path string) error {
	return c.call(ctx, func(reply chan error) actor.Input { return SetActiveFile(path, reply) })
}

// UpdateSettings replaces the settings used from the next run on.
func (c *Controller) UpdateSettings(ctx context.Context, settings config.Settings) error {
	return c.call(ctx, func(reply chan error) actor.Input { return UpdateSettings(settings, reply) })
}

// Dispose kills any active run and stops the loop. It is idempotent.
func (c *Controller) Dispose(ctx context.Context) error {
	err := c.call(ctx, Dispose)
	if errors.Is(err, ErrDisposed) {
		err = nil
	}
	c.actor.Stop()
	<-c.actor.Done()
	return err
}

func (c *Controller) call(ctx context.Context, mk func(reply chan error) actor.Input) error {
	err := actor.Call(ctx, c.actor, mk)
	if errors.Is(err, actor.ErrStopped) {
		return ErrDisposed
	}
	return err
}
