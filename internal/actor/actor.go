// Package actor runs a pure reducer on one goroutine and hands the effects it
// returns to a Runtime.
//
// State owned by an Actor only changes inside the reducer, one input at a
// time, in mailbox order. Runtimes do the I/O and feed results back as inputs.
package actor

import (
	"context"
	"errors"
	"sync"
)

// Input is a command or an observed event delivered to the mailbox.
type Input interface {
	isActorInput()
}

// Effect describes work for the Runtime. Reducers return effects as data.
type Effect interface {
	isActorEffect()
}

// InputBase is embedded by input types.
type InputBase struct{}

func (InputBase) isActorInput() {}

// EffectBase is embedded by effect types.
type EffectBase struct{}

func (EffectBase) isActorEffect() {}

// ReducerFunc computes the next state for one input. It must not do I/O,
// start goroutines or block. Replies to callers are completed without
// blocking.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime executes effects.
type Runtime interface {
	// HandleEffects runs on the loop goroutine and must not block. emit waits
	// for mailbox space, so inputs produced while handling effects are emitted
	// from another goroutine.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop releases anything the runtime still holds. Repeated calls are
	// allowed.
	Stop()
}

// Hooks observe the loop. All fields are optional.
type Hooks[S any] struct {
	OnInput      func(input Input)
	OnTransition func(prev S, next S, input Input)
	// OnPanic recovers a panic in the reducer or runtime. Without it the
	// panic propagates.
	OnPanic func(recovered any)
}

// ErrStopped is returned once the actor has been stopped.
var ErrStopped = errors.New("actor stopped")

const defaultMailboxSize = 256

// Actor owns a value of type S and serializes every change to it.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]
	mailbox chan Input

	mu    sync.RWMutex
	state S

	ctx       context.Context
	stop      context.CancelFunc
	startOnce sync.Once
	done      chan struct{}
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks installs hooks.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the mailbox capacity. Non-positive sizes are ignored.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.mailbox = make(chan Input, n)
		}
	}
}

// New returns an actor holding initial. Call Start to run the loop. runtime
// may be nil when the reducer produces no effects worth executing.
func New[S any](initial S, reduce ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	a := &Actor[S]{
		reduce:  reduce,
		runtime: runtime,
		mailbox: make(chan Input, defaultMailboxSize),
		state:   initial,
		done:    make(chan struct{}),
	}
	a.ctx, a.stop = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs the loop on a new goroutine. Only the first call has an effect.
func (a *Actor[S]) Start() {
	a.startOnce.Do(func() { go a.run() })
}

// Stop ends the loop and stops the runtime. Queued inputs are discarded.
func (a *Actor[S]) Stop() {
	a.stop()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done is closed when the loop has exited.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// State returns the current state.
func (a *Actor[S]) State() S {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Send queues input, waiting for room in the mailbox. A nil input is
// ignored.
func (a *Actor[S]) Send(ctx context.Context, input Input) error {
	if input == nil {
		return nil
	}
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	select {
	case a.mailbox <- input:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Call sends the input built by mk and waits for the reducer to complete its
// reply channel. It returns ErrStopped when the loop exits without replying.
func Call[S any](ctx context.Context, a *Actor[S], mk func(reply chan error) Input) error {
	reply := make(chan error, 1)
	if err := a.Send(ctx, mk(reply)); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrStopped
		}
	}
}

func (a *Actor[S]) run() {
	defer close(a.done)
	if a.hooks.OnPanic != nil {
		defer func() {
			if r := recover(); r != nil {
				a.hooks.OnPanic(r)
			}
		}()
	}

	// Runtime goroutines outlive HandleEffects calls, so their sends are
	// bounded by the actor's lifetime only.
	emit := func(in Input) { _ = a.Send(a.ctx, in) }

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.mailbox:
			a.apply(in, emit)
		}
	}
}

func (a *Actor[S]) apply(in Input, emit func(Input)) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	prev := a.State()
	next, effects := a.reduce(prev, in)
	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(prev, next, in)
	}
	if len(effects) > 0 && a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}
