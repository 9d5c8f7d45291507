// Package actortest has helpers for testing reducers and actors.
package actortest

import (
	"context"
	"slices"
	"sync"

	"github.com/claudian/claudian/internal/actor"
)

// Recorder is a Runtime that keeps every effect it receives. Follow, when
// set, maps an effect to inputs that are emitted back asynchronously, the way
// a real runtime reports results.
type Recorder struct {
	Follow func(eff actor.Effect) []actor.Input

	mu      sync.Mutex
	effects []actor.Effect
	stopped int
}

var _ actor.Runtime = (*Recorder)(nil)

// HandleEffects implements actor.Runtime.
func (r *Recorder) HandleEffects(_ context.Context, effects []actor.Effect, emit func(actor.Input)) {
	r.mu.Lock()
	r.effects = append(r.effects, effects...)
	follow := r.Follow
	r.mu.Unlock()

	if follow == nil {
		return
	}
	for _, eff := range effects {
		for _, in := range follow(eff) {
			go emit(in)
		}
	}
}

// Stop implements actor.Runtime.
func (r *Recorder) Stop() {
	r.mu.Lock()
	r.stopped++
	r.mu.Unlock()
}

// Stopped reports how many times Stop ran.
func (r *Recorder) Stopped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

// Effects returns a copy of the recorded effects.
func (r *Recorder) Effects() []actor.Effect {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.effects)
}

// OfType filters effects down to those of type T.
func OfType[T actor.Effect](effects []actor.Effect) []T {
	var out []T
	for _, eff := range effects {
		if v, ok := eff.(T); ok {
			out = append(out, v)
		}
	}
	return out
}
