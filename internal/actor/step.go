package actor

// Replay feeds inputs through reduce starting at state, without a loop or a
// runtime. It returns the final state and every effect in order.
func Replay[S any](state S, reduce ReducerFunc[S], inputs ...Input) (S, []Effect) {
	var all []Effect
	for _, in := range inputs {
		next, effects := reduce(state, in)
		state = next
		all = append(all, effects...)
	}
	return state, all
}
