package persist

import "errors"

// Persister handles I/O for a specific state type using a Codec.
type Persister[T any] struct {
	basename string
	codec    Codec
}

// NewPersister creates a persister with the given basename and codec.
func NewPersister[T any](basename string, codec Codec) *Persister[T] {
	return &Persister[T]{
		basename: basename,
		codec:    codec,
	}
}

// Save writes state to dir.
func (p *Persister[T]) Save(dir string, state *T) error {
	return SaveState(dir, p.basename, p.codec, state)
}

// Load restores state from dir. A missing state yields the zero value and
// found=false.
func (p *Persister[T]) Load(dir string) (state T, found bool, err error) {
	err = LoadState(dir, p.basename, p.codec, &state)
	if errors.Is(err, ErrNoState) {
		return state, false, nil
	}

	if err != nil {
		return state, false, err
	}

	return state, true, nil
}
