package engine

import (
	"context"
	"fmt"
)

// Array is an insertion-ordered collection of engines keyed by served model
// name. Names are unique; a duplicate is a construction error.
type Array struct {
	engines []*Engine
	byName  map[string]*Engine
}

// NewArray builds an array from already-constructed engines.
func NewArray(engines ...*Engine) (*Array, error) {
	if len(engines) == 0 {
		return nil, fmt.Errorf("%w: engine array cannot be empty", ErrConfig)
	}
	byName := make(map[string]*Engine, len(engines))
	for _, e := range engines {
		name := e.Args().ServedModelName
		if _, dup := byName[name]; dup {
			return nil, fmt.Errorf("%w: duplicate served model name %q", ErrConfig, name)
		}
		byName[name] = e
	}
	return &Array{engines: engines, byName: byName}, nil
}

// FromArgs constructs one engine per args record, sharing opts.
func FromArgs(argsList []Args, opts Options) (*Array, error) {
	if len(argsList) == 0 {
		return nil, fmt.Errorf("%w: engine array cannot be empty", ErrConfig)
	}
	engines := make([]*Engine, len(argsList))
	for i, args := range argsList {
		e, err := New(args, opts)
		if err != nil {
			return nil, err
		}
		engines[i] = e
	}
	return NewArray(engines...)
}

// Engines returns the engines in insertion order.
func (a *Array) Engines() []*Engine {
	return a.engines
}

// Names returns the served model names in insertion order.
func (a *Array) Names() []string {
	names := make([]string, len(a.engines))
	for i, e := range a.engines {
		names[i] = e.Args().ServedModelName
	}
	return names
}

// Lookup resolves an engine by served model name. With a single engine any
// name resolves to it, the single-model deployment convenience.
func (a *Array) Lookup(name string) (*Engine, error) {
	if len(a.engines) == 1 {
		return a.engines[0], nil
	}
	if e, ok := a.byName[name]; ok {
		return e, nil
	}
	return nil, &ModelNotFoundError{Requested: name, Available: a.Names()}
}

// At resolves an engine by insertion index. With a single engine any index
// resolves to it.
func (a *Array) At(index int) (*Engine, error) {
	if len(a.engines) == 1 {
		return a.engines[0], nil
	}
	if index < 0 || index >= len(a.engines) {
		return nil, &ModelNotFoundError{
			Requested: fmt.Sprintf("#%d", index),
			Available: a.Names(),
		}
	}
	return a.engines[index], nil
}

// StartAll starts every engine in insertion order. The first failure stops
// the sweep and propagates.
func (a *Array) StartAll(ctx context.Context) error {
	for _, e := range a.engines {
		if err := e.Start(ctx); err != nil {
			return err
		}
	}
	return nil
}

// StopAll stops every engine in reverse insertion order, continuing past
// failures and returning the first error seen.
func (a *Array) StopAll(ctx context.Context) error {
	var firstErr error
	for i := len(a.engines) - 1; i >= 0; i-- {
		if err := a.engines[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
