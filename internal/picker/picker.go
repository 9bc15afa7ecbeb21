// Package picker presents a list of options, resolves a single selection or a
// cancellation, and returns control to the caller. It does not care how the
// list is fetched.
package picker

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnknownOption is returned when the selected key is not among the options.
	ErrUnknownOption = errors.New("unknown option")
	// ErrMissingKey is returned when a picker is resolved without a key.
	ErrMissingKey = errors.New("no option selected")
)

// Option is one listed choice.
type Option[T any] struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value T      `json:"value"`
}

// Selection is the outcome of a pick: either a chosen value or a cancellation.
type Selection[T any] struct {
	Value     T
	Key       string
	Cancelled bool
}

// Picker lists options from Load and resolves selections by Key.
type Picker[T any] struct {
	Load  func(ctx context.Context) ([]T, error)
	Key   func(T) string
	Label func(T) string
}

// Options fetches and labels the current list.
func (p Picker[T]) Options(ctx context.Context) ([]Option[T], error) {
	items, err := p.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load options: %w", err)
	}
	opts := make([]Option[T], 0, len(items))
	for _, item := range items {
		o := Option[T]{Key: p.Key(item), Value: item}
		if p.Label != nil {
			o.Label = p.Label(item)
		}
		opts = append(opts, o)
	}
	return opts, nil
}

// Resolve returns the option with the given key from a freshly loaded list.
func (p Picker[T]) Resolve(ctx context.Context, key string) (Selection[T], error) {
	if key == "" {
		return Selection[T]{}, ErrMissingKey
	}
	items, err := p.Load(ctx)
	if err != nil {
		return Selection[T]{}, fmt.Errorf("failed to load options: %w", err)
	}
	for _, item := range items {
		if p.Key(item) == key {
			return Selection[T]{Value: item, Key: key}, nil
		}
	}
	return Selection[T]{}, fmt.Errorf("%w: %q", ErrUnknownOption, key)
}

// Cancel returns the cancelled selection.
func (p Picker[T]) Cancel() Selection[T] {
	return Selection[T]{Cancelled: true}
}
