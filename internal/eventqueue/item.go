package eventqueue

import (
	"context"
	"errors"
	"fmt"
)

// ErrItemPanicked wraps a value recovered from a panicking item.
var ErrItemPanicked = errors.New("event panicked")

// Item is one deferred invocation. Arguments are bound at creation time, so an
// Item is immutable once built and carries no identity beyond one execution.
type Item struct {
	// Name is used for logging only.
	Name string
	Fn   func(ctx context.Context) error
}

// NewItem wraps fn as an Item.
func NewItem(name string, fn func(ctx context.Context) error) Item {
	return Item{Name: name, Fn: fn}
}

// Action wraps a function that cannot fail.
func Action(name string, fn func()) Item {
	return Item{Name: name, Fn: func(context.Context) error {
		fn()
		return nil
	}}
}

// Bind binds one argument to fn.
func Bind[A any](name string, fn func(context.Context, A) error, a A) Item {
	return Item{Name: name, Fn: func(ctx context.Context) error {
		return fn(ctx, a)
	}}
}

// Bind2 binds two arguments to fn.
func Bind2[A, B any](name string, fn func(context.Context, A, B) error, a A, b B) Item {
	return Item{Name: name, Fn: func(ctx context.Context) error {
		return fn(ctx, a, b)
	}}
}

// run executes the item, converting a panic into an error.
func (it Item) run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrItemPanicked, r)
		}
	}()
	if it.Fn == nil {
		return nil
	}
	return it.Fn(ctx)
}
