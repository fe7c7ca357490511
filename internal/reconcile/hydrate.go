package reconcile

import (
	"context"
	"errors"
)

// Source says where an entity's remote state comes from: a payload already
// in hand, or a lookup against the API by id.
type Source[T any] struct {
	id      string
	payload *T
}

func FromPayload[T any](payload *T) Source[T] {
	return Source[T]{payload: payload}
}

func FromLookup[T any](id string) Source[T] {
	return Source[T]{id: id}
}

func (s Source[T]) resolve(ctx context.Context, fetch func(context.Context, string) (*T, error)) (*T, error) {
	if s.payload != nil {
		return s.payload, nil
	}
	if s.id == "" {
		return nil, errors.New("hydrate: source has neither payload nor id")
	}
	return fetch(ctx, s.id)
}
