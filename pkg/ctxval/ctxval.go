// Package ctxval carries typed mutable values on a context. The request
// identity rides here: middleware wraps the request context once, and
// anything downstream can read or restamp values without re-deriving the
// context chain.
package ctxval

import (
	"context"
	"sync"
)

// Wrap makes ctx carry a mutable value store. Wrapping twice is a no-op.
func Wrap(ctx context.Context) context.Context {
	if _, ok := getClient(ctx); ok {
		return ctx
	}
	c := newClient(ctx)
	return context.WithValue(ctx, defKey, c)
}

func Set[K comparable, V any](ctx context.Context, k K, v V) {
	c, ok := getClient(ctx)
	if !ok {
		return
	}
	c.set(k, v)
}

func Get[K comparable, V any](ctx context.Context, k K) (V, bool) {
	c, ok := getClient(ctx)
	if !ok {
		return *new(V), false
	}
	v, ok := c.get(k).(V)
	return v, ok
}

type ctxKey struct{}

var defKey = ctxKey{}

type client struct {
	// a handful of values per request at most, a context chain suffices
	storage context.Context

	m sync.Mutex
}

func (c *client) get(key any) any {
	c.m.Lock()
	defer c.m.Unlock()
	return c.storage.Value(key)
}

func (c *client) set(key any, value any) {
	c.m.Lock()
	defer c.m.Unlock()
	c.storage = context.WithValue(c.storage, key, value)
}

func getClient(ctx context.Context) (*client, bool) {
	c, ok := ctx.Value(defKey).(*client)
	return c, ok
}

func newClient(ctx context.Context) *client {
	return &client{storage: ctx}
}
