// Package search synchronizes a search form, a result list, and the
// router's query string. Form edits flow to the list and the URL behind a
// trailing debounce; the URL update is a replace rather than a push so
// typing does not pollute browser history.
package search

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/debounce"
	"github.com/matthewbaird/atelier/pkg/forms"
	"github.com/matthewbaird/atelier/pkg/lists"
	"github.com/matthewbaird/atelier/pkg/query"
)

// debounceWindow is how long after the last form edit the list and router
// are updated.
const debounceWindow = 250 * time.Millisecond

// Binding wires one form to one list. Construct with Bind; call Close
// when the owning view goes away.
type Binding[T any] struct {
	form   *forms.Controller
	list   *lists.Controller[T]
	router query.Router

	mu     sync.Mutex
	closed bool

	debouncer   *debounce.Trailing
	unsubscribe func()
}

// Option configures a Binding.
type Option[T any] func(*Binding[T])

// WithWindow overrides the debounce window, mainly for tests.
func WithWindow[T any](window time.Duration) Option[T] {
	return func(b *Binding[T]) {
		b.debouncer = debounce.NewTrailing(window)
	}
}

// Bind starts forwarding the form's serialized data into the list's
// params and the router's query string.
func Bind[T any](form *forms.Controller, list *lists.Controller[T], router query.Router, opts ...Option[T]) *Binding[T] {
	b := &Binding[T]{
		form:      form,
		list:      list,
		router:    router,
		debouncer: debounce.NewTrailing(debounceWindow),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.unsubscribe = form.OnRawData(func(data map[string]any) {
		b.debouncer.Call(func() { b.apply(data) })
	})
	return b
}

// ApplyQuery seeds the form and list from an incoming query string, the
// deep-link and history-navigation path. It does not touch the router.
func (b *Binding[T]) ApplyQuery(ctx context.Context, values url.Values) error {
	for _, name := range b.form.FieldNames() {
		vs, ok := values[name]
		if !ok || len(vs) == 0 {
			continue
		}
		if f := b.form.Field(name); f != nil {
			f.Set(vs[0])
		}
	}
	b.list.SetParams(values)
	return b.refresh(ctx)
}

// Flush runs a pending debounced update immediately.
func (b *Binding[T]) Flush() {
	b.debouncer.Flush()
}

// Close stops forwarding. The form and list remain usable.
func (b *Binding[T]) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.mu.Unlock()
	b.debouncer.Cancel()
	b.unsubscribe()
}

func (b *Binding[T]) apply(data map[string]any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	params := query.FromRawData(data)
	if query.Equal(params, b.list.Params()) {
		return
	}
	b.list.SetParams(params)
	if b.router != nil {
		b.router.Replace(query.Clone(params))
	}
	if err := b.refresh(context.Background()); err != nil {
		var status *client.StatusError
		if errors.As(err, &status) {
			b.form.SetErrorsFrom(status)
		}
	}
}

// refresh reloads the list: a list that has loaded, is loading, or has
// failed goes back to page one; an untouched list issues its first get.
func (b *Binding[T]) refresh(ctx context.Context) error {
	var err error
	if b.list.Ready() || b.list.Fetching() || b.list.Failed() {
		_, err = b.list.Reset(ctx)
	} else {
		_, err = b.list.Get(ctx)
	}
	return err
}
