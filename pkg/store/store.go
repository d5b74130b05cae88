// Package store bundles the registries and shared boundaries every
// controller needs: the REST client, the optional push socket, and one
// registry per controller kind. A Store is the explicit context object
// passed through the component tree — construct one per application or
// per test, never share one globally.
package store

import (
	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/socket"
)

// Store owns one registry per controller kind plus the network
// boundaries. All fields are set at construction and never mutated, so a
// Store is safe to share between goroutines.
type Store struct {
	Client *client.Client
	// Socket is nil when the application runs without a push channel;
	// controllers degrade to request/response behavior.
	Socket *socket.Client

	Singles    *registry.Registry
	Lists      *registry.Registry
	Forms      *registry.Registry
	Characters *registry.Registry
	Profiles   *registry.Registry
}

// Option configures a Store.
type Option func(*Store)

// WithSocket attaches a push channel.
func WithSocket(sock *socket.Client) Option {
	return func(s *Store) { s.Socket = sock }
}

// New creates a Store around the given REST client.
func New(c *client.Client, opts ...Option) *Store {
	s := &Store{
		Client:     c,
		Singles:    registry.New("single"),
		Lists:      registry.New("list"),
		Forms:      registry.New("form"),
		Characters: registry.New("character"),
		Profiles:   registry.New("profile"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewScope opens a consumer scope. Callers close it when their lifecycle
// ends, releasing every ref it holds.
func (s *Store) NewScope() *registry.Scope {
	return registry.NewScope()
}

// Reset clears every registry unconditionally. Test isolation only.
func (s *Store) Reset() {
	s.Singles.Reset()
	s.Lists.Reset()
	s.Forms.Reset()
	s.Characters.Reset()
	s.Profiles.Reset()
}
