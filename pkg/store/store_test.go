package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/socket"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	c, err := client.New("http://localhost")
	require.NoError(t, err)
	return New(c, opts...)
}

func TestNewBuildsAllRegistries(t *testing.T) {
	s := newStore(t)
	assert.NotNil(t, s.Client)
	assert.Nil(t, s.Socket)
	for _, reg := range []*registry.Registry{s.Singles, s.Lists, s.Forms, s.Characters, s.Profiles} {
		require.NotNil(t, reg)
	}
}

func TestWithSocket(t *testing.T) {
	sock := socket.NewClient()
	s := newStore(t, WithSocket(sock))
	assert.Same(t, sock, s.Socket)
}

func TestRegistriesAreDistinct(t *testing.T) {
	s := newStore(t)
	sc := s.NewScope()
	defer sc.Close()

	// The same name in different registries names different entries.
	_, err := s.Singles.Use(sc, "order/1", func() registry.Controller { return &stubController{name: "order/1"} })
	require.NoError(t, err)
	assert.Nil(t, s.Lists.Controller("order/1"))
	assert.NotNil(t, s.Singles.Controller("order/1"))
}

func TestReset(t *testing.T) {
	s := newStore(t)
	sc := s.NewScope()
	defer sc.Close()
	_, err := s.Singles.Use(sc, "order/1", func() registry.Controller { return &stubController{name: "order/1"} })
	require.NoError(t, err)

	s.Reset()
	assert.Nil(t, s.Singles.Controller("order/1"))
}

type stubController struct {
	name string
}

func (c *stubController) Name() string { return c.name }

func (c *stubController) Rename(name string) { c.name = name }

func (c *stubController) Persistent() bool { return false }

func (c *stubController) Purge() {}
