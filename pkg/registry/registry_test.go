package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	name    string
	persist bool
	purged  int
}

func (f *fakeController) Name() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.name
}

func (f *fakeController) Rename(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.name = name
}

func (f *fakeController) Persistent() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.persist
}

func (f *fakeController) Purge() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.purged++
}

func (f *fakeController) purgeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.purged
}

func build(name string) (func() Controller, *fakeController) {
	ctrl := &fakeController{name: name}
	return func() Controller { return ctrl }, ctrl
}

func TestUseRequiresScope(t *testing.T) {
	r := New("single")
	builder, _ := build("x")
	_, err := r.Use(nil, "x", builder)
	assert.ErrorIs(t, err, ErrNoScope)

	sc := NewScope()
	sc.Close()
	_, err = r.Use(sc, "x", builder)
	assert.ErrorIs(t, err, ErrNoScope)
}

func TestUseMissingWithoutBuilder(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()
	_, err := r.Use(sc, "x", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUseSharesExisting(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()

	builder, want := build("x")
	got, err := r.Use(sc, "x", builder)
	require.NoError(t, err)
	require.Same(t, Controller(want), got)

	otherBuilder, _ := build("x")
	again, err := r.Use(sc, "x", otherBuilder)
	require.NoError(t, err)
	assert.Same(t, got, again)
}

// Two scopes holding the same entry: the entry survives the first scope
// closing and is reaped only when the last ref drops.
func TestReapOnLastRef(t *testing.T) {
	r := New("single")
	a := NewScope()
	b := NewScope()

	builder, ctrl := build("x")
	_, err := r.Use(a, "x", builder)
	require.NoError(t, err)
	_, err = r.Use(b, "x", nil)
	require.NoError(t, err)
	require.Equal(t, 2, r.Refs("x"))

	a.Close()
	assert.NotNil(t, r.Controller("x"))
	assert.Equal(t, 1, r.Refs("x"))
	assert.Zero(t, ctrl.purgeCount())

	b.Close()
	assert.Nil(t, r.Controller("x"))
	assert.Equal(t, 1, ctrl.purgeCount())
}

func TestPersistentNeverReaped(t *testing.T) {
	r := New("single")
	sc := NewScope()

	ctrl := &fakeController{name: "viewer", persist: true}
	_, err := r.Use(sc, "viewer", func() Controller { return ctrl })
	require.NoError(t, err)

	sc.Close()
	assert.NotNil(t, r.Controller("viewer"))
	assert.Zero(t, ctrl.purgeCount())
}

func TestListenRequiresExisting(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()

	assert.ErrorIs(t, r.Listen(sc, "absent"), ErrNotFound)

	builder, _ := build("x")
	_, err := r.Use(sc, "x", builder)
	require.NoError(t, err)

	other := NewScope()
	require.NoError(t, r.Listen(other, "x"))
	assert.Equal(t, 2, r.Refs("x"))
	other.Close()
	assert.Equal(t, 1, r.Refs("x"))
}

func TestRenameMovesRefs(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()

	builder, ctrl := build("old")
	_, err := r.Use(sc, "old", builder)
	require.NoError(t, err)

	r.Rename("old", "new")
	assert.Nil(t, r.Controller("old"))
	assert.NotNil(t, r.Controller("new"))
	assert.Equal(t, "new", ctrl.Name())
	assert.Equal(t, 1, r.Refs("new"))
}

func TestDeleteLeavesPurgeToCaller(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()

	builder, ctrl := build("x")
	_, err := r.Use(sc, "x", builder)
	require.NoError(t, err)

	r.Delete("x")
	assert.Nil(t, r.Controller("x"))
	assert.Zero(t, ctrl.purgeCount())

	// Scope close after deletion finds no entry and must not purge.
	sc.Close()
	assert.Zero(t, ctrl.purgeCount())
}

func TestResetPurgesEverything(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()

	b1, c1 := build("x")
	b2, c2 := build("y")
	_, err := r.Use(sc, "x", b1)
	require.NoError(t, err)
	_, err = r.Use(sc, "y", b2)
	require.NoError(t, err)

	r.Reset()
	assert.Nil(t, r.Controller("x"))
	assert.Nil(t, r.Controller("y"))
	assert.Equal(t, 1, c1.purgeCount())
	assert.Equal(t, 1, c2.purgeCount())
}

func TestScopeReleaseSingleRef(t *testing.T) {
	r := New("single")
	sc := NewScope()
	defer sc.Close()

	b1, c1 := build("x")
	b2, c2 := build("y")
	_, err := r.Use(sc, "x", b1)
	require.NoError(t, err)
	_, err = r.Use(sc, "y", b2)
	require.NoError(t, err)

	sc.Release(r.ScopeKey("x"))
	assert.Nil(t, r.Controller("x"))
	assert.Equal(t, 1, c1.purgeCount())
	assert.NotNil(t, r.Controller("y"))
	assert.Zero(t, c2.purgeCount())
}

func TestIgnoreReleasesRef(t *testing.T) {
	r := New("single")
	sc := NewScope()

	builder, ctrl := build("x")
	_, err := r.Use(sc, "x", builder)
	require.NoError(t, err)

	r.Ignore(sc, "x")
	assert.Nil(t, r.Controller("x"))
	assert.Equal(t, 1, ctrl.purgeCount())

	// The scope no longer holds a release for the entry.
	sc.Close()
	assert.Equal(t, 1, ctrl.purgeCount())
}

func TestConcurrentUseSingleWinner(t *testing.T) {
	r := New("single")
	var wg sync.WaitGroup
	results := make([]Controller, 16)
	errs := make([]error, 16)
	scopes := make([]*Scope, 16)
	for i := range results {
		scopes[i] = NewScope()
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = r.Use(scopes[i], "x", func() Controller { return &fakeController{name: "x"} })
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for i := 1; i < len(results); i++ {
		assert.Same(t, results[0], results[i])
	}
	for _, sc := range scopes {
		sc.Close()
	}
	assert.Nil(t, r.Controller("x"))
}
