package registry

import (
	"sync"

	"github.com/google/uuid"
)

// Scope represents one consumer lifecycle (a view, a component, a test).
// Every ref taken through Use or Listen is tied to the scope; closing the
// scope releases them all, which is what triggers reaping.
type Scope struct {
	id uuid.UUID

	mu       sync.Mutex
	closed   bool
	releases map[string]func()
	order    []string
}

// NewScope creates an open scope with a fresh identity.
func NewScope() *Scope {
	return &Scope{
		id:       uuid.New(),
		releases: make(map[string]func()),
	}
}

// ID returns the scope's identity. Mostly useful in diagnostics.
func (s *Scope) ID() uuid.UUID { return s.id }

// Close releases every ref held by the scope, in acquisition order, and
// marks it unusable. Closing twice is harmless.
func (s *Scope) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	releases := make([]func(), 0, len(s.order))
	for _, key := range s.order {
		if release, ok := s.releases[key]; ok {
			releases = append(releases, release)
		}
	}
	s.releases = nil
	s.order = nil
	s.mu.Unlock()
	for _, release := range releases {
		release()
	}
}

// Closed reports whether the scope has been closed.
func (s *Scope) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Scope) active() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// attach records a release hook under key. Repeated Use of the same entry
// by the same scope keeps a single hook, mirroring the set semantics of
// ref tracking.
func (s *Scope) attach(key string, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, ok := s.releases[key]; ok {
		return
	}
	s.releases[key] = release
	s.order = append(s.order, key)
}

// Release drops a single ref ahead of Close. The key comes from
// Registry.ScopeKey. Unknown keys are ignored.
func (s *Scope) Release(key string) {
	s.mu.Lock()
	release, ok := s.releases[key]
	if ok {
		delete(s.releases, key)
	}
	s.mu.Unlock()
	if ok {
		release()
	}
}

func (s *Scope) detach(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.releases, key)
}
