// Package singles implements the controller for one server-backed
// resource. The controller owns the authoritative copy of the value;
// consumers never mutate it directly, only through controller methods.
//
// Every network resolution is guarded by a monotonic request token taken
// when the request is issued: a resolution whose token is no longer
// current is discarded, which gives last-request-wins semantics without
// cancelling anything in flight.
package singles

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/google/uuid"

	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/observer"
	"github.com/matthewbaird/atelier/pkg/query"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/socket"
	"github.com/matthewbaird/atelier/pkg/store"
)

// Schema declares a single on first Use. On subsequent Use calls for the
// same name the schema is ignored; the first writer wins.
type Schema[T any] struct {
	Endpoint string
	// X preloads the value, e.g. from server-rendered bootstrap data.
	X          *T
	Params     url.Values
	Persistent bool
	// StatusOK whitelists response codes treated as a successful fetch
	// with no payload.
	StatusOK []int
	Socket   *socket.SingleSettings
}

// Controller tracks one server-backed object.
type Controller[T any] struct {
	store     *store.Store
	socketKey string

	mu        sync.Mutex
	name      string
	endpoint  string
	params    url.Values
	x         *T
	fetching  bool
	ready     bool
	failed    bool
	deleted   bool
	persist   bool
	statusOK  []int
	sock      *socket.SingleSettings
	watchedPK string
	token     uint64
	purged    bool

	changes observer.Hub[*T]
}

// Use fetches or creates the single registered under name. The schema may
// be nil when the entry is known to exist already.
func Use[T any](st *store.Store, sc *registry.Scope, name string, schema *Schema[T]) (*Controller[T], error) {
	var build func() registry.Controller
	if schema != nil {
		build = func() registry.Controller { return newController(st, name, schema) }
	}
	ctrl, err := st.Singles.Use(sc, name, build)
	if err != nil {
		return nil, err
	}
	typed, ok := ctrl.(*Controller[T])
	if !ok {
		return nil, fmt.Errorf("singles: %q is registered with a different payload type", name)
	}
	return typed, nil
}

// Listen attaches a ref for the scope to an existing single without
// creating one.
func Listen(st *store.Store, sc *registry.Scope, name string) error {
	return st.Singles.Listen(sc, name)
}

func newController[T any](st *store.Store, name string, schema *Schema[T]) *Controller[T] {
	c := &Controller[T]{
		store:     st,
		socketKey: "single." + uuid.NewString(),
		name:      name,
		endpoint:  schema.Endpoint,
		params:    query.Clone(schema.Params),
		x:         schema.X,
		persist:   schema.Persistent,
		statusOK:  append([]int(nil), schema.StatusOK...),
		sock:      schema.Socket,
	}
	if schema.X != nil {
		c.ready = true
	}
	if c.sock != nil && st.Socket != nil {
		// Re-issue the watch whenever the push channel reconnects.
		st.Socket.OnOpen(c.socketKey, c.watchSocket)
	}
	return c
}

// Name implements registry.Controller.
func (c *Controller[T]) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.name
}

// Rename implements registry.Controller.
func (c *Controller[T]) Rename(newName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = newName
}

// Migrate moves the controller to a new registry name, keeping all refs.
func (c *Controller[T]) Migrate(newName string) {
	c.store.Singles.Rename(c.Name(), newName)
}

// Persistent implements registry.Controller.
func (c *Controller[T]) Persistent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persist
}

// Purge implements registry.Controller. After Purge any in-flight
// resolution is a no-op.
func (c *Controller[T]) Purge() {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.purged = true
	c.token++
	c.mu.Unlock()
	c.unwatchSocket()
}

// OnChange subscribes to value changes. The callback receives the new
// value synchronously with the mutation; a deletion publishes nil.
func (c *Controller[T]) OnChange(fn func(*T)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// X returns the current value, nil before the first load or after
// deletion.
func (c *Controller[T]) X() *T {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.x
}

// Ready reports whether the value reflects a completed load.
func (c *Controller[T]) Ready() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.ready }

// Fetching reports whether a load is in flight.
func (c *Controller[T]) Fetching() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.fetching }

// Failed reports whether the last load failed. Retry is always explicit;
// the controller never retries on its own.
func (c *Controller[T]) Failed() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.failed }

// Deleted reports whether the resource reached its deleted terminal
// state.
func (c *Controller[T]) Deleted() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.deleted }

// Endpoint returns the controller's endpoint path.
func (c *Controller[T]) Endpoint() string { c.mu.Lock(); defer c.mu.Unlock(); return c.endpoint }

// SetEndpoint repoints the controller, e.g. after a rename migration.
func (c *Controller[T]) SetEndpoint(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = endpoint
}

// Params returns a copy of the request parameters.
func (c *Controller[T]) Params() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return query.Clone(c.params)
}

// SetParams replaces the request parameters.
func (c *Controller[T]) SetParams(params url.Values) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = query.Clone(params)
}

// Get loads the resource. A ready controller returns its cached value;
// otherwise a fetch is issued even when one is already in flight, and the
// latest request's resolution wins.
func (c *Controller[T]) Get(ctx context.Context) (*T, error) {
	c.mu.Lock()
	if c.ready || c.deleted {
		x := c.x
		c.mu.Unlock()
		return x, nil
	}
	c.token++
	tok := c.token
	c.fetching = true
	c.failed = false
	opts := client.Options{
		Method:   http.MethodGet,
		Path:     c.endpoint,
		Params:   query.Clone(c.params),
		StatusOK: append([]int(nil), c.statusOK...),
	}
	c.mu.Unlock()

	raw, err := c.store.Client.Do(ctx, opts)
	return c.resolveFetch(tok, raw, err)
}

// Refresh clears readiness and loads again.
func (c *Controller[T]) Refresh(ctx context.Context) (*T, error) {
	c.mu.Lock()
	c.ready = false
	c.mu.Unlock()
	return c.Get(ctx)
}

// RetryGet clears the failed flag and loads again. This is the explicit,
// user-triggered retry path.
func (c *Controller[T]) RetryGet(ctx context.Context) (*T, error) {
	c.mu.Lock()
	c.failed = false
	c.mu.Unlock()
	return c.Get(ctx)
}

// Patch sends a partial update and replaces the value with the server's
// response. No optimistic update is applied.
func (c *Controller[T]) Patch(ctx context.Context, data any) (*T, error) {
	return c.write(ctx, http.MethodPatch, data)
}

// Put sends a full replacement and stores the server's response.
func (c *Controller[T]) Put(ctx context.Context, data any) (*T, error) {
	return c.write(ctx, http.MethodPut, data)
}

func (c *Controller[T]) write(ctx context.Context, method string, data any) (*T, error) {
	c.mu.Lock()
	c.token++
	tok := c.token
	opts := client.Options{Method: method, Path: c.endpoint, Data: data}
	c.mu.Unlock()

	raw, err := c.store.Client.Do(ctx, opts)
	if err != nil {
		return nil, err
	}
	return c.resolveWrite(tok, raw)
}

// Post sends data to the endpoint without touching the cached value.
func (c *Controller[T]) Post(ctx context.Context, data any) (json.RawMessage, error) {
	c.mu.Lock()
	c.token++
	opts := client.Options{Method: http.MethodPost, Path: c.endpoint, Data: data}
	c.mu.Unlock()
	return c.store.Client.Do(ctx, opts)
}

// Delete removes the resource server-side and moves the controller to its
// deleted terminal state.
func (c *Controller[T]) Delete(ctx context.Context) error {
	c.mu.Lock()
	c.token++
	tok := c.token
	opts := client.Options{Method: http.MethodDelete, Path: c.endpoint}
	c.mu.Unlock()

	if _, err := c.store.Client.Do(ctx, opts); err != nil {
		return err
	}
	c.mu.Lock()
	if c.purged || tok != c.token {
		c.mu.Unlock()
		return nil
	}
	c.deleted = true
	c.ready = false
	c.x = nil
	c.mu.Unlock()
	c.unwatchSocket()
	c.changes.Publish(nil)
	return nil
}

// SetX replaces the value locally, bypassing the network. Used for test
// seeding and store-driven pushes.
func (c *Controller[T]) SetX(x *T) {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.x = x
	c.mu.Unlock()
	c.changes.Publish(x)
}

// UpdateX shallow-merges a partial object into the value. This is the
// push-update path: socket payloads carry only changed fields.
func (c *Controller[T]) UpdateX(patch map[string]any) error {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return nil
	}
	base := make(map[string]any)
	if c.x != nil {
		encoded, err := json.Marshal(c.x)
		if err != nil {
			c.mu.Unlock()
			return fmt.Errorf("singles: encoding current value: %w", err)
		}
		if err := json.Unmarshal(encoded, &base); err != nil {
			c.mu.Unlock()
			return fmt.Errorf("singles: decoding current value: %w", err)
		}
	}
	for key, value := range patch {
		base[key] = value
	}
	merged, err := json.Marshal(base)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("singles: encoding merged value: %w", err)
	}
	var next T
	if err := json.Unmarshal(merged, &next); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("singles: decoding merged value: %w", err)
	}
	c.x = &next
	c.mu.Unlock()
	c.changes.Publish(&next)
	return nil
}

// MakeReady seeds the value and clears status flags. For tests and
// preloading.
func (c *Controller[T]) MakeReady(v T) {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.x = &v
	c.ready = true
	c.fetching = false
	c.failed = false
	c.mu.Unlock()
	c.changes.Publish(&v)
	c.watchSocket()
}

func (c *Controller[T]) resolveFetch(tok uint64, raw json.RawMessage, err error) (*T, error) {
	c.mu.Lock()
	if c.purged || tok != c.token {
		// A newer request owns the state now; this resolution is stale.
		x := c.x
		c.mu.Unlock()
		return x, nil
	}
	if err != nil {
		c.fetching = false
		c.ready = false
		c.failed = true
		c.mu.Unlock()
		return nil, err
	}
	if raw == nil {
		// Whitelisted status: loaded, but nothing to show.
		c.fetching = false
		c.ready = true
		c.failed = false
		x := c.x
		c.mu.Unlock()
		return x, nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		c.fetching = false
		c.failed = true
		c.mu.Unlock()
		return nil, fmt.Errorf("singles: decoding %s: %w", c.endpoint, err)
	}
	c.x = &value
	c.fetching = false
	c.ready = true
	c.failed = false
	c.mu.Unlock()
	c.changes.Publish(&value)
	c.watchSocket()
	return &value, nil
}

func (c *Controller[T]) resolveWrite(tok uint64, raw json.RawMessage) (*T, error) {
	c.mu.Lock()
	if c.purged || tok != c.token {
		x := c.x
		c.mu.Unlock()
		return x, nil
	}
	if raw == nil {
		x := c.x
		c.mu.Unlock()
		return x, nil
	}
	var value T
	if err := json.Unmarshal(raw, &value); err != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("singles: decoding %s: %w", c.endpoint, err)
	}
	c.x = &value
	c.mu.Unlock()
	c.changes.Publish(&value)
	return &value, nil
}

// primaryKey extracts the socket key field from the current value.
func (c *Controller[T]) primaryKey() string {
	c.mu.Lock()
	x := c.x
	settings := c.sock
	c.mu.Unlock()
	if x == nil || settings == nil {
		return ""
	}
	keyField := settings.KeyField
	if keyField == "" {
		keyField = "id"
	}
	encoded, err := json.Marshal(x)
	if err != nil {
		return ""
	}
	decoder := json.NewDecoder(bytes.NewReader(encoded))
	decoder.UseNumber()
	var fields map[string]any
	if err := decoder.Decode(&fields); err != nil {
		return ""
	}
	switch pk := fields[keyField].(type) {
	case json.Number:
		return pk.String()
	case string:
		return pk
	}
	return ""
}

func (c *Controller[T]) watchSocket() {
	sock := c.store.Socket
	if sock == nil {
		return
	}
	c.mu.Lock()
	settings := c.sock
	c.mu.Unlock()
	if settings == nil {
		return
	}
	pk := c.primaryKey()
	if pk == "" {
		return
	}
	c.mu.Lock()
	old := c.watchedPK
	c.watchedPK = pk
	c.mu.Unlock()
	if old != pk {
		if old != "" {
			sock.RemoveListener(settings.UpdateLabel(old), c.socketKey)
		}
		sock.AddListener(settings.UpdateLabel(pk), c.socketKey, func(payload json.RawMessage) {
			var patch map[string]any
			if err := json.Unmarshal(payload, &patch); err != nil {
				return
			}
			// Merge in place so consumers keep their derived state.
			_ = c.UpdateX(patch)
		})
	}
	// Reconnects need the watch re-sent even when the listener is
	// already installed.
	_ = sock.Send(context.Background(), "watch", settings.WatchPayload(pk))
}

func (c *Controller[T]) unwatchSocket() {
	sock := c.store.Socket
	if sock == nil {
		return
	}
	c.mu.Lock()
	settings := c.sock
	pk := c.watchedPK
	c.watchedPK = ""
	c.mu.Unlock()
	if settings == nil {
		return
	}
	sock.RemoveHooks(c.socketKey)
	if pk == "" {
		return
	}
	_ = sock.Send(context.Background(), "clear_watch", settings.WatchPayload(pk))
	sock.RemoveListener(settings.UpdateLabel(pk), c.socketKey)
}
