// Package lists implements the controller for a paginated collection.
// A list never owns its items directly: each element lives in its own
// single controller, registered as "{list name}/items/{key}", and the
// list holds ordered references. Any view holding the same item by name
// sees updates made through the list, and vice versa.
package lists

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/observer"
	"github.com/matthewbaird/atelier/pkg/query"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/singles"
	"github.com/matthewbaird/atelier/pkg/socket"
	"github.com/matthewbaird/atelier/pkg/store"
)

const defaultPageSize = 24

// Schema declares a list on first Use.
type Schema[T any] struct {
	Endpoint string
	Params   url.Values
	// KeyField names the JSON field used to key item singles, "id" when
	// empty.
	KeyField string
	// Grow appends pages instead of replacing them, for endless-scroll
	// surfaces.
	Grow       bool
	PageSize   int
	Persistent bool
	// Reverse prepends pushed items, for newest-first feeds.
	Reverse bool
	// Plain disables pagination: no page or size parameters are sent
	// and the endpoint may answer with a bare JSON array.
	Plain  bool
	Socket *socket.ListSettings
}

// Controller tracks one paginated server-backed collection.
type Controller[T any] struct {
	store     *store.Store
	socketKey string
	// itemScope holds the list's refs on its item singles; closing it
	// releases them all.
	itemScope *registry.Scope

	mu       sync.Mutex
	name     string
	endpoint string
	params   url.Values
	keyField string
	refs     []string
	grow     bool
	reverse  bool
	plain    bool
	page     int
	pageSize int
	count    int
	fetching bool
	ready    bool
	failed   bool
	stale    bool
	persist  bool
	sock     *socket.ListSettings
	token    uint64
	purged   bool

	changes observer.Hub[[]*T]
}

// Use fetches or creates the list registered under name.
func Use[T any](st *store.Store, sc *registry.Scope, name string, schema *Schema[T]) (*Controller[T], error) {
	var build func() registry.Controller
	if schema != nil {
		build = func() registry.Controller { return newController(st, name, schema) }
	}
	ctrl, err := st.Lists.Use(sc, name, build)
	if err != nil {
		return nil, err
	}
	typed, ok := ctrl.(*Controller[T])
	if !ok {
		return nil, fmt.Errorf("lists: %q is registered with a different payload type", name)
	}
	return typed, nil
}

func newController[T any](st *store.Store, name string, schema *Schema[T]) *Controller[T] {
	pageSize := schema.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	keyField := schema.KeyField
	if keyField == "" {
		keyField = "id"
	}
	c := &Controller[T]{
		store:     st,
		socketKey: "list." + uuid.NewString(),
		itemScope: registry.NewScope(),
		name:      name,
		endpoint:  schema.Endpoint,
		params:    query.Clone(schema.Params),
		keyField:  keyField,
		grow:      schema.Grow,
		reverse:   schema.Reverse,
		plain:     schema.Plain,
		page:      1,
		pageSize:  pageSize,
		persist:   schema.Persistent,
		sock:      schema.Socket,
	}
	if c.sock != nil && st.Socket != nil {
		st.Socket.AddListener(c.sock.NewItemLabel(), c.socketKey, c.onSocketItem)
		// A dropped connection means pushed items were missed; flag the
		// list so consumers know to refresh.
		st.Socket.OnClose(c.socketKey, c.markStale)
		_ = st.Socket.Send(context.Background(), "watch_new", c.sock.WatchPayload())
	}
	return c
}

// Name implements registry.Controller.
func (c *Controller[T]) Name() string { c.mu.Lock(); defer c.mu.Unlock(); return c.name }

// Rename implements registry.Controller. Item singles keep their old
// names; they are reaped and rebuilt on the next fetch.
func (c *Controller[T]) Rename(newName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.name = newName
}

// Persistent implements registry.Controller.
func (c *Controller[T]) Persistent() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.persist }

// Purge implements registry.Controller.
func (c *Controller[T]) Purge() {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.purged = true
	c.token++
	c.refs = nil
	sock := c.sock
	c.mu.Unlock()
	c.itemScope.Close()
	if sock != nil && c.store.Socket != nil {
		c.store.Socket.RemoveListener(sock.NewItemLabel(), c.socketKey)
		c.store.Socket.RemoveHooks(c.socketKey)
		_ = c.store.Socket.Send(context.Background(), "clear_watch_new", sock.WatchPayload())
	}
}

// OnChange subscribes to membership and ordering changes.
func (c *Controller[T]) OnChange(fn func([]*T)) (cancel func()) {
	return c.changes.Subscribe(fn)
}

// Ready reports whether the current page has loaded.
func (c *Controller[T]) Ready() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.ready }

// Fetching reports whether a page load is in flight.
func (c *Controller[T]) Fetching() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.fetching }

// Failed reports whether the last page load failed.
func (c *Controller[T]) Failed() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.failed }

// Stale reports whether the push channel dropped since the last load.
func (c *Controller[T]) Stale() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.stale }

// Count returns the server-reported total across all pages.
func (c *Controller[T]) Count() int { c.mu.Lock(); defer c.mu.Unlock(); return c.count }

// CurrentPage returns the one-based page number.
func (c *Controller[T]) CurrentPage() int { c.mu.Lock(); defer c.mu.Unlock(); return c.page }

// PageSize returns the page size in effect.
func (c *Controller[T]) PageSize() int { c.mu.Lock(); defer c.mu.Unlock(); return c.pageSize }

// TotalPages derives the page count from the server total. A plain list
// is always exactly one page.
func (c *Controller[T]) TotalPages() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.plain {
		return 1
	}
	if c.pageSize <= 0 || c.count <= 0 {
		return 0
	}
	return (c.count + c.pageSize - 1) / c.pageSize
}

// MoreAvailable reports whether pages remain past the current one.
func (c *Controller[T]) MoreAvailable() bool {
	total := c.TotalPages()
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && c.page < total
}

// Empty reports a loaded list with nothing in it.
func (c *Controller[T]) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready && len(c.refs) == 0
}

// Endpoint returns the list's endpoint path.
func (c *Controller[T]) Endpoint() string { c.mu.Lock(); defer c.mu.Unlock(); return c.endpoint }

// SetEndpoint repoints the list, e.g. after a rename migration. Already
// registered item singles keep their old endpoints until the next fetch
// replaces them.
func (c *Controller[T]) SetEndpoint(endpoint string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endpoint = endpoint
}

// Params returns a copy of the base request parameters, without the
// pagination keys the controller adds itself.
func (c *Controller[T]) Params() url.Values {
	c.mu.Lock()
	defer c.mu.Unlock()
	return query.Clone(c.params)
}

// SetParams replaces the base request parameters. The caller decides
// when to refetch.
func (c *Controller[T]) SetParams(params url.Values) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.params = query.Clone(params)
}

// Get loads the current page unless the list is already ready.
func (c *Controller[T]) Get(ctx context.Context) ([]*T, error) {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return c.List(), nil
	}
	page := c.page
	c.mu.Unlock()
	return c.fetchPage(ctx, page, false)
}

// GetPage jumps to a page and loads it.
func (c *Controller[T]) GetPage(ctx context.Context, page int) ([]*T, error) {
	if page < 1 {
		page = 1
	}
	return c.fetchPage(ctx, page, false)
}

// Next loads the following page. In grow mode the results append to the
// existing items; otherwise they replace them.
func (c *Controller[T]) Next(ctx context.Context) ([]*T, error) {
	c.mu.Lock()
	page := c.page + 1
	grow := c.grow
	c.mu.Unlock()
	return c.fetchPage(ctx, page, grow)
}

// Reset drops all items and reloads from the first page.
func (c *Controller[T]) Reset(ctx context.Context) ([]*T, error) {
	c.mu.Lock()
	c.ready = false
	c.page = 1
	c.mu.Unlock()
	return c.fetchPage(ctx, 1, false)
}

// Retry clears the failed flag and loads the current page again.
func (c *Controller[T]) Retry(ctx context.Context) ([]*T, error) {
	c.mu.Lock()
	c.failed = false
	page := c.page
	c.mu.Unlock()
	return c.fetchPage(ctx, page, false)
}

func (c *Controller[T]) fetchPage(ctx context.Context, page int, grow bool) ([]*T, error) {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return nil, nil
	}
	c.token++
	tok := c.token
	c.fetching = true
	c.failed = false
	params := query.Clone(c.params)
	if !c.plain {
		params.Set("page", strconv.Itoa(page))
		params.Set("size", strconv.Itoa(c.pageSize))
	}
	opts := client.Options{Method: http.MethodGet, Path: c.endpoint, Params: params}
	c.mu.Unlock()

	raw, err := c.store.Client.Do(ctx, opts)
	if err != nil {
		c.mu.Lock()
		if !c.purged && tok == c.token {
			c.fetching = false
			c.failed = true
		}
		c.mu.Unlock()
		return nil, err
	}
	pageData, err := client.DecodePage(raw)
	if err != nil {
		c.mu.Lock()
		if !c.purged && tok == c.token {
			c.fetching = false
			c.failed = true
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("lists: decoding %s: %w", c.endpoint, err)
	}

	items := make([]T, 0, len(pageData.Results))
	for _, res := range pageData.Results {
		var item T
		if err := json.Unmarshal(res, &item); err != nil {
			c.mu.Lock()
			if !c.purged && tok == c.token {
				c.fetching = false
				c.failed = true
			}
			c.mu.Unlock()
			return nil, fmt.Errorf("lists: decoding %s item: %w", c.endpoint, err)
		}
		items = append(items, item)
	}

	c.mu.Lock()
	if c.purged || tok != c.token {
		c.mu.Unlock()
		return c.List(), nil
	}
	c.page = page
	c.count = pageData.Count
	if pageData.Size > 0 {
		c.pageSize = pageData.Size
	}
	c.fetching = false
	c.ready = true
	c.stale = false
	keep := grow
	c.mu.Unlock()

	c.install(items, keep)
	return c.List(), nil
}

// install registers item singles and rewrites refs. When keep is true
// the new items append after the existing ones.
func (c *Controller[T]) install(items []T, keep bool) {
	c.mu.Lock()
	oldRefs := c.refs
	c.mu.Unlock()

	var refs []string
	if keep {
		refs = append(refs, oldRefs...)
	}
	seen := make(map[string]bool, len(refs))
	for _, r := range refs {
		seen[r] = true
	}
	for _, item := range items {
		ref := c.registerItem(item)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true
		refs = append(refs, ref)
	}

	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.refs = refs
	c.mu.Unlock()

	if !keep {
		c.releaseOrphans(oldRefs, seen)
	}
	c.changes.Publish(c.List())
}

// registerItem creates (or updates) the single backing one item and
// returns its registry name.
func (c *Controller[T]) registerItem(item T) string {
	key := c.itemKey(item)
	if key == "" {
		return ""
	}
	c.mu.Lock()
	name := c.name + "/items/" + key
	endpoint := c.endpoint + key + "/"
	c.mu.Unlock()

	ctrl, err := singles.Use[T](c.store, c.itemScope, name, &singles.Schema[T]{Endpoint: endpoint})
	if err != nil {
		return ""
	}
	ctrl.MakeReady(item)
	return name
}

func (c *Controller[T]) releaseOrphans(oldRefs []string, keep map[string]bool) {
	for _, ref := range oldRefs {
		if !keep[ref] {
			c.itemScope.Release(c.store.Singles.ScopeKey(ref))
		}
	}
}

// itemKey extracts the key field from an item via its JSON encoding.
func (c *Controller[T]) itemKey(item T) string {
	c.mu.Lock()
	keyField := c.keyField
	c.mu.Unlock()
	encoded, err := json.Marshal(item)
	if err != nil {
		return ""
	}
	dec := json.NewDecoder(bytes.NewReader(encoded))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return ""
	}
	switch key := fields[keyField].(type) {
	case json.Number:
		return key.String()
	case string:
		return key
	}
	return ""
}

// List resolves the current refs to values, skipping any single that has
// been reaped out from under the list.
func (c *Controller[T]) List() []*T {
	c.mu.Lock()
	refs := append([]string(nil), c.refs...)
	c.mu.Unlock()
	out := make([]*T, 0, len(refs))
	for _, ref := range refs {
		ctrl, ok := c.store.Singles.Controller(ref).(*singles.Controller[T])
		if !ok {
			continue
		}
		if x := ctrl.X(); x != nil {
			out = append(out, x)
		}
	}
	return out
}

// Controllers resolves the current refs to their item singles.
func (c *Controller[T]) Controllers() []*singles.Controller[T] {
	c.mu.Lock()
	refs := append([]string(nil), c.refs...)
	c.mu.Unlock()
	out := make([]*singles.Controller[T], 0, len(refs))
	for _, ref := range refs {
		if ctrl, ok := c.store.Singles.Controller(ref).(*singles.Controller[T]); ok {
			out = append(out, ctrl)
		}
	}
	return out
}

// SetList replaces the membership wholesale without touching pagination
// state.
func (c *Controller[T]) SetList(items []T) {
	c.install(items, false)
}

// MakeReady seeds the list and clears status flags. For tests and
// preloading.
func (c *Controller[T]) MakeReady(items []T) {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.ready = true
	c.fetching = false
	c.failed = false
	c.stale = false
	c.count = len(items)
	c.mu.Unlock()
	c.install(items, false)
}

// Push adds an item locally. Reverse lists prepend; everything else
// appends.
func (c *Controller[T]) Push(item T) {
	ref := c.registerItem(item)
	if ref == "" {
		return
	}
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	already := false
	for _, r := range c.refs {
		if r == ref {
			already = true
			break
		}
	}
	if !already {
		if c.reverse {
			c.refs = append([]string{ref}, c.refs...)
		} else {
			c.refs = append(c.refs, ref)
		}
		c.count++
	}
	c.mu.Unlock()
	c.changes.Publish(c.List())
}

// UniquePush adds the item only when its key is not already present.
// The registered single is refreshed with the new value either way.
func (c *Controller[T]) UniquePush(item T) {
	// Push already refreshes the single and dedupes by ref.
	c.Push(item)
}

// Remove drops the item with the given key.
func (c *Controller[T]) Remove(key string) {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	ref := c.name + "/items/" + key
	kept := c.refs[:0]
	removed := false
	for _, r := range c.refs {
		if r == ref {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	c.refs = kept
	if removed && c.count > 0 {
		c.count--
	}
	c.mu.Unlock()
	if removed {
		c.itemScope.Release(c.store.Singles.ScopeKey(ref))
		c.changes.Publish(c.List())
	}
}

// Replace swaps the stored value for an item already in the list. A key
// with no matching member is ignored.
func (c *Controller[T]) Replace(item T) {
	key := c.itemKey(item)
	if key == "" {
		return
	}
	c.mu.Lock()
	ref := c.name + "/items/" + key
	present := false
	for _, r := range c.refs {
		if r == ref {
			present = true
			break
		}
	}
	c.mu.Unlock()
	if !present {
		return
	}
	if ctrl, ok := c.store.Singles.Controller(ref).(*singles.Controller[T]); ok {
		ctrl.SetX(&item)
		c.changes.Publish(c.List())
	}
}

// Post sends data to the list endpoint without altering membership.
func (c *Controller[T]) Post(ctx context.Context, data any) (json.RawMessage, error) {
	c.mu.Lock()
	opts := client.Options{Method: http.MethodPost, Path: c.endpoint, Data: data}
	c.mu.Unlock()
	return c.store.Client.Do(ctx, opts)
}

// PostPush creates an item server-side and pushes the response into the
// list.
func (c *Controller[T]) PostPush(ctx context.Context, data any) (*T, error) {
	raw, err := c.Post(ctx, data)
	if err != nil {
		return nil, err
	}
	var item T
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("lists: decoding %s response: %w", c.endpoint, err)
	}
	c.Push(item)
	return &item, nil
}

// onSocketItem handles a pushed new-item event.
func (c *Controller[T]) onSocketItem(payload json.RawMessage) {
	var item T
	if err := json.Unmarshal(payload, &item); err != nil {
		return
	}
	c.UniquePush(item)
}

func (c *Controller[T]) markStale() {
	c.mu.Lock()
	if !c.purged {
		c.stale = true
	}
	c.mu.Unlock()
}
