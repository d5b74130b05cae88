// Package profiles implements the composite controller for one account:
// the user single, the artist profile single, and the products list,
// registered together and torn down together. Renames (a user changing
// their username) migrate the whole bundle to its new registry name
// while every outstanding ref keeps working.
package profiles

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/matthewbaird/atelier/pkg/lists"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/singles"
	"github.com/matthewbaird/atelier/pkg/store"
)

// EndpointFor returns the account endpoint for a username.
func EndpointFor(username string) string {
	return "/api/profiles/account/" + username + "/"
}

// ArtistProfileEndpointFor returns the artist profile endpoint for a
// username.
func ArtistProfileEndpointFor(username string) string {
	return EndpointFor(username) + "artist-profile/"
}

// ProductsEndpointFor returns the product listing endpoint for a
// username.
func ProductsEndpointFor(username string) string {
	return EndpointFor(username) + "products/"
}

// IsGuest reports whether a username belongs to a provisional guest
// account.
func IsGuest(username string) bool {
	return strings.HasPrefix(username, guestPrefix)
}

// Schema declares a profile bundle on first Use.
type Schema struct {
	Persistent bool
}

// Controller bundles the controllers for one account. The submodule
// fields are set at construction and never reassigned, so they may be
// read without holding the controller's lock.
type Controller struct {
	store *store.Store
	// sub holds the bundle's refs on its submodules; closing it tears
	// all three down.
	sub *registry.Scope

	mu      sync.Mutex
	name    string
	persist bool
	purged  bool

	User          *singles.Controller[User]
	ArtistProfile *singles.Controller[ArtistProfile]
	Products      *lists.Controller[Product]

	cancelWatch func()
}

// Use fetches or creates the profile bundle for username.
func Use(st *store.Store, sc *registry.Scope, username string, schema *Schema) (*Controller, error) {
	var build func() registry.Controller
	if schema != nil {
		build = func() registry.Controller { return newController(st, username, schema) }
	}
	ctrl, err := st.Profiles.Use(sc, username, build)
	if err != nil {
		return nil, err
	}
	typed, ok := ctrl.(*Controller)
	if !ok {
		return nil, fmt.Errorf("profiles: %q is not a profile controller", username)
	}
	return typed, nil
}

func newController(st *store.Store, username string, schema *Schema) *Controller {
	c := &Controller{
		store:   st,
		sub:     registry.NewScope(),
		name:    username,
		persist: schema.Persistent,
	}
	prefix := c.prefix()
	// Submodule construction cannot fail: the names are fresh and the
	// scope is live.
	c.User, _ = singles.Use[User](st, c.sub, prefix+"user", &singles.Schema[User]{
		Endpoint: EndpointFor(username),
	})
	c.ArtistProfile, _ = singles.Use[ArtistProfile](st, c.sub, prefix+"artistProfile", &singles.Schema[ArtistProfile]{
		Endpoint: ArtistProfileEndpointFor(username),
		Params:   url.Values{"view": []string{"true"}},
	})
	c.Products, _ = lists.Use[Product](st, c.sub, prefix+"products", &lists.Schema[Product]{
		Endpoint: ProductsEndpointFor(username),
	})
	// A username change on the loaded user migrates the whole bundle.
	c.cancelWatch = c.User.OnChange(c.onUser)
	return c
}

func (c *Controller) prefix() string {
	return "profiles/" + c.name + "/"
}

// Name implements registry.Controller.
func (c *Controller) Name() string { c.mu.Lock(); defer c.mu.Unlock(); return c.name }

// Rename implements registry.Controller: it renames the submodules and
// repoints their endpoints to the new username.
func (c *Controller) Rename(newName string) {
	c.mu.Lock()
	oldPrefix := c.prefix()
	c.name = newName
	newPrefix := c.prefix()
	c.mu.Unlock()

	c.store.Singles.Rename(oldPrefix+"user", newPrefix+"user")
	c.store.Singles.Rename(oldPrefix+"artistProfile", newPrefix+"artistProfile")
	c.store.Lists.Rename(oldPrefix+"products", newPrefix+"products")
	c.User.SetEndpoint(EndpointFor(newName))
	c.ArtistProfile.SetEndpoint(ArtistProfileEndpointFor(newName))
	c.Products.SetEndpoint(ProductsEndpointFor(newName))
}

// Migrate moves the bundle to a new username, keeping all refs.
func (c *Controller) Migrate(newUsername string) {
	c.store.Profiles.Rename(c.Name(), newUsername)
}

// Persistent implements registry.Controller.
func (c *Controller) Persistent() bool { c.mu.Lock(); defer c.mu.Unlock(); return c.persist }

// Purge implements registry.Controller.
func (c *Controller) Purge() {
	c.mu.Lock()
	if c.purged {
		c.mu.Unlock()
		return
	}
	c.purged = true
	cancel := c.cancelWatch
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.sub.Close()
}

// Refresh reloads the user, re-derives the submodule endpoints from the
// fresh username, and reloads the artist profile. Guests and the
// anonymous user have no artist profile; theirs is cleared instead.
func (c *Controller) Refresh(ctx context.Context) error {
	user, err := c.User.Refresh(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		return nil
	}
	c.User.SetEndpoint(EndpointFor(user.Username))
	c.ArtistProfile.SetEndpoint(ArtistProfileEndpointFor(user.Username))
	if user.Username == AnonymousUser || IsGuest(user.Username) {
		c.ArtistProfile.SetX(nil)
		return nil
	}
	_, err = c.ArtistProfile.Refresh(ctx)
	return err
}

// DisplayName returns the name shown for the account: empty before load
// and for the anonymous user, a guest tag for guests, the username
// otherwise.
func (c *Controller) DisplayName() string {
	user := c.User.X()
	if user == nil || user.Username == AnonymousUser {
		return ""
	}
	if user.Guest {
		return fmt.Sprintf("Guest #%d", user.ID)
	}
	return user.Username
}

// onUser watches for server-side username changes and migrates the
// bundle when one lands.
func (c *Controller) onUser(user *User) {
	if user == nil || user.Username == "" {
		return
	}
	c.mu.Lock()
	current := c.name
	purged := c.purged
	c.mu.Unlock()
	if purged || user.Username == current {
		return
	}
	c.Migrate(user.Username)
}
