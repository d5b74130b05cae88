// Package characters implements the composite controller for one
// character: the profile single plus the attributes, colors and
// shared-with lists, registered and torn down as a unit. Renaming a
// character migrates the bundle so refs held under the old name keep
// working.
package characters

import (
	"fmt"
	"sync"

	"github.com/matthewbaird/atelier/pkg/lists"
	"github.com/matthewbaird/atelier/pkg/profiles"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/singles"
	"github.com/matthewbaird/atelier/pkg/store"
)

// EndpointFor returns the character endpoint for a username and
// character name.
func EndpointFor(username, characterName string) string {
	return profiles.EndpointFor(username) + "characters/" + characterName + "/"
}

// ControllerName is the registry name for a character bundle.
func ControllerName(username, characterName string) string {
	return username + "/" + characterName
}

// Schema declares a character bundle on first Use.
type Schema struct {
	Persistent bool
}

// Controller bundles the controllers for one character. Submodule fields
// are set at construction and never reassigned.
type Controller struct {
	store *store.Store
	sub   *registry.Scope

	mu            sync.Mutex
	username      string
	characterName string
	persist       bool
	purged        bool

	Profile    *singles.Controller[Character]
	Attributes *lists.Controller[Attribute]
	Colors     *lists.Controller[Color]
	SharedWith *lists.Controller[SharedUser]

	cancelWatch func()
}

// Use fetches or creates the character bundle.
func Use(st *store.Store, sc *registry.Scope, username, characterName string, schema *Schema) (*Controller, error) {
	name := ControllerName(username, characterName)
	var build func() registry.Controller
	if schema != nil {
		build = func() registry.Controller { return newController(st, username, characterName, schema) }
	}
	ctrl, err := st.Characters.Use(sc, name, build)
	if err != nil {
		return nil, err
	}
	typed, ok := ctrl.(*Controller)
	if !ok {
		return nil, fmt.Errorf("characters: %q is not a character controller", name)
	}
	return typed, nil
}

func newController(st *store.Store, username, characterName string, schema *Schema) *Controller {
	c := &Controller{
		store:         st,
		sub:           registry.NewScope(),
		username:      username,
		characterName: characterName,
		persist:       schema.Persistent,
	}
	base := EndpointFor(username, characterName)
	prefix := c.prefix()
	c.Profile, _ = singles.Use[Character](st, c.sub, prefix+"profile", &singles.Schema[Character]{
		Endpoint: base,
	})
	c.Attributes, _ = lists.Use[Attribute](st, c.sub, prefix+"attributes", &lists.Schema[Attribute]{
		Endpoint: base + "attributes/",
		Plain:    true,
	})
	c.Colors, _ = lists.Use[Color](st, c.sub, prefix+"colors", &lists.Schema[Color]{
		Endpoint: base + "colors/",
		Plain:    true,
	})
	c.SharedWith, _ = lists.Use[SharedUser](st, c.sub, prefix+"sharedWith", &lists.Schema[SharedUser]{
		Endpoint: base + "share/",
		Plain:    true,
		KeyField: "username",
	})
	// A character rename on the loaded profile migrates the bundle.
	c.cancelWatch = c.Profile.OnChange(c.onProfile)
	return c
}

func (c *Controller) prefix() string {
	return "characters/" + c.username + "/" + c.characterName + "/"
}

// Name implements registry.Controller.
func (c *Controller) Name() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ControllerName(c.username, c.characterName)
}

// Username returns the owning account's username.
func (c *Controller) Username() string { c.mu.Lock(); defer c.mu.Unlock(); return c.username }

// CharacterName returns the character's current name.
func (c *Controller) CharacterName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.characterName
}

// Rename implements registry.Controller: the new registry name is split
// back into username and character name and the submodules follow.
func (c *Controller) Rename(newName string) {
	username, characterName := splitName(newName)
	c.mu.Lock()
	oldPrefix := c.prefix()
	c.username = username
	c.characterName = characterName
	newPrefix := c.prefix()
	c.mu.Unlock()

	c.store.Singles.Rename(oldPrefix+"profile", newPrefix+"profile")
	c.store.Lists.Rename(oldPrefix+"attributes", newPrefix+"attributes")
	c.store.Lists.Rename(oldPrefix+"colors", newPrefix+"colors")
	c.store.Lists.Rename(oldPrefix+"sharedWith", newPrefix+"sharedWith")
	c.setEndpoints(username, characterName)
}

// Migrate moves the bundle under a new character name, keeping all refs.
func (c *Controller) Migrate(newCharacterName string) {
	c.store.Characters.Rename(c.Name(), ControllerName(c.Username(), newCharacterName))
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

func (c *Controller) setEndpoints(username, characterName string) {
	base := EndpointFor(username, characterName)
	c.Profile.SetEndpoint(base)
	c.Attributes.SetEndpoint(base + "attributes/")
	c.Colors.SetEndpoint(base + "colors/")
	c.SharedWith.SetEndpoint(base + "share/")
}

func (c *Controller) onProfile(character *Character) {
	if character == nil || character.Name == "" {
		return
	}
	c.mu.Lock()
	current := c.characterName
	purged := c.purged
	c.mu.Unlock()
	if purged || character.Name == current {
		return
	}
	c.Migrate(character.Name)
}

func splitName(name string) (username, characterName string) {
	for i := 0; i < len(name); i++ {
		if name[i] == '/' {
			return name[:i], name[i+1:]
		}
	}
	return name, ""
}
