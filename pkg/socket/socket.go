// Package socket carries server pushes into controllers. The server tags
// every event with a label; controllers register listeners for the labels
// they care about and send watch/clear_watch commands so the server knows
// which entities to broadcast.
package socket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Command is the client-to-server envelope.
type Command struct {
	Command string `json:"command"`
	Payload any    `json:"payload,omitempty"`
}

// Event is the server-to-client envelope. The label routes the payload to
// listeners; the payload itself is controller-specific JSON.
type Event struct {
	Label   string          `json:"label"`
	Payload json.RawMessage `json:"payload"`
}

// Client multiplexes labelled events from one websocket connection out to
// registered listeners. Listener callbacks run on the read-loop
// goroutine, one at a time.
type Client struct {
	mu        sync.Mutex
	conn      *websocket.Conn
	listeners map[string]map[string]func(json.RawMessage)
	onOpen    map[string]func()
	onClose   map[string]func()
	open      bool
}

// Dial connects to url and starts the read loop.
func Dial(ctx context.Context, url string) (*Client, error) {
	c := &Client{
		listeners: make(map[string]map[string]func(json.RawMessage)),
		onOpen:    make(map[string]func()),
		onClose:   make(map[string]func()),
	}
	if err := c.Connect(ctx, url); err != nil {
		return nil, err
	}
	return c, nil
}

// NewClient returns an unconnected client. Controllers can register
// listeners before the first Connect.
func NewClient() *Client {
	return &Client{
		listeners: make(map[string]map[string]func(json.RawMessage)),
		onOpen:    make(map[string]func()),
		onClose:   make(map[string]func()),
	}
}

// Connect (re)establishes the connection and starts a read loop. Open
// hooks fire synchronously before Connect returns, so controllers can
// re-issue their watches ahead of any incoming event.
func (c *Client) Connect(ctx context.Context, url string) error {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.conn = conn
	c.open = true
	hooks := snapshotHooks(c.onOpen)
	c.mu.Unlock()
	for _, hook := range hooks {
		hook()
	}
	go c.readLoop(ctx, conn)
	return nil
}

// Open reports whether a connection is currently established.
func (c *Client) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes a command envelope. Sends on a closed client are dropped;
// the server state is reconciled by the open hooks on reconnect.
func (c *Client) Send(ctx context.Context, command string, payload any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.open
	c.mu.Unlock()
	if !open || conn == nil {
		return nil
	}
	return wsjson.Write(ctx, conn, Command{Command: command, Payload: payload})
}

// AddListener registers fn for events carrying label. The key namespaces
// the registration so separate controllers can listen on the same label
// without clobbering each other.
func (c *Client) AddListener(label, key string, fn func(json.RawMessage)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKey, ok := c.listeners[label]
	if !ok {
		byKey = make(map[string]func(json.RawMessage))
		c.listeners[label] = byKey
	}
	byKey[key] = fn
}

// RemoveListener drops the registration for (label, key).
func (c *Client) RemoveListener(label, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKey, ok := c.listeners[label]
	if !ok {
		return
	}
	delete(byKey, key)
	if len(byKey) == 0 {
		delete(c.listeners, label)
	}
}

// OnOpen registers a hook fired after every successful Connect.
func (c *Client) OnOpen(key string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onOpen[key] = fn
}

// OnClose registers a hook fired when the connection drops.
func (c *Client) OnClose(key string, fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onClose[key] = fn
}

// RemoveHooks drops a controller's open/close hooks.
func (c *Client) RemoveHooks(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.onOpen, key)
	delete(c.onClose, key)
}

// Close tears down the connection. Close hooks fire as with any other
// disconnect.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}
	return conn.Close(websocket.StatusNormalClosure, "client closed")
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		var evt Event
		if err := wsjson.Read(ctx, conn, &evt); err != nil {
			c.mu.Lock()
			if c.conn == conn {
				c.conn = nil
				c.open = false
			}
			hooks := snapshotHooks(c.onClose)
			c.mu.Unlock()
			for _, hook := range hooks {
				hook()
			}
			return
		}
		c.dispatch(evt)
	}
}

func (c *Client) dispatch(evt Event) {
	c.mu.Lock()
	byKey := c.listeners[evt.Label]
	fns := make([]func(json.RawMessage), 0, len(byKey))
	for _, fn := range byKey {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(evt.Payload)
	}
}

func snapshotHooks(hooks map[string]func()) []func() {
	out := make([]func(), 0, len(hooks))
	for _, fn := range hooks {
		out = append(out, fn)
	}
	return out
}
