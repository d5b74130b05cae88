package marketsrv

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/matthewbaird/atelier/pkg/socket"
)

// Hub broadcasts labelled events to websocket subscribers. Clients send
// watch/clear_watch commands naming the entity or list they care about;
// the hub only forwards events whose label the connection subscribed to.
type Hub struct {
	mu    sync.Mutex
	conns map[*hubConn]struct{}
}

type hubConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	labels map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[*hubConn]struct{})}
}

// ServeHTTP upgrades the request and runs the subscription loop until
// the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Printf("websocket accept: %v", err)
		return
	}
	hc := &hubConn{conn: conn, labels: make(map[string]struct{})}
	h.mu.Lock()
	h.conns[hc] = struct{}{}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.conns, hc)
		h.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()
	for {
		var cmd socket.Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			return
		}
		hc.apply(cmd)
	}
}

// apply updates the connection's subscriptions from one command. Payloads
// reuse the client-side watch payload shapes.
func (hc *hubConn) apply(cmd socket.Command) {
	payload, ok := cmd.Payload.(map[string]any)
	if !ok {
		return
	}
	str := func(key string) string {
		s, _ := payload[key].(string)
		return s
	}
	var label string
	switch cmd.Command {
	case "watch", "clear_watch":
		settings := socket.SingleSettings{
			AppLabel:   str("app_label"),
			ModelName:  str("model_name"),
			Serializer: str("serializer"),
		}
		label = settings.UpdateLabel(str("pk"))
	case "watch_new", "clear_watch_new":
		settings := socket.ListSettings{
			AppLabel:   str("app_label"),
			ModelName:  str("model_name"),
			ListName:   str("list_name"),
			Serializer: str("serializer"),
			PK:         str("pk"),
		}
		label = settings.NewItemLabel()
	default:
		return
	}
	hc.mu.Lock()
	defer hc.mu.Unlock()
	switch cmd.Command {
	case "watch", "watch_new":
		hc.labels[label] = struct{}{}
	default:
		delete(hc.labels, label)
	}
}

// Broadcast sends payload to every connection watching label.
func (h *Hub) Broadcast(ctx context.Context, label string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		log.Printf("broadcast %s: encoding payload: %v", label, err)
		return
	}
	evt := socket.Event{Label: label, Payload: raw}

	h.mu.Lock()
	targets := make([]*hubConn, 0, len(h.conns))
	for hc := range h.conns {
		targets = append(targets, hc)
	}
	h.mu.Unlock()

	for _, hc := range targets {
		hc.mu.Lock()
		_, watching := hc.labels[label]
		hc.mu.Unlock()
		if !watching {
			continue
		}
		if err := wsjson.Write(ctx, hc.conn, evt); err != nil {
			log.Printf("broadcast %s: %v", label, err)
		}
	}
}
