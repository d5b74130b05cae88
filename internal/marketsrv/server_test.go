package marketsrv

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/matthewbaird/atelier/pkg/characters"
	"github.com/matthewbaird/atelier/pkg/lineitems"
	"github.com/matthewbaird/atelier/pkg/profiles"
	"github.com/matthewbaird/atelier/pkg/socket"
)

func newTestServer(t *testing.T) (*httptest.Server, *Storage, *Server) {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/market.db")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	storage, err := NewStorage(context.Background(), db)
	require.NoError(t, err)
	srv := New(storage)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts, storage, srv
}

func seedUser(t *testing.T, storage *Storage, username string) *profiles.User {
	t.Helper()
	user := &profiles.User{Username: username, TaggingOK: true}
	require.NoError(t, storage.CreateUser(context.Background(), user))
	return user
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(into))
}

func TestGetUser(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var user profiles.User
	decodeBody(t, resp, &user)
	assert.Equal(t, "Fox", user.Username)
	assert.NotZero(t, user.ID)
}

func TestGetUserNotFound(t *testing.T) {
	ts, _, _ := newTestServer(t)

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Nobody/", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	var body map[string]string
	decodeBody(t, resp, &body)
	assert.Equal(t, "Not found.", body["detail"])
}

func TestRenameUser(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodPatch, ts.URL+"/api/profiles/account/Fox/",
		map[string]string{"username": "Vulpes"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var user profiles.User
	decodeBody(t, resp, &user)
	assert.Equal(t, "Vulpes", user.Username)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Vulpes/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRenameUserTaken(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")
	seedUser(t, storage, "Vulpes")

	resp := doJSON(t, http.MethodPatch, ts.URL+"/api/profiles/account/Fox/",
		map[string]string{"username": "Vulpes"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string][]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["username"][0], "already taken")
}

func TestArtistProfile(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/artist-profile/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var profile profiles.ArtistProfile
	decodeBody(t, resp, &profile)
	assert.Equal(t, 10, profile.MaxLoad)

	profile.MaxLoad = 3
	profile.CommissionsClosed = true
	resp = doJSON(t, http.MethodPatch, ts.URL+"/api/profiles/account/Fox/artist-profile/", profile)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/artist-profile/", nil)
	decodeBody(t, resp, &profile)
	assert.Equal(t, 3, profile.MaxLoad)
	assert.True(t, profile.CommissionsClosed)
}

func TestCreateProductValidation(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/products/",
		map[string]string{"description": "no name, no price"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string][]string
	decodeBody(t, resp, &body)
	assert.Equal(t, []string{"This field is required."}, body["name"])
	assert.Equal(t, []string{"This field is required."}, body["base_price"])
}

func TestProductLifecycle(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/products/",
		profiles.Product{Name: "Sketch", BasePrice: "25.00"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var product profiles.Product
	decodeBody(t, resp, &product)
	require.NotZero(t, product.ID)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/products/?page=1&size=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Count   int                `json:"count"`
		Size    int                `json:"size"`
		Results []profiles.Product `json:"results"`
	}
	decodeBody(t, resp, &page)
	assert.Equal(t, 1, page.Count)
	require.Len(t, page.Results, 1)
	assert.Equal(t, "Sketch", page.Results[0].Name)

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/profiles/account/Fox/products/"+itoa(product.ID)+"/", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/products/"+itoa(product.ID)+"/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCharacterBundleEndpoints(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/",
		characters.Character{Name: "Kai", Description: "A sly one."})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/attributes/",
		characters.Attribute{Key: "species", Value: "fox"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/colors/",
		characters.Color{Note: "fur", Color: "#c35b1e"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Plain list endpoints answer with bare arrays, not page envelopes.
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/characters/Kai/attributes/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var attrs []characters.Attribute
	decodeBody(t, resp, &attrs)
	require.Len(t, attrs, 1)
	assert.Equal(t, "species", attrs[0].Key)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/characters/Kai/colors/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var colors []characters.Color
	decodeBody(t, resp, &colors)
	require.Len(t, colors, 1)
	assert.Equal(t, "#c35b1e", colors[0].Color)
}

func TestCharacterRename(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")
	doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/",
		characters.Character{Name: "Kai"})

	resp := doJSON(t, http.MethodPatch, ts.URL+"/api/profiles/account/Fox/characters/Kai/",
		map[string]string{"name": "Kairos"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var char characters.Character
	decodeBody(t, resp, &char)
	assert.Equal(t, "Kairos", char.Name)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/characters/Kairos/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/characters/Kai/", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCharacterShare(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	seedUser(t, storage, "Fox")
	seedUser(t, storage, "Amber")
	doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/",
		characters.Character{Name: "Kai"})

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/share/",
		map[string]string{"username": "Amber"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/characters/Kai/share/",
		map[string]string{"username": "Stranger"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/profiles/account/Fox/characters/Kai/share/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var shared []profiles.User
	decodeBody(t, resp, &shared)
	require.Len(t, shared, 1)
	assert.Equal(t, "Amber", shared[0].Username)
}

func TestOrderSeedsBaseLine(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	buyer := seedUser(t, storage, "Amber")
	seller := seedUser(t, storage, "Fox")

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/profiles/account/Fox/products/",
		profiles.Product{Name: "Sketch", BasePrice: "25.00"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var product profiles.Product
	decodeBody(t, resp, &product)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sales/orders/",
		Order{BuyerID: buyer.ID, SellerID: seller.ID, ProductID: &product.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var order Order
	decodeBody(t, resp, &order)
	assert.Equal(t, "new", order.Status)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/sales/orders/"+itoa(order.ID)+"/line-items/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page struct {
		Count   int             `json:"count"`
		Results []OrderLineItem `json:"results"`
	}
	decodeBody(t, resp, &page)
	require.Equal(t, 1, page.Count)
	assert.Equal(t, lineitems.BasePrice, page.Results[0].Kind)
	assert.Equal(t, "25.00", page.Results[0].Amount)
}

func TestLineItemValidation(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	buyer := seedUser(t, storage, "Amber")
	seller := seedUser(t, storage, "Fox")
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sales/orders/",
		Order{BuyerID: buyer.ID, SellerID: seller.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var order Order
	decodeBody(t, resp, &order)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/sales/orders/"+itoa(order.ID)+"/line-items/",
		OrderLineItem{LineItem: lineitems.LineItem{Priority: 100, CascadeUnder: 300}})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var body map[string][]string
	decodeBody(t, resp, &body)
	assert.Contains(t, body["cascade_under"][0], "priority")
}

func TestInvoice(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	buyer := seedUser(t, storage, "Amber")
	seller := seedUser(t, storage, "Fox")
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sales/orders/",
		Order{BuyerID: buyer.ID, SellerID: seller.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var order Order
	decodeBody(t, resp, &order)

	base := ts.URL + "/api/sales/orders/" + itoa(order.ID)
	resp = doJSON(t, http.MethodPost, base+"/line-items/", OrderLineItem{
		LineItem: lineitems.LineItem{Kind: lineitems.BasePrice, Amount: "10", Percentage: "0"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = doJSON(t, http.MethodPost, base+"/line-items/", OrderLineItem{
		LineItem: lineitems.LineItem{
			Kind:              lineitems.Shield,
			Priority:          300,
			CascadeUnder:      300,
			Amount:            "0",
			Percentage:        "10",
			CascadePercentage: true,
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base+"/invoice/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inv invoice
	decodeBody(t, resp, &inv)
	assert.Equal(t, "10.00", inv.Total)
	assert.Equal(t, "10.00", inv.RawTotal)
	assert.Equal(t, "0.00", inv.Discount)
	assert.True(t, inv.Escrow)
	require.Len(t, inv.Lines, 2)
	assert.Equal(t, "Base price", inv.Lines[0].Label)
	assert.Equal(t, "9.00", inv.Lines[0].Amount)
	assert.Equal(t, "Shield protection", inv.Lines[1].Label)
	assert.Equal(t, "1.00", inv.Lines[1].Amount)
}

func TestInvoiceEscrowOffWhenComped(t *testing.T) {
	ts, storage, _ := newTestServer(t)
	buyer := seedUser(t, storage, "Amber")
	seller := seedUser(t, storage, "Fox")
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/sales/orders/",
		Order{BuyerID: buyer.ID, SellerID: seller.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var order Order
	decodeBody(t, resp, &order)

	base := ts.URL + "/api/sales/orders/" + itoa(order.ID)
	doJSON(t, http.MethodPost, base+"/line-items/", OrderLineItem{
		LineItem: lineitems.LineItem{Kind: lineitems.BasePrice, Amount: "10", Percentage: "0"},
	})
	doJSON(t, http.MethodPost, base+"/line-items/", OrderLineItem{
		LineItem: lineitems.LineItem{Kind: lineitems.AddOn, Priority: 100, CascadeUnder: 100, Amount: "-10", Percentage: "0"},
	})

	resp = doJSON(t, http.MethodGet, base+"/invoice/", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var inv invoice
	decodeBody(t, resp, &inv)
	assert.Equal(t, "0.00", inv.Total)
	assert.Equal(t, "0.00", inv.RawTotal)
	assert.Equal(t, "-10.00", inv.Discount)
	assert.False(t, inv.Escrow)
}

// A connection that watches a user's update label receives the rename
// broadcast; unsubscribed connections do not.
func TestHubDeliversWatchedUpdates(t *testing.T) {
	ts, storage, srv := newTestServer(t)
	user := seedUser(t, storage, "Fox")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	require.NoError(t, wsjson.Write(ctx, conn, socket.Command{
		Command: "watch",
		Payload: userSocket.WatchPayload(itoa(user.ID)),
	}))

	// The watch command is applied by the server's read loop, so
	// broadcast until delivery succeeds.
	var event socket.Event
	received := false
	for i := 0; i < 50 && !received; i++ {
		srv.Hub().Broadcast(ctx, userSocket.UpdateLabel(itoa(user.ID)), user)
		readCtx, readCancel := context.WithTimeout(ctx, 100*time.Millisecond)
		if err := wsjson.Read(readCtx, conn, &event); err == nil {
			received = true
		}
		readCancel()
	}
	require.True(t, received, "no event delivered after watch")
	assert.Equal(t, userSocket.UpdateLabel(itoa(user.ID)), event.Label)
	var got profiles.User
	require.NoError(t, json.Unmarshal(event.Payload, &got))
	assert.Equal(t, "Fox", got.Username)
}
