package lists

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matthewbaird/atelier/pkg/client"
	"github.com/matthewbaird/atelier/pkg/registry"
	"github.com/matthewbaird/atelier/pkg/singles"
	"github.com/matthewbaird/atelier/pkg/store"
)

type submission struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

func pageHandler(t *testing.T, total int) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		size, _ := strconv.Atoi(r.URL.Query().Get("size"))
		require.NotZero(t, page)
		require.NotZero(t, size)
		start := (page - 1) * size
		results := make([]submission, 0, size)
		for i := start; i < start+size && i < total; i++ {
			results = append(results, submission{ID: int64(i + 1), Title: fmt.Sprintf("Piece %d", i+1)})
		}
		json.NewEncoder(w).Encode(map[string]any{
			"count":   total,
			"size":    size,
			"results": results,
		})
	})
}

func newTestStore(t *testing.T, handler http.Handler) *store.Store {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := client.New(srv.URL)
	require.NoError(t, err)
	return store.New(c)
}

func useList(t *testing.T, st *store.Store, sc *registry.Scope, name string, schema *Schema[submission]) *Controller[submission] {
	t.Helper()
	ctrl, err := Use[submission](st, sc, name, schema)
	require.NoError(t, err)
	return ctrl
}

func TestGetLoadsFirstPage(t *testing.T) {
	st := newTestStore(t, pageHandler(t, 7))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/", PageSize: 3})
	got, err := list.Get(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Piece 1", got[0].Title)
	assert.Equal(t, 7, list.Count())
	assert.Equal(t, 3, list.TotalPages())
	assert.True(t, list.MoreAvailable())
	assert.True(t, list.Ready())
}

func TestItemsRegisteredAsSingles(t *testing.T) {
	st := newTestStore(t, pageHandler(t, 2))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/", PageSize: 5})
	_, err := list.Get(context.Background())
	require.NoError(t, err)

	item := st.Singles.Controller("gallery/items/1")
	require.NotNil(t, item)
	typed := item.(*singles.Controller[submission])
	assert.Equal(t, "Piece 1", typed.X().Title)
	assert.Equal(t, "/api/submissions/1/", typed.Endpoint())

	// Mutating the single is visible through the list.
	typed.SetX(&submission{ID: 1, Title: "Retitled"})
	assert.Equal(t, "Retitled", list.List()[0].Title)
}

func TestNextReplacesPage(t *testing.T) {
	st := newTestStore(t, pageHandler(t, 7))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/", PageSize: 3})
	_, err := list.Get(context.Background())
	require.NoError(t, err)

	got, err := list.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "Piece 4", got[0].Title)
	assert.Equal(t, 2, list.CurrentPage())

	// Page one's items were released.
	assert.Nil(t, st.Singles.Controller("gallery/items/1"))
}

func TestNextGrowsInGrowMode(t *testing.T) {
	st := newTestStore(t, pageHandler(t, 7))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "feed", &Schema[submission]{Endpoint: "/api/submissions/", PageSize: 3, Grow: true})
	_, err := list.Get(context.Background())
	require.NoError(t, err)
	got, err := list.Next(context.Background())
	require.NoError(t, err)
	require.Len(t, got, 6)
	assert.Equal(t, "Piece 1", got[0].Title)
	assert.Equal(t, "Piece 6", got[5].Title)
}

func TestResetReturnsToFirstPage(t *testing.T) {
	st := newTestStore(t, pageHandler(t, 7))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/", PageSize: 3})
	_, err := list.GetPage(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, 3, list.CurrentPage())

	got, err := list.Reset(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, list.CurrentPage())
	assert.Equal(t, "Piece 1", got[0].Title)
}

func TestFailureSetsFailed(t *testing.T) {
	st := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"detail": "nope"}`, http.StatusInternalServerError)
	}))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/"})
	_, err := list.Get(context.Background())
	require.Error(t, err)
	assert.True(t, list.Failed())
	assert.False(t, list.Ready())
}

func TestPushAndRemove(t *testing.T) {
	st := newTestStore(t, http.NotFoundHandler())
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/"})
	list.MakeReady(nil)
	assert.True(t, list.Empty())

	list.Push(submission{ID: 5, Title: "New"})
	require.Len(t, list.List(), 1)
	assert.Equal(t, 1, list.Count())
	assert.False(t, list.Empty())

	list.Remove("5")
	assert.Empty(t, list.List())
	assert.Zero(t, list.Count())
	assert.Nil(t, st.Singles.Controller("gallery/items/5"))
}

func TestReverseListPrepends(t *testing.T) {
	st := newTestStore(t, http.NotFoundHandler())
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "messages", &Schema[submission]{Endpoint: "/api/messages/", Reverse: true})
	list.MakeReady([]submission{{ID: 1, Title: "First"}})
	list.Push(submission{ID: 2, Title: "Second"})

	got := list.List()
	require.Len(t, got, 2)
	assert.Equal(t, "Second", got[0].Title)
}

func TestUniquePushDedupes(t *testing.T) {
	st := newTestStore(t, http.NotFoundHandler())
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/"})
	list.MakeReady([]submission{{ID: 1, Title: "Original"}})

	list.UniquePush(submission{ID: 1, Title: "Updated"})
	got := list.List()
	require.Len(t, got, 1)
	// The key stayed unique but the stored value refreshed.
	assert.Equal(t, "Updated", got[0].Title)
}

func TestReplaceIgnoresUnknown(t *testing.T) {
	st := newTestStore(t, http.NotFoundHandler())
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/"})
	list.MakeReady([]submission{{ID: 1, Title: "Keep"}})

	list.Replace(submission{ID: 9, Title: "Phantom"})
	require.Len(t, list.List(), 1)
	assert.Equal(t, "Keep", list.List()[0].Title)

	list.Replace(submission{ID: 1, Title: "Swapped"})
	assert.Equal(t, "Swapped", list.List()[0].Title)
}

func TestPostPush(t *testing.T) {
	st := newTestStore(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		json.NewEncoder(w).Encode(submission{ID: 42, Title: body["title"].(string)})
	}))
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/"})
	list.MakeReady(nil)

	got, err := list.PostPush(context.Background(), map[string]any{"title": "Fresh"})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.ID)
	require.Len(t, list.List(), 1)
	assert.Equal(t, "Fresh", list.List()[0].Title)
}

func TestPurgeReleasesItems(t *testing.T) {
	st := newTestStore(t, pageHandler(t, 3))
	sc := registry.NewScope()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/", PageSize: 5})
	_, err := list.Get(context.Background())
	require.NoError(t, err)
	require.NotNil(t, st.Singles.Controller("gallery/items/1"))

	sc.Close()
	assert.Nil(t, st.Lists.Controller("gallery"))
	assert.Nil(t, st.Singles.Controller("gallery/items/1"))
	assert.Empty(t, list.List())
}

func TestOnChangeFires(t *testing.T) {
	st := newTestStore(t, http.NotFoundHandler())
	sc := registry.NewScope()
	defer sc.Close()

	list := useList(t, st, sc, "gallery", &Schema[submission]{Endpoint: "/api/submissions/"})
	var fired int
	cancel := list.OnChange(func([]*submission) { fired++ })
	defer cancel()

	list.MakeReady([]submission{{ID: 1}})
	list.Push(submission{ID: 2})
	assert.Equal(t, 2, fired)
}
