package query

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInt(t *testing.T) {
	values := url.Values{"page": {"3"}, "junk": {"three"}}
	assert.Equal(t, 3, Int(values, "page", 1))
	assert.Equal(t, 1, Int(values, "junk", 1))
	assert.Equal(t, 1, Int(values, "missing", 1))
}

func TestBool(t *testing.T) {
	for _, truthy := range []string{"true", "1", "yes", "on"} {
		assert.True(t, Bool(url.Values{"wl": {truthy}}, "wl"), truthy)
	}
	assert.False(t, Bool(url.Values{"wl": {"false"}}, "wl"))
	assert.False(t, Bool(url.Values{"wl": {"0"}}, "wl"))
	assert.False(t, Bool(url.Values{}, "wl"))
}

func TestCloneIsDeep(t *testing.T) {
	orig := url.Values{"q": {"fox", "vulpes"}}
	dup := Clone(orig)
	dup["q"][0] = "mutated"
	dup.Add("page", "2")
	assert.Equal(t, "fox", orig.Get("q"))
	assert.Empty(t, orig.Get("page"))

	assert.Nil(t, Clone(nil))
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal(nil, url.Values{}))
	assert.True(t, Equal(url.Values{"q": {"a"}}, url.Values{"q": {"a"}}))
	assert.False(t, Equal(url.Values{"q": {"a"}}, url.Values{"q": {"b"}}))
	assert.False(t, Equal(url.Values{"q": {"a", "b"}}, url.Values{"q": {"a"}}))
}

func TestFromRawData(t *testing.T) {
	values := FromRawData(map[string]any{
		"q":         "fox",
		"page":      float64(2),
		"watchlist": true,
		"size":      24,
		"tags":      []any{"canine", "orange"},
		"none":      nil,
	})
	assert.Equal(t, "fox", values.Get("q"))
	assert.Equal(t, "2", values.Get("page"))
	assert.Equal(t, "true", values.Get("watchlist"))
	assert.Equal(t, "24", values.Get("size"))
	assert.Equal(t, []string{"canine", "orange"}, values["tags"])
	_, present := values["none"]
	assert.True(t, present)
	assert.Equal(t, "", values.Get("none"))
}

func TestFromRawDataStringSlices(t *testing.T) {
	values := FromRawData(map[string]any{"tags": []string{"a", "b"}})
	assert.Equal(t, []string{"a", "b"}, values["tags"])
}

func TestRouterFunc(t *testing.T) {
	var got url.Values
	var r Router = RouterFunc(func(q url.Values) { got = q })
	r.Replace(url.Values{"page": {"4"}})
	assert.Equal(t, "4", got.Get("page"))
}
