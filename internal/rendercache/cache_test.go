package rendercache

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, capacity int) *Cache {
	t.Helper()
	c, err := New(capacity, slog.Default())
	require.NoError(t, err)
	return c
}

func TestLRURecencyRefreshOnHit(t *testing.T) {
	c := newTestCache(t, 3)

	c.Render("content a", "A")
	c.Render("content b", "B")
	c.Render("content c", "C")

	// Hit A so it becomes most recently used.
	c.Render("content a", "A")

	// Inserting D evicts B, the least recently used, not A.
	c.Render("content d", "D")

	assert.True(t, c.Contains("content a", "A"))
	assert.False(t, c.Contains("content b", "B"))
	assert.True(t, c.Contains("content c", "C"))
	assert.True(t, c.Contains("content d", "D"))
	assert.Equal(t, 3, c.Len())
}

func TestKeyIncorporatesContent(t *testing.T) {
	c := newTestCache(t, 10)

	out1 := c.Render("foo", "card-1")
	out2 := c.Render("foobar", "card-1")

	assert.NotEqual(t, out1, out2, "changed content under a reused key renders fresh output")
	assert.Equal(t, 2, c.Len(), "two contents under one base key are two entries")
	assert.True(t, c.Contains("foo", "card-1"))
	assert.True(t, c.Contains("foobar", "card-1"))
}

func TestMissingBaseKeyBypassesCache(t *testing.T) {
	c := newTestCache(t, 10)
	out := c.Render("# heading", "")
	assert.Contains(t, out, "heading")
	assert.Equal(t, 0, c.Len())
}

func TestSanitizeStripsExecutableMarkup(t *testing.T) {
	c := newTestCache(t, 10)

	out := c.Render("hello <script>alert(1)</script> world", "k")
	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "alert(1)")

	out = c.Render(`<img src=x onerror="alert(1)">`, "k2")
	assert.NotContains(t, out, "onerror")
}

func TestSanitizeForcesSafeLinkSemantics(t *testing.T) {
	c := newTestCache(t, 10)
	out := c.Render("[docs](https://example.com/docs)", "k")
	assert.Contains(t, out, `target="_blank"`)
	assert.Contains(t, out, "noopener")
	assert.Contains(t, out, "noreferrer")
}

func TestFastHashDistinguishesNearContent(t *testing.T) {
	assert.NotEqual(t, fastHash("foo"), fastHash("foobar"))
	assert.NotEqual(t, cacheKey("foo", "k"), cacheKey("oof", "k"),
		"same length, different bytes must not collide through the hash")
	assert.Equal(t, fastHash("stable"), fastHash("stable"))
}

func TestMarkdownRendering(t *testing.T) {
	c := newTestCache(t, 10)
	out := c.Render("# Plan v2\n\n- step one\n- step two", "plan")
	assert.True(t, strings.Contains(out, "<h1") || strings.Contains(out, "Plan v2"))
	assert.Contains(t, out, "<li>")
}
