// Package rendercache is a content-addressed LRU cache in front of the
// markdown rendering path. Keys incorporate content length and a fast hash so
// a reused logical identifier can never serve a stale fragment.
package rendercache

import (
	"bytes"
	"log/slog"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

const DefaultCapacity = 500

type Cache struct {
	lru      *lru.Cache[string, string]
	markdown goldmark.Markdown
	policy   *bluemonday.Policy
	log      *slog.Logger
}

func New(capacity int, log *slog.Logger) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = slog.Default()
	}
	cache, err := lru.New[string, string](capacity)
	if err != nil {
		return nil, err
	}
	return &Cache{
		lru:      cache,
		markdown: newMarkdown(),
		policy:   newPolicy(),
		log:      log,
	}, nil
}

// Render returns the sanitized fragment for content, cached under baseKey.
// A hit refreshes the entry's recency; a miss renders, inserts and evicts
// the least recently used entry when at capacity. An empty baseKey disables
// caching for this call and logs a diagnostic.
func (c *Cache) Render(content, baseKey string) string {
	if baseKey == "" {
		c.log.Debug("render cache bypassed: missing base key")
		return c.renderUncached(content)
	}
	key := cacheKey(content, baseKey)
	if fragment, ok := c.lru.Get(key); ok {
		return fragment
	}
	fragment := c.renderUncached(content)
	c.lru.Add(key, fragment)
	return fragment
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

// Contains reports whether the content is cached under baseKey without
// touching recency. Diagnostics only.
func (c *Cache) Contains(content, baseKey string) bool {
	return c.lru.Contains(cacheKey(content, baseKey))
}

func (c *Cache) renderUncached(content string) string {
	var buf bytes.Buffer
	if err := c.markdown.Convert([]byte(content), &buf); err != nil {
		c.log.Warn("markdown render failed, falling back to sanitized raw text", "error", err)
		return c.policy.Sanitize(content)
	}
	return c.policy.Sanitize(buf.String())
}

func cacheKey(content, baseKey string) string {
	return baseKey + ":" + strconv.Itoa(len(content)) + ":" + fastHash(content)
}

// fastHash is a djb2-xor rolling hash reduced to base36. Non-cryptographic;
// collisions are made irrelevant by the length component of the key.
func fastHash(s string) string {
	var h uint32 = 5381
	for i := 0; i < len(s); i++ {
		h = ((h << 5) + h) ^ uint32(s[i])
	}
	return strconv.FormatUint(uint64(h), 36)
}

func newMarkdown() goldmark.Markdown {
	return goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
}

// newPolicy builds the sanitizer: executable attributes are stripped and
// links are forced to open externally without opener/referrer leakage.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.UGCPolicy()
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	return p
}
