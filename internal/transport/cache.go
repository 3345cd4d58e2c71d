package transport

import (
	"container/list"
	"net/http"
	"sync"
	"time"
)

const (
	defaultCacheTTL     = 30 * time.Second
	defaultCacheEntries = 256
)

type cacheEntry struct {
	key     string
	resp    *Response
	expires time.Time
}

// responseCache is a bounded LRU of successful GET responses keyed by full URL.
type responseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	max     int
	ll      *list.List
	entries map[string]*list.Element
}

func newResponseCache(ttl time.Duration, max int) *responseCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if max <= 0 {
		max = defaultCacheEntries
	}
	return &responseCache{
		ttl:     ttl,
		max:     max,
		ll:      list.New(),
		entries: make(map[string]*list.Element, max),
	}
}

func (c *responseCache) get(key string, now time.Time) (*Response, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	ent := el.Value.(*cacheEntry)
	if !now.Before(ent.expires) {
		c.ll.Remove(el)
		delete(c.entries, key)
		return nil, false
	}
	c.ll.MoveToFront(el)
	return ent.resp.clone(), true
}

func (c *responseCache) put(key string, resp *Response, now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		ent := el.Value.(*cacheEntry)
		ent.resp = resp.clone()
		ent.expires = now.Add(c.ttl)
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&cacheEntry{key: key, resp: resp.clone(), expires: now.Add(c.ttl)})
	c.entries[key] = el
	for c.ll.Len() > c.max {
		last := c.ll.Back()
		c.ll.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).key)
	}
}

func (c *responseCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

func (r *Response) clone() *Response {
	if r == nil {
		return nil
	}
	out := *r
	out.Headers = r.Headers.Clone()
	if out.Headers == nil {
		out.Headers = http.Header{}
	}
	out.Body = append([]byte(nil), r.Body...)
	return &out
}
