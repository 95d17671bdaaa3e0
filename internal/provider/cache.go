package provider

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/babelclass/babelclass/pkg/provider/tts"
)

// fingerprint derives the cache key for one synthesis request. Text, language,
// and voice all shape the output audio, so all three feed the hash.
func fingerprint(req tts.Request) string {
	h := sha256.New()
	h.Write([]byte(req.Text))
	h.Write([]byte{0})
	h.Write([]byte(req.LanguageCode))
	h.Write([]byte{0})
	h.Write([]byte(req.Voice))
	return hex.EncodeToString(h.Sum(nil))
}

func cacheAttr(result string) metric.MeasurementOption {
	return metric.WithAttributes(attribute.String("result", result))
}

// audioCache is a bounded LRU of synthesised clips. Classroom speech repeats
// a lot (greetings, instructions, the same phrase re-requested via
// tts_request), so even a small cache saves real synthesis spend.
type audioCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key string
	res tts.Result
}

// newAudioCache returns a cache holding at most capacity entries, or nil when
// capacity is zero or negative (caching disabled).
func newAudioCache(capacity int) *audioCache {
	if capacity <= 0 {
		return nil
	}
	return &audioCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element, capacity),
	}
}

func (c *audioCache) get(key string) (tts.Result, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return tts.Result{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).res, true
}

func (c *audioCache) put(key string, res tts.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).res = res
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, res: res})
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *audioCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
