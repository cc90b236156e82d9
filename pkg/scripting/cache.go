package scripting

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/openfroyo/payroll/pkg/engine"
)

// functionCache is a bounded LRU of compiled functions keyed by content hash.
type functionCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[string]*list.Element
}

type cacheEntry struct {
	key string
	fn  Function
}

func newFunctionCache(capacity int) *functionCache {
	if capacity <= 0 {
		capacity = 1024
	}
	return &functionCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[string]*list.Element),
	}
}

// cacheKey hashes language, function type and source.
func cacheKey(language engine.ScriptLanguage, functionType engine.FunctionType, source string) string {
	h := sha256.New()
	h.Write([]byte(language))
	h.Write([]byte{0})
	h.Write([]byte(functionType))
	h.Write([]byte{0})
	h.Write([]byte(source))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *functionCache) get(key string) (Function, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).fn, true
}

func (c *functionCache) put(key string, fn Function) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).fn = fn
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, fn: fn})
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *functionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *functionCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}
