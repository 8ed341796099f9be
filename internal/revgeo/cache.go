package revgeo

import (
	"container/list"
	"sync"
	"time"
)

// LRU：进程内查询缓存，键为 s2 cell token
// 约束：容量满时淘汰最久未使用项；过期项在读取时删除
type LRU struct {
	mu      sync.Mutex
	limit   int
	ttl     time.Duration
	order   *list.List
	entries map[string]*list.Element
}

type entry struct {
	cell    string
	match   Match
	expires time.Time
}

func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{limit: capacity, ttl: ttl, order: list.New(), entries: make(map[string]*list.Element, capacity)}
}

func (c *LRU) Get(cell string) (Match, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[cell]
	if !ok {
		return Match{}, false
	}
	e := el.Value.(*entry)
	if !time.Now().Before(e.expires) {
		c.drop(el)
		return Match{}, false
	}
	c.order.MoveToFront(el)
	return e.match, true
}

func (c *LRU) Set(cell string, m Match) {
	c.mu.Lock()
	defer c.mu.Unlock()
	exp := time.Now().Add(c.ttl)
	if el, ok := c.entries[cell]; ok {
		e := el.Value.(*entry)
		e.match, e.expires = m, exp
		c.order.MoveToFront(el)
		return
	}
	c.entries[cell] = c.order.PushFront(&entry{cell: cell, match: m, expires: exp})
	for c.order.Len() > c.limit {
		c.drop(c.order.Back())
	}
}

func (c *LRU) drop(el *list.Element) {
	delete(c.entries, el.Value.(*entry).cell)
	c.order.Remove(el)
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
