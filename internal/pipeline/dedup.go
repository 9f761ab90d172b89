package pipeline

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
)

// dedupCache 是进程内的有界去重缓存。
// 请求标识符在实质处理开始前登记，重复请求直接命中缓存结果；
// 结果内容哈希用于抑制进程生命周期内完全相同的重复输出。
type dedupCache struct {
	mu       sync.Mutex
	capacity int

	outcomes map[string]*Outcome
	order    *list.List

	payloads map[string]struct{}
	payOrder *list.List
}

func newDedupCache(capacity int) *dedupCache {
	if capacity <= 0 {
		capacity = 4096
	}
	return &dedupCache{
		capacity: capacity,
		outcomes: make(map[string]*Outcome),
		order:    list.New(),
		payloads: make(map[string]struct{}),
		payOrder: list.New(),
	}
}

// Lookup 查询请求标识符对应的缓存结果。
// 已登记但尚未完成的请求返回 (nil, true)。
func (c *dedupCache) Lookup(requestID string) (*Outcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	outcome, ok := c.outcomes[requestID]
	return outcome, ok
}

// Register 在副作用发生前登记请求标识符。
// 返回 false 表示该标识符已被登记过。
func (c *dedupCache) Register(requestID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outcomes[requestID]; ok {
		return false
	}
	c.outcomes[requestID] = nil
	c.order.PushBack(requestID)
	c.evictLocked()
	return true
}

// Store 把完成的结果写入缓存，供后续重复请求直接返回。
func (c *dedupCache) Store(requestID string, outcome *Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.outcomes[requestID]; !ok {
		c.order.PushBack(requestID)
	}
	c.outcomes[requestID] = outcome
	c.evictLocked()
}

// SeenPayload 登记结果内容哈希，返回 true 表示同样的内容此前已经出现过。
func (c *dedupCache) SeenPayload(digest string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.payloads[digest]; ok {
		return true
	}
	c.payloads[digest] = struct{}{}
	c.payOrder.PushBack(digest)
	for len(c.payloads) > c.capacity {
		front := c.payOrder.Front()
		if front == nil {
			break
		}
		oldest := front.Value.(string)
		c.payOrder.Remove(front)
		delete(c.payloads, oldest)
	}
	return false
}

// evictLocked 按登记顺序淘汰最旧的条目，保持缓存有界。
func (c *dedupCache) evictLocked() {
	for len(c.outcomes) > c.capacity {
		front := c.order.Front()
		if front == nil {
			return
		}
		oldest := front.Value.(string)
		c.order.Remove(front)
		delete(c.outcomes, oldest)
	}
}

// digestOutcome 计算结果的内容哈希，哈希覆盖对用户可见的全部字段。
func digestOutcome(outcome *Outcome) string {
	shadow := *outcome
	shadow.Duplicate = false
	shadow.RepeatPayload = false
	raw, err := json.Marshal(&shadow)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
