// Package cache 提供进程内的会话缓存。
// 缓存不是权威数据源：未命中时调用方必须回源到持久层并回填缓存。
package cache

import (
	"persona-chat-go/internal/model"
	"sync"
)

// Window 是缓存中的对话窗口及用户累计发言次数。
type Window struct {
	Messages  []model.ChatMessage
	TurnCount int64
}

type entry struct {
	window *Window
	usage  *model.Usage
}

// SessionCache 是按用户标识索引的会话状态与用量影子计数器。
// 同一用户的读-改-写通过 Lock 串行化，不同用户之间互不阻塞。
// map 不做淘汰，键的数量等于活跃用户数。
type SessionCache struct {
	mu      sync.RWMutex
	entries map[string]*entry
	locks   sync.Map // key: userID, value: *sync.Mutex
}

// NewSessionCache 创建一个空的会话缓存。
func NewSessionCache() *SessionCache {
	return &SessionCache{entries: make(map[string]*entry)}
}

// Lock 获取指定用户的互斥锁，返回解锁函数。
// 该锁只应包住缓存/账本的变更，不应包住耗时数秒的模型调用。
func (c *SessionCache) Lock(userID string) (unlock func()) {
	v, _ := c.locks.LoadOrStore(userID, &sync.Mutex{})
	m := v.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

// GetWindow 返回窗口的副本，未命中时 ok 为 false。
func (c *SessionCache) GetWindow(userID string) (Window, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || e.window == nil {
		return Window{}, false
	}
	return Window{Messages: cloneMessages(e.window.Messages), TurnCount: e.window.TurnCount}, true
}

// PutWindow 以副本覆盖用户的窗口。
func (c *SessionCache) PutWindow(userID string, w Window) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(userID)
	e.window = &Window{Messages: cloneMessages(w.Messages), TurnCount: w.TurnCount}
}

// GetUsage 返回用量影子计数器，未命中时 ok 为 false。
func (c *SessionCache) GetUsage(userID string) (model.Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[userID]
	if !ok || e.usage == nil {
		return model.Usage{}, false
	}
	return *e.usage, true
}

// PutUsage 覆盖用户的用量影子计数器。
func (c *SessionCache) PutUsage(userID string, u model.Usage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.entryLocked(userID)
	e.usage = &u
}

// EvictWindow 只移除对话窗口，保留用量影子。
func (c *SessionCache) EvictWindow(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[userID]; ok {
		e.window = nil
	}
}

// Evict 移除用户的全部缓存状态。用户锁保留，保证锁的身份稳定。
func (c *SessionCache) Evict(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, userID)
}

// Len 返回缓存中的用户数。
func (c *SessionCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *SessionCache) entryLocked(userID string) *entry {
	e, ok := c.entries[userID]
	if !ok {
		e = &entry{}
		c.entries[userID] = e
	}
	return e
}

func cloneMessages(in []model.ChatMessage) []model.ChatMessage {
	out := make([]model.ChatMessage, len(in))
	copy(out, in)
	return out
}
