package connection

import (
	"sync"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Table 为连接 ID 到连接的并发安全映射。
//
// Remove 保证同一连接只会被成功移除一次，调用方据此保证断开回调只触发一次。
type Table struct {
	mu    sync.RWMutex
	conns map[uint64]*Connection
}

func NewTable() *Table {
	return &Table{
		conns: make(map[uint64]*Connection),
	}
}

// Add 注册连接，ID 重复时返回错误。
func (t *Table) Add(c *Connection) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.conns[c.ID()]; exists {
		return merr.WrapErrParameterInvalidMsg("connection id %d already registered", c.ID())
	}
	t.conns[c.ID()] = c
	return nil
}

func (t *Table) Get(id uint64) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	c, ok := t.conns[id]
	return c, ok
}

// Remove 移除连接，返回是否由本次调用完成移除。
func (t *Table) Remove(id uint64) (*Connection, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	c, ok := t.conns[id]
	if ok {
		delete(t.conns, id)
	}
	return c, ok
}

// Range 在快照上遍历连接，fn 返回 false 时停止。
func (t *Table) Range(fn func(c *Connection) bool) {
	t.mu.RLock()
	snapshot := make([]*Connection, 0, len(t.conns))
	for _, c := range t.conns {
		snapshot = append(snapshot, c)
	}
	t.mu.RUnlock()

	for _, c := range snapshot {
		if !fn(c) {
			return
		}
	}
}

// Drain 在持有写锁期间移除并关闭全部连接，返回被移除的连接。
// 期间其它 Add/Remove 会阻塞，清理过程不会与并发修改交错。
func (t *Table) Drain() []*Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	drained := make([]*Connection, 0, len(t.conns))
	for id, c := range t.conns {
		delete(t.conns, id)
		_ = c.Close()
		drained = append(drained, c)
	}
	return drained
}

func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.conns)
}
