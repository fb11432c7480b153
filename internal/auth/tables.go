package auth

import (
	"sync"
	"time"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// pendingTable 保存等待客户端连接的会话。
type pendingTable struct {
	mu       sync.Mutex
	sessions map[uint64]*ClientSession
}

func newPendingTable() *pendingTable {
	return &pendingTable{sessions: make(map[uint64]*ClientSession)}
}

func (t *pendingTable) Add(s *ClientSession) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[s.ID]; ok {
		return false
	}
	t.sessions[s.ID] = s
	return true
}

// Claim 原子地取出并移除会话，同一会话只能被取出一次。
func (t *pendingTable) Claim(id uint64) (*ClientSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s, ok := t.sessions[id]
	if ok {
		delete(t.sessions, id)
	}
	return s, ok
}

func (t *pendingTable) Contains(id uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.sessions[id]
	return ok
}

// PurgeExpired 移除创建时间早于 now-lifespan 的会话并返回它们。
func (t *pendingTable) PurgeExpired(now time.Time, lifespan time.Duration) []*ClientSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	var purged []*ClientSession
	for id, s := range t.sessions {
		if s.expired(now, lifespan) {
			delete(t.sessions, id)
			purged = append(purged, s)
		}
	}
	return purged
}

func (t *pendingTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// activeTable 保存已绑定连接的会话。
// 不变式：一个会话 ID 至多对应一条连接，一条连接至多持有一个会话。
type activeTable struct {
	mu     sync.RWMutex
	byID   map[uint64]activeEntry
	byConn map[uint64]uint64
}

type activeEntry struct {
	session *ClientSession
	connID  uint64
}

func newActiveTable() *activeTable {
	return &activeTable{
		byID:   make(map[uint64]activeEntry),
		byConn: make(map[uint64]uint64),
	}
}

// TryActivate 在会话 ID 与连接均未激活时登记会话。
func (t *activeTable) TryActivate(s *ClientSession, connID uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.byID[s.ID]; ok {
		return merr.WrapErrSessionAlreadyActive(s.ID, connID, "session id already active")
	}
	if existing, ok := t.byConn[connID]; ok {
		return merr.WrapErrSessionAlreadyActive(existing, connID, "connection already owns a session")
	}
	t.byID[s.ID] = activeEntry{session: s, connID: connID}
	t.byConn[connID] = s.ID
	return nil
}

func (t *activeTable) Remove(id uint64) (*ClientSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	delete(t.byID, id)
	delete(t.byConn, entry.connID)
	return entry.session, true
}

func (t *activeTable) Get(id uint64) (*ClientSession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.byID[id]
	return entry.session, ok
}

func (t *activeTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byID)
}

// platformTable 维护一次性平台令牌与会话的一一映射。
type platformTable struct {
	mu        sync.Mutex
	tokens    map[string]uint64
	bySession map[uint64]string
}

func newPlatformTable() *platformTable {
	return &platformTable{
		tokens:    make(map[string]uint64),
		bySession: make(map[uint64]string),
	}
}

func (t *platformTable) Add(token string, sessionID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tokens[token] = sessionID
	t.bySession[sessionID] = token
}

func (t *platformTable) Lookup(token string) (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.tokens[token]
	return id, ok
}

// Consume 使令牌失效，仅当令牌仍映射到 sessionID 时成功。
func (t *platformTable) Consume(token string, sessionID uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.tokens[token]
	if !ok || id != sessionID {
		return false
	}
	delete(t.tokens, token)
	delete(t.bySession, sessionID)
	return true
}

// InvalidateSession 使会话关联的令牌失效（若仍存在）。
func (t *platformTable) InvalidateSession(sessionID uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if token, ok := t.bySession[sessionID]; ok {
		delete(t.tokens, token)
		delete(t.bySession, sessionID)
	}
}

func (t *platformTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.tokens)
}
