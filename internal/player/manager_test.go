package player

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/instance"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
)

type fakeClient struct {
	id           uint64
	session      *auth.ClientSession
	disconnected atomic.Bool
}

func newFakeClient(id, accountID uint64) *fakeClient {
	return &fakeClient{
		id:      id,
		session: &auth.ClientSession{ID: id, Account: auth.Account{ID: accountID, Email: "p@example.com"}},
	}
}

func (c *fakeClient) ID() uint64                   { return c.id }
func (c *fakeClient) RemoteAddr() net.Addr         { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *fakeClient) Session() *auth.ClientSession { return c.session }
func (c *fakeClient) Disconnect()                  { c.disconnected.Store(true) }

func (c *fakeClient) SendMessages(channel uint16, msgs ...mux.Message) error {
	return nil
}

type fakeStore struct {
	mu      sync.Mutex
	loads   map[uint64]int
	saves   map[uint64]int
	ops     []string
	loadErr error
	// saveGate 非空时保存阻塞到通道关闭。
	saveGate chan struct{}
}

func newFakeStore() *fakeStore {
	return &fakeStore{loads: make(map[uint64]int), saves: make(map[uint64]int)}
}

func (s *fakeStore) LoadPlayerData(ctx context.Context, account auth.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads[account.ID]++
	s.ops = append(s.ops, "load")
	return s.loadErr
}

func (s *fakeStore) SavePlayerData(ctx context.Context, account auth.Account) error {
	s.mu.Lock()
	gate := s.saveGate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves[account.ID]++
	s.ops = append(s.ops, "save")
	return nil
}

func (s *fakeStore) history() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ops...)
}

func (s *fakeStore) holdSaves() chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveGate = make(chan struct{})
	return s.saveGate
}

func (s *fakeStore) counts(accountID uint64) (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loads[accountID], s.saves[accountID]
}

type ManagerSuite struct {
	suite.Suite

	store     *fakeStore
	instances *instance.Manager
	manager   *Manager
	players   *service.Loop
	games     *service.Loop
}

func (s *ManagerSuite) SetupTest() {
	dir := service.NewDirectory()
	playerBox, err := dir.Register(service.PlayerManager)
	s.Require().NoError(err)
	gameBox, err := dir.Register(service.GameInstance)
	s.Require().NoError(err)
	dir.Seal()

	s.store = newFakeStore()
	s.instances = instance.NewManager(instance.Config{TargetCount: 1, Divisor: 1}, dir)
	s.manager, err = NewManager(PersistenceConfig{Workers: 2, Attempts: 1, Timeout: time.Second}, s.store, dir, s.instances)
	s.Require().NoError(err)

	s.players = service.NewLoop(playerBox, s.manager, 0)
	s.games = service.NewLoop(gameBox, instance.NewService(dir), 0)
}

func (s *ManagerSuite) TearDownTest() {
	s.manager.Close()
}

func (s *ManagerSuite) pump() {
	now := time.Now()
	for s.games.RunOnce(now)+s.players.RunOnce(now) > 0 {
	}
}

// waitState 推进两个服务循环，直到账号句柄进入期望状态。
func (s *ManagerSuite) waitState(accountID uint64, state State) *Handle {
	var h *Handle
	s.Require().Eventually(func() bool {
		s.pump()
		var ok bool
		h, ok = s.manager.Handle(accountID)
		return ok && h.State() == state
	}, 2*time.Second, 5*time.Millisecond)
	return h
}

func (s *ManagerSuite) waitGone(accountID uint64) {
	s.Require().Eventually(func() bool {
		s.pump()
		_, ok := s.manager.Handle(accountID)
		return !ok
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *ManagerSuite) TestLoginJoinsGame() {
	client := newFakeClient(1, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: client}))

	h := s.waitState(100, StateInGame)
	s.Same(client, h.Client())
	s.Equal(1, h.Game().PlayerCount())
	s.Equal(1, s.manager.Count())

	loads, _ := s.store.counts(100)
	s.Equal(1, loads)
	s.False(client.disconnected.Load())
}

func (s *ManagerSuite) TestLogoutLeavesGameAndSaves() {
	client := newFakeClient(1, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: client}))
	game := s.waitState(100, StateInGame).Game()

	s.Require().NoError(s.manager.HandleMessage(service.RemoveClient{Client: client}))
	s.waitGone(100)
	s.Equal(0, game.PlayerCount())

	s.Eventually(func() bool {
		_, saves := s.store.counts(100)
		return saves == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *ManagerSuite) TestRemoveBeforeLoadSkipsSave() {
	client := newFakeClient(1, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: client}))
	s.Require().NoError(s.manager.HandleMessage(service.RemoveClient{Client: client}))

	_, ok := s.manager.Handle(100)
	s.False(ok)

	s.Eventually(func() bool {
		s.pump()
		loads, _ := s.store.counts(100)
		return loads == 1
	}, 2*time.Second, 5*time.Millisecond)
	_, saves := s.store.counts(100)
	s.Equal(0, saves)
	s.Equal(0, s.manager.Count())
}

func (s *ManagerSuite) TestDuplicateLoginKicksPrevious() {
	first := newFakeClient(1, 100)
	second := newFakeClient(2, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: first}))
	s.waitState(100, StateInGame)

	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: second}))
	s.True(first.disconnected.Load())
	s.False(second.disconnected.Load())

	// 旧连接断开后新连接接管账号。
	s.Require().NoError(s.manager.HandleMessage(service.RemoveClient{Client: first}))
	h := s.waitState(100, StateInGame)
	s.Same(second, h.Client())
	s.Equal(1, h.Game().PlayerCount())
}

func (s *ManagerSuite) TestDuplicateLoginLoadsAfterSave() {
	gate := s.store.holdSaves()
	first := newFakeClient(1, 100)
	second := newFakeClient(2, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: first}))
	s.waitState(100, StateInGame)

	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: second}))
	s.Require().NoError(s.manager.HandleMessage(service.RemoveClient{Client: first}))
	s.waitGone(100)

	// 旧句柄的保存返回前，新连接保持等待且不会触发加载。
	s.Never(func() bool {
		s.pump()
		_, ok := s.manager.Handle(100)
		loads, _ := s.store.counts(100)
		return ok || loads > 1
	}, 100*time.Millisecond, 5*time.Millisecond)
	s.False(s.manager.Idle())

	close(gate)
	h := s.waitState(100, StateInGame)
	s.Same(second, h.Client())
	s.Equal([]string{"load", "save", "load"}, s.store.history())
}

func (s *ManagerSuite) TestReconnectWhileSaving() {
	gate := s.store.holdSaves()
	first := newFakeClient(1, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: first}))
	s.waitState(100, StateInGame)
	s.Require().NoError(s.manager.HandleMessage(service.RemoveClient{Client: first}))
	s.waitGone(100)

	// 新登录在保存期间到达，同样等待保存结果。
	second := newFakeClient(2, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: second}))
	_, ok := s.manager.Handle(100)
	s.False(ok)

	close(gate)
	s.waitState(100, StateInGame)
	s.Equal([]string{"load", "save", "load"}, s.store.history())
	s.False(second.disconnected.Load())
}

func (s *ManagerSuite) TestIdleAfterLogout() {
	s.True(s.manager.Idle())
	client := newFakeClient(1, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: client}))
	s.False(s.manager.Idle())
	s.waitState(100, StateInGame)

	s.Require().NoError(s.manager.HandleMessage(service.RemoveClient{Client: client}))
	s.Eventually(func() bool {
		s.pump()
		return s.manager.Idle()
	}, 2*time.Second, 5*time.Millisecond)
	_, saves := s.store.counts(100)
	s.Equal(1, saves)
}

func (s *ManagerSuite) TestLoadFailureDisconnects() {
	s.store.mu.Lock()
	s.store.loadErr = errors.New("storage offline")
	s.store.mu.Unlock()

	client := newFakeClient(1, 100)
	s.Require().NoError(s.manager.HandleMessage(service.AddClient{Client: client}))

	s.Eventually(func() bool {
		s.pump()
		return client.disconnected.Load()
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *ManagerSuite) TestUnknownRemove() {
	err := s.manager.HandleMessage(service.RemoveClient{Client: newFakeClient(9, 900)})
	s.Error(err)
}

func TestPlayerManager(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}
