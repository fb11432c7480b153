package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

func fill(g *GameHandle, n int) {
	for i := 0; i < n; i++ {
		g.AddPlayer()
	}
}

func newPopulatedManager(t *testing.T, divisor int, counts ...int) (*Manager, []*GameHandle) {
	t.Helper()
	m := NewManager(Config{TargetCount: len(counts), Divisor: divisor}, nil)
	_, err := m.GetAvailableGame()
	require.NoError(t, err)

	games := m.Games()
	require.Len(t, games, len(counts))
	for i, n := range counts {
		fill(games[i], n)
	}
	return m, games
}

func TestGetAvailableGame_LowestLoad(t *testing.T) {
	m, games := newPopulatedManager(t, 1, 5, 5, 1)

	g, err := m.GetAvailableGame()
	require.NoError(t, err)
	assert.Same(t, games[2], g)
}

func TestGetAvailableGame_CoarsenedTie(t *testing.T) {
	m, games := newPopulatedManager(t, 10, 4, 5)

	first, err := m.GetAvailableGame()
	require.NoError(t, err)
	assert.Same(t, games[0], first)

	for i := 0; i < 5; i++ {
		again, err := m.GetAvailableGame()
		require.NoError(t, err)
		assert.Same(t, first, again)
	}
}

func TestGetAvailableGame_SingleInstance(t *testing.T) {
	m, games := newPopulatedManager(t, 1, 100)

	g, err := m.GetAvailableGame()
	require.NoError(t, err)
	assert.Same(t, games[0], g)
}

func TestGetAvailableGame_Replenish(t *testing.T) {
	dir := service.NewDirectory()
	mb, err := dir.Register(service.GameInstance)
	require.NoError(t, err)
	dir.Seal()

	m := NewManager(Config{TargetCount: 2, Divisor: 1}, dir)
	_, err = m.GetAvailableGame()
	require.NoError(t, err)
	assert.Len(t, m.Games(), 2)
	assert.Equal(t, 2, mb.Len())

	retired := m.Games()[0]
	require.NoError(t, m.Retire(retired.ID()))
	assert.True(t, retired.Retired())
	assert.Len(t, m.Games(), 1)
	assert.ErrorIs(t, m.Retire(retired.ID()), merr.ErrInstanceNotFound)

	g, err := m.GetAvailableGame()
	require.NoError(t, err)
	assert.NotEqual(t, retired.ID(), g.ID())
	assert.Len(t, m.Games(), 2)

	var ops []service.GameInstanceOpType
	mb.Drain(func(msg service.Message) {
		ops = append(ops, msg.(service.GameInstanceOp).Op)
	})
	assert.Equal(t, []service.GameInstanceOpType{
		service.OpCreateGame, service.OpCreateGame, service.OpShutdownGame, service.OpCreateGame,
	}, ops)

	_, ok := m.Game(g.ID())
	assert.True(t, ok)
	_, ok = m.Game(retired.ID())
	assert.False(t, ok)
}

func TestGetAvailableGame_Unavailable(t *testing.T) {
	// 未登记游戏实例服务时无法创建实例。
	dir := service.NewDirectory()
	dir.Seal()

	m := NewManager(Config{TargetCount: 1}, dir)
	_, err := m.GetAvailableGame()
	assert.ErrorIs(t, err, merr.ErrInstanceUnavailable)
}

func TestGameHandle_Count(t *testing.T) {
	g := newGameHandle(1)
	g.AddPlayer()
	g.AddPlayer()
	g.RemovePlayer()
	assert.Equal(t, 1, g.PlayerCount())
	g.RemovePlayer()
	g.RemovePlayer()
	assert.Equal(t, 0, g.PlayerCount())
}
