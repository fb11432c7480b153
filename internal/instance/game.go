package instance

import (
	"strconv"

	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
)

// GameHandle 表示一个游戏实例（模拟分片）。
//
// 玩家数包含已预约但尚未完成加入的玩家，选择实例时以此为依据。
type GameHandle struct {
	id          uint64
	playerCount atomic.Int32
	retired     atomic.Bool
}

func newGameHandle(id uint64) *GameHandle {
	return &GameHandle{id: id}
}

func (g *GameHandle) ID() uint64 {
	return g.id
}

func (g *GameHandle) PlayerCount() int {
	return int(g.playerCount.Load())
}

// Retired 报告实例是否已退役。
func (g *GameHandle) Retired() bool {
	return g.retired.Load()
}

// AddPlayer 预约一个玩家名额。
func (g *GameHandle) AddPlayer() {
	n := g.playerCount.Inc()
	metrics.InstancePlayers.WithLabelValues(g.label()).Set(float64(n))
}

// RemovePlayer 释放一个玩家名额。
func (g *GameHandle) RemovePlayer() {
	n := g.playerCount.Dec()
	if n < 0 {
		g.playerCount.Store(0)
		n = 0
	}
	metrics.InstancePlayers.WithLabelValues(g.label()).Set(float64(n))
}

// load 返回粗化后的负载：玩家数除以 divisor（整除）。
func (g *GameHandle) load(divisor int) int {
	return g.PlayerCount() / divisor
}

func (g *GameHandle) label() string {
	return strconv.FormatUint(g.id, 10)
}
