// Licensed to the LF AI & Data foundation under one
// or more contributor license agreements. See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership. The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License. You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// gatewayNamespace 是网关所有 Prometheus 指标使用的命名空间。
	gatewayNamespace = "gateway"

	connectionSubsystem = "connection"
	sessionSubsystem    = "session"
	mailboxSubsystem    = "mailbox"
	playerSubsystem     = "player"
	instanceSubsystem   = "instance"

	reasonLabelName  = "reason"
	statusLabelName  = "status"
	serviceLabelName = "service"
	stateLabelName   = "state"
	gameIDLabelName  = "game_id"
)

var (
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gatewayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "active",
			Help:      "当前存活的客户端连接数",
		})

	ConnectionsAccepted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: gatewayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "accepted_total",
			Help:      "累计接受的客户端连接数",
		})

	ConnectionsClosed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: gatewayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "closed_total",
			Help:      "按原因统计的断开连接数",
		}, []string{reasonLabelName})

	FrameErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: gatewayNamespace,
			Subsystem: connectionSubsystem,
			Name:      "frame_errors_total",
			Help:      "按原因统计的 mux 帧协议违规次数",
		}, []string{reasonLabelName})

	SessionsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gatewayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "pending",
			Help:      "待客户端连接的会话数",
		})

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: gatewayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "active",
			Help:      "已绑定连接的会话数",
		})

	SessionAuthResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: gatewayNamespace,
			Subsystem: sessionSubsystem,
			Name:      "auth_results_total",
			Help:      "按状态码统计的登录结果",
		}, []string{statusLabelName})

	MailboxQueueLength = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: gatewayNamespace,
			Subsystem: mailboxSubsystem,
			Name:      "queue_length",
			Help:      "每个服务邮箱中待处理的消息数",
		}, []string{serviceLabelName})

	MailboxProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: gatewayNamespace,
			Subsystem: mailboxSubsystem,
			Name:      "processed_total",
			Help:      "每个服务已处理的消息数",
		}, []string{serviceLabelName})

	PlayerHandles = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: gatewayNamespace,
			Subsystem: playerSubsystem,
			Name:      "handles",
			Help:      "按状态统计的玩家句柄数",
		}, []string{stateLabelName})

	InstancePlayers = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: gatewayNamespace,
			Subsystem: instanceSubsystem,
			Name:      "players",
			Help:      "每个游戏实例中的玩家数（含待加入）",
		}, []string{gameIDLabelName})

	registerOnce     sync.Once
	metricRegisterer prometheus.Registerer
)

// GetRegisterer 返回全局 Prometheus Registerer。
// 如果尚未通过 Register 显式设置，则返回 prometheus.DefaultRegisterer。
func GetRegisterer() prometheus.Registerer {
	if metricRegisterer == nil {
		return prometheus.DefaultRegisterer
	}
	return metricRegisterer
}

// Register 注册网关的全部指标，重复调用只生效一次。
func Register(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(ConnectionsActive)
		r.MustRegister(ConnectionsAccepted)
		r.MustRegister(ConnectionsClosed)
		r.MustRegister(FrameErrors)
		r.MustRegister(SessionsPending)
		r.MustRegister(SessionsActive)
		r.MustRegister(SessionAuthResults)
		r.MustRegister(MailboxQueueLength)
		r.MustRegister(MailboxProcessed)
		r.MustRegister(PlayerHandles)
		r.MustRegister(InstancePlayers)
		metricRegisterer = r
	})
}
