package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

const defaultTickInterval = 10 * time.Millisecond

// Handler 为服务的消息处理逻辑。
//
// HandleMessage 对未知消息应返回 merr.ErrMailboxUnknownMessage，
// 处理循环记录告警后丢弃该消息。
type Handler interface {
	HandleMessage(msg Message) error
}

// Ticker 为可选接口，处理循环在每轮消息处理后调用 Tick。
type Ticker interface {
	Tick(now time.Time)
}

// Loop 为单个服务的单线程处理循环，按固定节奏处理邮箱中的消息。
type Loop struct {
	log.Binder

	mailbox  *Mailbox
	handler  Handler
	interval time.Duration
}

func NewLoop(mailbox *Mailbox, handler Handler, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = defaultTickInterval
	}
	l := &Loop{
		mailbox:  mailbox,
		handler:  handler,
		interval: interval,
	}
	l.SetLogger(log.With(log.FieldService(mailbox.Service().String())))
	return l
}

// RunOnce 处理一轮消息并调用 Tick，返回处理的消息数。
func (l *Loop) RunOnce(now time.Time) int {
	n := l.mailbox.Drain(l.dispatch)
	if t, ok := l.handler.(Ticker); ok {
		t.Tick(now)
	}
	return n
}

func (l *Loop) dispatch(msg Message) {
	defer func() {
		if r := recover(); r != nil {
			l.Logger().Error("message handler panicked",
				zap.String("message", fmt.Sprintf("%T", msg)), zap.Any("panic", r))
		}
	}()

	err := l.handler.HandleMessage(msg)
	switch {
	case err == nil:
	case merr.Code(err) == merr.Code(merr.ErrMailboxUnknownMessage):
		l.Logger().RatedWarn(1, "unknown message dropped", zap.Error(err))
	default:
		l.Logger().Warn("failed to handle message",
			zap.String("message", fmt.Sprintf("%T", msg)), zap.Error(err))
	}
}

// Run 驱动处理循环直至 ctx 取消。
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	l.Logger().Info("service loop started", zap.Duration("interval", l.interval))
	for {
		select {
		case <-ctx.Done():
			l.Logger().Info("service loop stopped")
			return nil
		case now := <-ticker.C:
			l.RunOnce(now)
		}
	}
}
