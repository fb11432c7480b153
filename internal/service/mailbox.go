package service

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
)

// Mailbox 为服务的入站消息队列。
//
// Enqueue 可在任意 goroutine 中调用，只在追加期间持锁；
// Drain 只能由服务自己的处理循环调用：先与空队列交换，再在锁外逐条处理，
// 生产者不会因消费者处理耗时而阻塞。
type Mailbox struct {
	service Type

	mu      sync.Mutex
	inbound []Message

	// processing 只由处理循环访问。
	processing []Message

	queueLength prometheus.Gauge
	processed   prometheus.Counter
}

func NewMailbox(service Type) *Mailbox {
	return &Mailbox{
		service:     service,
		queueLength: metrics.MailboxQueueLength.WithLabelValues(service.String()),
		processed:   metrics.MailboxProcessed.WithLabelValues(service.String()),
	}
}

// Service 返回邮箱所属的服务。
func (m *Mailbox) Service() Type {
	return m.service
}

// Enqueue 追加一条消息。同一 goroutine 追加的消息按追加顺序被处理。
func (m *Mailbox) Enqueue(msg Message) {
	m.mu.Lock()
	m.inbound = append(m.inbound, msg)
	m.mu.Unlock()
	m.queueLength.Inc()
}

// Drain 取出当前全部消息并按 FIFO 顺序逐条交给 fn，返回处理条数。
// 处理期间新到达的消息留到下一次 Drain。
func (m *Mailbox) Drain(fn func(msg Message)) int {
	m.mu.Lock()
	m.inbound, m.processing = m.processing[:0], m.inbound
	m.mu.Unlock()

	n := len(m.processing)
	if n == 0 {
		return 0
	}
	m.queueLength.Sub(float64(n))

	for i, msg := range m.processing {
		m.processing[i] = nil
		fn(msg)
	}
	m.processed.Add(float64(n))
	m.processing = m.processing[:0]
	return n
}

// Len 返回尚未取出的消息数。
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.inbound)
}
