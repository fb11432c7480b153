package service

import (
	"sync"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Directory 为服务类型到邮箱的注册表，是服务间通信的唯一入口。
//
// 启动阶段通过 Register 登记全部服务后调用 Seal，此后只读。
type Directory struct {
	mu        sync.RWMutex
	mailboxes map[Type]*Mailbox
	sealed    bool
}

func NewDirectory() *Directory {
	return &Directory{
		mailboxes: make(map[Type]*Mailbox),
	}
}

// Register 为服务创建邮箱，同一服务只能登记一次，Seal 之后不允许登记。
func (d *Directory) Register(t Type) (*Mailbox, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.sealed {
		return nil, merr.WrapErrServiceInternal("directory sealed", t.String())
	}
	if _, ok := d.mailboxes[t]; ok {
		return nil, merr.WrapErrParameterInvalidMsg("service %s already registered", t)
	}
	mb := NewMailbox(t)
	d.mailboxes[t] = mb
	return mb, nil
}

// Seal 结束登记阶段。
func (d *Directory) Seal() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sealed = true
}

// Mailbox 返回服务的邮箱。
func (d *Directory) Mailbox(t Type) (*Mailbox, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	mb, ok := d.mailboxes[t]
	return mb, ok
}

// Send 将消息投递到目标服务的邮箱，目标未登记时返回 ErrServiceNotFound。
func (d *Directory) Send(dst Type, msg Message) error {
	mb, ok := d.Mailbox(dst)
	if !ok {
		return merr.WrapErrServiceNotFound(dst.String())
	}
	mb.Enqueue(msg)
	return nil
}
