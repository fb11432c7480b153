package router

import (
	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/mux"
	"github.com/lk2023060901/danmu-garden-gateway/internal/network/serializer"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Sender 为可回发响应的客户端。
type Sender interface {
	SendMessages(channel uint16, msgs ...mux.Message) error
}

// Handler 是业务层的消息处理函数。
//
// 说明：
//   - client ：发送该消息的客户端，用于关联会话并发送响应；
//   - channel：消息所在的 mux 通道；
//   - req    ：已反序列化的请求对象，具体类型由 Route.NewRequest 决定；
//   - 返回：
//   - resp：可选的响应对象，为 nil 时不自动发送响应；
//   - err ：处理失败的原因，由调用方决定如何记录或断开连接。
type Handler[C Sender] func(client C, channel uint16, req any) (resp any, err error)

// Route 描述一条路由规则：消息 ID -> 请求类型 + Handler + 响应消息 ID。
type Route[C Sender] struct {
	// NewRequest 创建空的请求对象，必须返回指针。
	NewRequest func() any

	Handler Handler[C]

	// RespID 为响应消息 ID。为 0 时 Router 不自动发送响应，
	// Handler 可自行调用 client.SendMessages。
	RespID uint32
}

// Router 维护消息 ID 到路由规则的映射，负责反序列化、调度与响应回发。
// 注册在启动阶段完成，之后只读，Handle 可并发调用。
type Router[C Sender] struct {
	ser    serializer.Serializer
	routes map[uint32]Route[C]
}

// New 创建基于给定 Serializer 的 Router。
func New[C Sender](ser serializer.Serializer) *Router[C] {
	return &Router[C]{
		ser:    ser,
		routes: make(map[uint32]Route[C]),
	}
}

// Register 为消息 ID 注册路由规则，同一 ID 不允许重复注册。
func (r *Router[C]) Register(id uint32, route Route[C]) error {
	if id == 0 {
		return merr.WrapErrParameterInvalidMsg("router: message id must not be 0")
	}
	if route.NewRequest == nil {
		return merr.WrapErrParameterMissing("NewRequest", "router")
	}
	if route.Handler == nil {
		return merr.WrapErrParameterMissing("Handler", "router")
	}
	if _, exists := r.routes[id]; exists {
		return merr.WrapErrParameterInvalidMsg("router: message id %d already registered", id)
	}
	r.routes[id] = route
	return nil
}

// Has 报告消息 ID 是否已注册。
func (r *Router[C]) Has(id uint32) bool {
	_, ok := r.routes[id]
	return ok
}

// Handle 处理一条应用消息，响应（如有）在同一通道上回发。
func (r *Router[C]) Handle(client C, channel uint16, msg mux.Message) error {
	route, ok := r.routes[msg.ID]
	if !ok {
		return merr.WrapErrMailboxUnknownMessage("router", msg.ID)
	}

	req := route.NewRequest()
	if req == nil {
		return merr.WrapErrServiceInternal("NewRequest returned nil")
	}
	if len(msg.Payload) > 0 {
		if err := r.ser.Unmarshal(msg.Payload, req); err != nil {
			return merr.WrapErrFrameMalformed(err.Error(), "unmarshal message payload")
		}
	}

	resp, err := route.Handler(client, channel, req)
	if err != nil {
		return err
	}
	if route.RespID == 0 || resp == nil {
		return nil
	}

	payload, err := r.ser.Marshal(resp)
	if err != nil {
		return errors.Wrapf(err, "router: marshal response for message %d", msg.ID)
	}
	if err := client.SendMessages(channel, mux.Message{ID: route.RespID, Payload: payload}); err != nil {
		return errors.Wrapf(err, "router: send response for message %d", msg.ID)
	}
	return nil
}
