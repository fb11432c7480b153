package mux

import (
	"bytes"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Message 为 Data 帧中携带的一条应用消息：消息类型 ID 加不透明的负载。
//
// 线格式：varint(ID) + varint(len(Payload)) + Payload，多条消息首尾相接构成 Data 帧的消息体。
type Message struct {
	ID      uint32
	Payload []byte
}

// Clone 深拷贝消息负载，使其不再引用接收缓冲区。
func (m Message) Clone() Message {
	return Message{ID: m.ID, Payload: bytes.Clone(m.Payload)}
}

// AppendMessages 将消息依次编码并追加到 dst。
func AppendMessages(dst []byte, msgs ...Message) []byte {
	for _, m := range msgs {
		dst = protowire.AppendVarint(dst, uint64(m.ID))
		dst = protowire.AppendBytes(dst, m.Payload)
	}
	return dst
}

// MessagesSize 返回消息编码后的总长度。
func MessagesSize(msgs ...Message) int {
	n := 0
	for _, m := range msgs {
		n += protowire.SizeVarint(uint64(m.ID)) + protowire.SizeBytes(len(m.Payload))
	}
	return n
}

// ParseMessages 按顺序解析 Data 帧消息体中的全部消息。
//
// 返回的 Payload 引用 body 的底层数组，跨越接收缓冲区生命周期使用前需 Clone。
func ParseMessages(body []byte) ([]Message, error) {
	var msgs []Message
	for len(body) > 0 {
		id, n := protowire.ConsumeVarint(body)
		if n < 0 {
			return nil, merr.WrapErrFrameMalformed(protowire.ParseError(n).Error(), "message id")
		}
		if id > uint64(^uint32(0)) {
			return nil, merr.WrapErrFrameMalformed("message id overflows uint32")
		}
		body = body[n:]

		payload, n := protowire.ConsumeBytes(body)
		if n < 0 {
			return nil, merr.WrapErrFrameMalformed(protowire.ParseError(n).Error(), "message payload")
		}
		body = body[n:]

		msgs = append(msgs, Message{ID: uint32(id), Payload: payload})
	}
	return msgs, nil
}
