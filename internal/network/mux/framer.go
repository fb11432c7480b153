package mux

import (
	"encoding/binary"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

const (
	// HeaderSize 为帧头长度：2 字节通道 ID + 3 字节消息体长度 + 1 字节命令。
	HeaderSize = 6
	// MaxBodyLength 为 3 字节长度字段可表示的最大值。
	MaxBodyLength = 1<<24 - 1

	defaultMaxChannels uint16 = 2
)

// Frame 为一条 mux 帧。Body 仅在 Command 为 Data 时非空。
//
// DecodeFrame 返回的 Body 直接引用接收缓冲区，调用方在缓冲区被复用前必须复制。
type Frame struct {
	ChannelID uint16
	Command   Command
	Body      []byte
}

// Config 为帧编解码配置。
type Config struct {
	// MaxChannels 为允许的最大通道 ID，合法范围为 [1, MaxChannels]。
	MaxChannels uint16 `mapstructure:"max-channels"`
	// ByteOrder 为帧头多字节字段的字节序，可选 little 或 big。
	ByteOrder string `mapstructure:"byte-order"`
	// MaxBodySize 为单帧消息体上限，不应超过连接接收缓冲区的容量。
	MaxBodySize int `mapstructure:"max-body-size"`
}

// Framer 负责 mux 帧头的读写与校验。并发安全，不持有可变状态。
type Framer struct {
	order       binary.ByteOrder
	maxChannels uint16
	maxBody     int
}

// NewFramer 根据配置创建 Framer，未设置的字段使用缺省值（2 个通道、小端、最大消息体）。
func NewFramer(cfg Config) (*Framer, error) {
	f := &Framer{
		order:       binary.LittleEndian,
		maxChannels: cfg.MaxChannels,
		maxBody:     cfg.MaxBodySize,
	}
	switch strings.ToLower(cfg.ByteOrder) {
	case "", "little", "little-endian", "le":
	case "big", "big-endian", "be":
		f.order = binary.BigEndian
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown mux byte order %q", cfg.ByteOrder)
	}
	if f.maxChannels == 0 {
		f.maxChannels = defaultMaxChannels
	}
	if f.maxBody <= 0 || f.maxBody > MaxBodyLength {
		f.maxBody = MaxBodyLength
	}
	return f, nil
}

// MaxChannels 返回允许的最大通道 ID。
func (f *Framer) MaxChannels() uint16 {
	return f.maxChannels
}

// MaxBodySize 返回单帧消息体上限。
func (f *Framer) MaxBodySize() int {
	return f.maxBody
}

func (f *Framer) validate(channelID uint16, cmd Command, bodyLen int) error {
	if channelID == 0 || channelID > f.maxChannels {
		return merr.WrapErrFrameInvalidChannel(channelID, f.maxChannels)
	}
	if !cmd.Valid() {
		return merr.WrapErrFrameIllegalCommand(cmd)
	}
	if bodyLen > f.maxBody {
		return merr.WrapErrFrameBodyTooLarge(bodyLen, f.maxBody)
	}
	if bodyLen > 0 && cmd != CommandData {
		return merr.WrapErrFrameMalformed("body on non-data command", cmd.String())
	}
	return nil
}

// AppendFrame 将帧编码后追加到 dst。
func (f *Framer) AppendFrame(dst []byte, frame Frame) ([]byte, error) {
	if err := f.validate(frame.ChannelID, frame.Command, len(frame.Body)); err != nil {
		return dst, err
	}

	var header [HeaderSize]byte
	f.order.PutUint16(header[0:2], frame.ChannelID)
	putUint24(f.order, header[2:5], uint32(len(frame.Body)))
	header[5] = byte(frame.Command)

	dst = append(dst, header[:]...)
	return append(dst, frame.Body...), nil
}

// Encode 将帧编码为新的字节切片。
func (f *Framer) Encode(frame Frame) ([]byte, error) {
	return f.AppendFrame(make([]byte, 0, HeaderSize+len(frame.Body)), frame)
}

// WriteFrame 将帧编码并完整写入 w。
func (f *Framer) WriteFrame(w io.Writer, frame Frame) error {
	buf, err := f.Encode(frame)
	if err != nil {
		return err
	}
	if _, err := w.Write(buf); err != nil {
		return errors.Wrap(err, "mux: write frame failed")
	}
	return nil
}

// DecodeFrame 从 buf 头部解析一帧，返回帧与消耗的字节数。
//
// buf 中数据不足一帧时返回 consumed == 0 且 err == nil，调用方应继续读取后重试。
// 帧头非法（通道越界、未知命令、消息体超限、非 Data 命令携带消息体）时返回帧协议错误。
func (f *Framer) DecodeFrame(buf []byte) (Frame, int, error) {
	if len(buf) < HeaderSize {
		return Frame{}, 0, nil
	}

	channelID := f.order.Uint16(buf[0:2])
	bodyLen := int(uint24(f.order, buf[2:5]))
	cmd := Command(buf[5])

	if err := f.validate(channelID, cmd, bodyLen); err != nil {
		return Frame{}, 0, err
	}

	total := HeaderSize + bodyLen
	if len(buf) < total {
		return Frame{}, 0, nil
	}

	frame := Frame{ChannelID: channelID, Command: cmd}
	if bodyLen > 0 {
		frame.Body = buf[HeaderSize:total:total]
	}
	return frame, total, nil
}

func putUint24(order binary.ByteOrder, b []byte, v uint32) {
	_ = b[2]
	if order == binary.BigEndian {
		b[0] = byte(v >> 16)
		b[1] = byte(v >> 8)
		b[2] = byte(v)
		return
	}
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
}

func uint24(order binary.ByteOrder, b []byte) uint32 {
	_ = b[2]
	if order == binary.BigEndian {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
}
