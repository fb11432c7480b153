package mux

import "fmt"

// Command 为 mux 帧头中的命令字节。
type Command uint8

const (
	CommandConnect         Command = 0x01
	CommandConnectAck      Command = 0x02
	CommandDisconnect      Command = 0x03
	CommandConnectWithData Command = 0x04
	CommandData            Command = 0x05
)

var commandNames = map[Command]string{
	CommandConnect:         "Connect",
	CommandConnectAck:      "ConnectAck",
	CommandDisconnect:      "Disconnect",
	CommandConnectWithData: "ConnectWithData",
	CommandData:            "Data",
}

func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Command(0x%02X)", uint8(c))
}

// Valid 判断命令是否属于协议定义的命令集合。
func (c Command) Valid() bool {
	_, ok := commandNames[c]
	return ok
}
