package log

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	FieldNameComponent = "component"
	FieldNameConnID    = "connID"
	FieldNameSessionID = "sessionID"
	FieldNameAccountID = "accountID"
	FieldNameService   = "service"
	FieldNameChannel   = "channel"
	FieldNameSecurity  = "security"
)

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldConnID 返回连接 ID 字段。
func FieldConnID(id uint64) zap.Field {
	return zap.Uint64(FieldNameConnID, id)
}

// FieldSessionID 返回会话 ID 字段，以十六进制输出，与客户端日志保持一致。
func FieldSessionID(id uint64) zap.Field {
	return zap.String(FieldNameSessionID, fmt.Sprintf("0x%016X", id))
}

// FieldAccountID 返回账号 ID 字段。
func FieldAccountID(id uint64) zap.Field {
	return zap.Uint64(FieldNameAccountID, id)
}

// FieldService 返回服务名字段。
func FieldService(name string) zap.Field {
	return zap.String(FieldNameService, name)
}

// FieldChannel 返回 mux 通道字段。
func FieldChannel(ch uint16) zap.Field {
	return zap.Uint16(FieldNameChannel, ch)
}

// FieldSecurity 标记安全相关事件，便于告警检索。
func FieldSecurity() zap.Field {
	return zap.Bool(FieldNameSecurity, true)
}
