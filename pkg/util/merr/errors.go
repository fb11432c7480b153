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

package merr

import (
	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

const (
	CanceledCode int32 = 10000
	TimeoutCode  int32 = 10001
)

// 错误码分段：
//   - 1~99      服务
//   - 100~199   网络与 mux 帧
//   - 200~299   会话与鉴权
//   - 300~399   玩家
//   - 400~499   游戏实例
//   - 500~599   邮箱
//   - 1100~1199 参数
var (
	ErrServiceNotReady    = newGatewayError("service not ready", 1, true)
	ErrServiceUnavailable = newGatewayError("service unavailable", 2, true)
	ErrServiceInternal    = newGatewayError("service internal error", 5, false)
	ErrServiceNotFound    = newGatewayError("service not found", 13, false)
	ErrServiceStopped     = newGatewayError("service stopped", 14, false)

	ErrFrameInvalidChannel   = newGatewayError("mux channel id out of range", 100, false)
	ErrFrameBodyTooLarge     = newGatewayError("mux frame body exceeds limit", 101, false)
	ErrFrameIllegalCommand   = newGatewayError("illegal mux command", 102, false)
	ErrFrameMalformed        = newGatewayError("malformed mux frame", 103, false)
	ErrFrameFlood            = newGatewayError("mux frame rate exceeded", 104, false)
	ErrConnectionClosed      = newGatewayError("connection closed", 110, false)
	ErrConnectionNotFound    = newGatewayError("connection not found", 111, false)
	ErrConnectionRejected    = newGatewayError("connection rejected", 112, true)
	ErrListenerFailed        = newGatewayError("listener failed", 113, false)
	ErrListenerAcceptStalled = newGatewayError("accept loop failing repeatedly", 114, false)

	ErrSessionNotFound        = newGatewayError("session not found", 200, false)
	ErrSessionDecryptFailed   = newGatewayError("session token decrypt failed", 201, false)
	ErrSessionTokenMismatch   = newGatewayError("session token mismatch", 202, false)
	ErrSessionAlreadyActive   = newGatewayError("session already active", 203, false)
	ErrSessionAlreadyBound    = newGatewayError("session already bound", 204, false)
	ErrPlatformTicketInvalid  = newGatewayError("platform ticket invalid", 205, false)
	ErrSessionVersionMismatch = newGatewayError("client version mismatch", 206, false)

	ErrPlayerStateIllegal   = newGatewayError("illegal player state transition", 300, false)
	ErrPlayerGameMismatch   = newGatewayError("player is not in that game", 301, false)
	ErrPlayerNotFound       = newGatewayError("player not found", 302, false)
	ErrPlayerDataLoadFailed = newGatewayError("player data load failed", 303, true)
	ErrPlayerDataSaveFailed = newGatewayError("player data save failed", 304, true)

	ErrInstanceUnavailable = newGatewayError("no game instance available", 400, true)
	ErrInstanceNotFound    = newGatewayError("game instance not found", 401, false)

	ErrMailboxUnknownMessage = newGatewayError("unknown mailbox message", 500, false)

	ErrParameterInvalid = newGatewayError("invalid parameter", 1100, false)
	ErrParameterMissing = newGatewayError("missing parameter", 1101, false)

	errUnexpected = newGatewayError("unexpected error", (1<<16)-1, false)
)

type gatewayError struct {
	msg       string
	retriable bool
	errCode   int32
}

func newGatewayError(msg string, code int32, retriable bool) gatewayError {
	return gatewayError{
		msg:       msg,
		retriable: retriable,
		errCode:   code,
	}
}

func (e gatewayError) code() int32 {
	return e.errCode
}

func (e gatewayError) Error() string {
	return e.msg
}

func (e gatewayError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(gatewayError); ok {
		return e.errCode == cause.errCode
	}
	return false
}

type multiErrors struct {
	errs []error
}

func (e multiErrors) Unwrap() error {
	if len(e.errs) <= 1 {
		return nil
	}
	// 多错误的 cause 定义为最后一个错误。
	if len(e.errs) == 2 {
		return e.errs[1]
	}

	return multiErrors{
		errs: e.errs[1:],
	}
}

func (e multiErrors) Error() string {
	final := e.errs[0]
	for i := 1; i < len(e.errs); i++ {
		final = errors.Wrap(e.errs[i], final.Error())
	}
	return final.Error()
}

func (e multiErrors) Is(err error) bool {
	for _, item := range e.errs {
		if errors.Is(item, err) {
			return true
		}
	}
	return false
}

// Combine 合并多个错误，忽略其中的 nil；全部为 nil 时返回 nil。
func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
