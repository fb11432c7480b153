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
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case gatewayError:
		return specificErr.code()

	default:
		if errors.Is(specificErr, context.Canceled) {
			return CanceledCode
		} else if errors.Is(specificErr, context.DeadlineExceeded) {
			return TimeoutCode
		} else {
			return errUnexpected.code()
		}
	}
}

func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(gatewayError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

// IsFramingErr 判断错误是否属于 mux 帧协议违规，此类错误一律强制断开连接。
func IsFramingErr(err error) bool {
	code := Code(err)
	return code >= ErrFrameInvalidChannel.errCode && code <= ErrFrameFlood.errCode
}

func wrapMsg(base error, msg ...string) error {
	if len(msg) > 0 {
		return errors.Wrap(base, strings.Join(msg, "->"))
	}
	return base
}

// Service 相关。
func WrapErrServiceNotReady(service string, msg ...string) error {
	return wrapMsg(wrapFields(ErrServiceNotReady, value("service", service)), msg...)
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	return wrapMsg(wrapFieldsWithDesc(ErrServiceInternal, reason), msg...)
}

func WrapErrServiceNotFound(service any, msg ...string) error {
	return wrapMsg(wrapFields(ErrServiceNotFound, value("service", service)), msg...)
}

func WrapErrServiceStopped(service any, msg ...string) error {
	return wrapMsg(wrapFields(ErrServiceStopped, value("service", service)), msg...)
}

// 网络与 mux 帧相关。
func WrapErrFrameInvalidChannel(channel uint16, maxChannel uint16, msg ...string) error {
	return wrapMsg(wrapFields(ErrFrameInvalidChannel, bound("channel", channel, 1, maxChannel)), msg...)
}

func WrapErrFrameBodyTooLarge(size int, limit int, msg ...string) error {
	return wrapMsg(wrapFields(ErrFrameBodyTooLarge, value("size", size), value("limit", limit)), msg...)
}

func WrapErrFrameIllegalCommand(command any, msg ...string) error {
	return wrapMsg(wrapFields(ErrFrameIllegalCommand, value("command", command)), msg...)
}

func WrapErrFrameMalformed(reason string, msg ...string) error {
	return wrapMsg(wrapFieldsWithDesc(ErrFrameMalformed, reason), msg...)
}

func WrapErrFrameFlood(limit float64, msg ...string) error {
	return wrapMsg(wrapFields(ErrFrameFlood, value("limitPerSecond", limit)), msg...)
}

func WrapErrConnectionClosed(connID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrConnectionClosed, value("connID", connID)), msg...)
}

func WrapErrConnectionNotFound(connID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrConnectionNotFound, value("connID", connID)), msg...)
}

func WrapErrConnectionRejected(reason string, msg ...string) error {
	return wrapMsg(wrapFieldsWithDesc(ErrConnectionRejected, reason), msg...)
}

func WrapErrListenerFailed(addr string, err error) error {
	return wrapFieldsWithDesc(ErrListenerFailed, err.Error(), value("addr", addr))
}

func WrapErrListenerAcceptStalled(attempts int, err error) error {
	return wrapFieldsWithDesc(ErrListenerAcceptStalled, err.Error(), value("attempts", attempts))
}

// 会话相关。
func WrapErrSessionNotFound(sessionID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionNotFound, value("sessionID", sessionID)), msg...)
}

func WrapErrSessionDecryptFailed(sessionID uint64, err error) error {
	return wrapFieldsWithDesc(ErrSessionDecryptFailed, err.Error(), value("sessionID", sessionID))
}

func WrapErrSessionTokenMismatch(sessionID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionTokenMismatch, value("sessionID", sessionID)), msg...)
}

func WrapErrSessionAlreadyActive(sessionID uint64, connID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionAlreadyActive, value("sessionID", sessionID), value("connID", connID)), msg...)
}

func WrapErrSessionAlreadyBound(sessionID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionAlreadyBound, value("sessionID", sessionID)), msg...)
}

func WrapErrPlatformTicketInvalid(reason string, msg ...string) error {
	return wrapMsg(wrapFieldsWithDesc(ErrPlatformTicketInvalid, reason), msg...)
}

func WrapErrSessionVersionMismatch(client, server string, msg ...string) error {
	return wrapMsg(wrapFields(ErrSessionVersionMismatch, value("client", client), value("server", server)), msg...)
}

// 玩家相关。
func WrapErrPlayerStateIllegal(op string, state any, msg ...string) error {
	return wrapMsg(wrapFields(ErrPlayerStateIllegal, value("op", op), value("state", state)), msg...)
}

func WrapErrPlayerGameMismatch(expected, actual uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrPlayerGameMismatch, value("expected", expected), value("actual", actual)), msg...)
}

func WrapErrPlayerNotFound(accountID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrPlayerNotFound, value("accountID", accountID)), msg...)
}

func WrapErrPlayerDataLoadFailed(accountID uint64, err error) error {
	return wrapFieldsWithDesc(ErrPlayerDataLoadFailed, err.Error(), value("accountID", accountID))
}

func WrapErrPlayerDataSaveFailed(accountID uint64, err error) error {
	return wrapFieldsWithDesc(ErrPlayerDataSaveFailed, err.Error(), value("accountID", accountID))
}

// 游戏实例相关。
func WrapErrInstanceUnavailable(msg ...string) error {
	return wrapMsg(ErrInstanceUnavailable, msg...)
}

func WrapErrInstanceNotFound(gameID uint64, msg ...string) error {
	return wrapMsg(wrapFields(ErrInstanceNotFound, value("gameID", gameID)), msg...)
}

// 邮箱相关。
func WrapErrMailboxUnknownMessage(service any, message any, msg ...string) error {
	return wrapMsg(wrapFields(ErrMailboxUnknownMessage, value("service", service), value("message", fmt.Sprintf("%T", message))), msg...)
}

// 参数相关。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	return wrapMsg(wrapFields(ErrParameterInvalid, value("expected", expected), value("actual", actual)), msg...)
}

func WrapErrParameterInvalidMsg(fmtStr string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmtStr, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	return wrapMsg(wrapFields(ErrParameterMissing, value("missing_param", param)), msg...)
}

func wrapFields(err gatewayError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	return err
}

func wrapFieldsWithDesc(err gatewayError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	return err
}

type errorField interface {
	String() string
}

type valueField struct {
	name  string
	value any
}

func value(name string, value any) valueField {
	return valueField{
		name,
		value,
	}
}

func (f valueField) String() string {
	return fmt.Sprintf("%s=%v", f.name, f.value)
}

type boundField struct {
	name  string
	value any
	lower any
	upper any
}

func bound(name string, value, lower, upper any) boundField {
	return boundField{
		name,
		value,
		lower,
		upper,
	}
}

func (f boundField) String() string {
	return fmt.Sprintf("%v out of range %v <= %s <= %v", f.value, f.lower, f.name, f.upper)
}
