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
	"go.uber.org/zap"

	"github.com/lk2023060901/fest-go/pkg/log"
)

// Code 返回给定错误对应的错误码。
func Code(err error) int32 {
	if err == nil {
		return 0
	}

	cause := errors.Cause(err)
	switch specificErr := cause.(type) {
	case festError:
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

// IsRetryableErr 判断错误根因是否为可重试的 festError。
func IsRetryableErr(err error) bool {
	if err, ok := errors.Cause(err).(festError); ok {
		return err.retriable
	}

	return false
}

func IsCanceledOrTimeout(err error) bool {
	return errors.IsAny(err, context.Canceled, context.DeadlineExceeded)
}

func WrapErrAsInputError(err error) error {
	if merr, ok := err.(festError); ok {
		WithErrorType(InputError)(&merr)
		return merr
	}
	return err
}

func WrapErrAsInputErrorWhen(err error, targets ...festError) error {
	if merr, ok := err.(festError); ok {
		for _, target := range targets {
			if target.errCode == merr.errCode {
				log.Info("mark error as input error", zap.Error(err))
				WithErrorType(InputError)(&merr)
				return merr
			}
		}
	}
	return err
}

func GetErrorType(err error) ErrorType {
	if merr, ok := err.(festError); ok {
		return merr.errType
	}

	return SystemError
}

// Service 相关错误封装。
func WrapErrServiceUnavailable(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceUnavailable, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrTooManyRequests(limit int32, msg ...string) error {
	err := wrapFields(ErrServiceTooManyRequests,
		value("limit", limit),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceInternal(reason string, msg ...string) error {
	err := wrapFieldsWithDesc(ErrServiceInternal, reason)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceRateLimit(rate float64, msg ...string) error {
	err := wrapFields(ErrServiceRateLimit, value("rate", rate))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrServiceUnsupported(server string, versions []string, msg ...string) error {
	err := wrapFields(ErrServiceUnsupported,
		value("server", server),
		value("versions", strings.Join(versions, ",")),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// Session 相关错误封装。
func WrapErrSessionNotFound(id uint64, msg ...string) error {
	err := wrapFields(ErrSessionNotFound, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionNotReady(id uint64, msg ...string) error {
	err := wrapFields(ErrSessionNotReady, value("session", id))
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrSessionAuthFailed(server, identity string, cause error) error {
	return wrapFieldsWithDesc(ErrSessionAuthFailed, causeDesc(cause),
		value("server", server),
		value("identity", identity),
	)
}

func WrapErrSessionSyncFailed(id uint64, cause error) error {
	err := wrapFieldsWithDesc(ErrSessionSyncFailed, causeDesc(cause), value("session", id))
	if !IsRetryableErr(cause) {
		return nonRetriable(err)
	}
	return err
}

// 会话操作相关错误封装。
func WrapErrOpSendFailed(roomID string, cause error) error {
	err := wrapFieldsWithDesc(ErrOpSendFailed, causeDesc(cause), value("room", roomID))
	if !IsRetryableErr(cause) {
		return nonRetriable(err)
	}
	return err
}

func WrapErrOpFetchFailed(cause error) error {
	err := wrapFieldsWithDesc(ErrOpFetchFailed, causeDesc(cause))
	if !IsRetryableErr(cause) {
		return nonRetriable(err)
	}
	return err
}

func WrapErrOpProfileFailed(userID string, cause error) error {
	err := wrapFieldsWithDesc(ErrOpProfileFailed, causeDesc(cause), value("user", userID))
	if !IsRetryableErr(cause) {
		return nonRetriable(err)
	}
	return err
}

// Channel 相关错误封装。
func WrapErrChannelCommandClosed(msg ...string) error {
	err := error(ErrChannelCommandClosed)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrChannelEventClosed(msg ...string) error {
	err := error(ErrChannelEventClosed)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// 参数相关错误封装。
func WrapErrParameterInvalid[T any](expected, actual T, msg ...string) error {
	err := wrapFields(ErrParameterInvalid,
		value("expected", expected),
		value("actual", actual),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

func WrapErrParameterInvalidMsg(fmt string, args ...any) error {
	return errors.Wrapf(ErrParameterInvalid, fmt, args...)
}

func WrapErrParameterMissing[T any](param T, msg ...string) error {
	err := wrapFields(ErrParameterMissing,
		value("missing_param", param),
	)
	if len(msg) > 0 {
		err = errors.Wrap(err, strings.Join(msg, "->"))
	}
	return err
}

// 权限相关错误封装。
func WrapErrPrivilegeNotAuthenticated(fmt string, args ...any) error {
	return errors.Wrapf(ErrPrivilegeNotAuthenticated, fmt, args...)
}

func WrapErrPrivilegeNotPermitted(fmt string, args ...any) error {
	return errors.Wrapf(ErrPrivilegeNotPermitted, fmt, args...)
}

func wrapFields(err festError, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.detail = err.msg
	return err
}

func wrapFieldsWithDesc(err festError, desc string, fields ...errorField) error {
	for i := range fields {
		err.msg += fmt.Sprintf("[%s]", fields[i].String())
	}
	err.msg += ": " + desc
	err.detail = err.msg
	return err
}

// nonRetriable 清除可重试标记，用于根因不可重试的场景。
func nonRetriable(err error) error {
	if merr, ok := err.(festError); ok {
		merr.retriable = false
		return merr
	}
	return err
}

func causeDesc(cause error) string {
	if cause == nil {
		return "unknown"
	}
	return cause.Error()
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
