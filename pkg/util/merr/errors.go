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

type ErrorType int32

const (
	SystemError ErrorType = 0
	InputError  ErrorType = 1
)

var ErrorTypeName = map[ErrorType]string{
	SystemError: "system_error",
	InputError:  "input_error",
}

func (err ErrorType) String() string {
	return ErrorTypeName[err]
}

// Define leaf errors here,
// WARN: take care to add new error,
// check whether you can use the errors below before adding a new one.
// Name: Err + related prefix + error name
var (
	// Service related
	ErrServiceUnavailable     = newFestError("service unavailable", 2, true)
	ErrServiceTooManyRequests = newFestError("too many concurrent requests, queue is full", 4, true)
	ErrServiceInternal        = newFestError("service internal error", 5, false)
	ErrServiceRateLimit       = newFestError("rate limit exceeded", 8, true)
	ErrServiceUnsupported     = newFestError("server version unsupported", 13, false)

	// Session related
	ErrSessionNotFound   = newFestError("session not found", 100, false)
	ErrSessionNotReady   = newFestError("session not ready", 101, true)
	ErrSessionAuthFailed = newFestError("session authentication failed", 102, false)
	ErrSessionSyncFailed = newFestError("session sync failed", 103, true)

	// Session operation related
	ErrOpSendFailed    = newFestError("send message failed", 200, true)
	ErrOpFetchFailed   = newFestError("fetch directory failed", 201, true)
	ErrOpProfileFailed = newFestError("fetch profile failed", 202, true)

	// Channel related
	ErrChannelCommandClosed = newFestError("command channel closed", 500, false)
	ErrChannelEventClosed   = newFestError("frontend event channel closed", 501, false)
	ErrManagerStopped       = newFestError("session manager stopped", 502, false)

	// Parameter related
	ErrParameterInvalid = newFestError("invalid parameter", 1100, false)
	ErrParameterMissing = newFestError("missing parameter", 1101, false)

	// Privilege related
	// this operation is denied because the user not authorized, user need to login in first
	ErrPrivilegeNotAuthenticated = newFestError("not authenticated", 1400, false)
	// this operation is denied because the user has no permission to do this
	ErrPrivilegeNotPermitted = newFestError("privilege not permitted", 1401, false)

	// Do NOT export this,
	// never allow programmer using this, keep only for converting unknown error to festError
	errUnexpected = newFestError("unexpected error", (1<<16)-1, false)

	// General
	ErrOperationNotSupported = newFestError("unsupported operation", 3000, false)
)

type errorOption func(*festError)

func WithDetail(detail string) errorOption {
	return func(err *festError) {
		err.detail = detail
	}
}

func WithErrorType(etype ErrorType) errorOption {
	return func(err *festError) {
		err.errType = etype
	}
}

type festError struct {
	msg       string
	detail    string
	retriable bool
	errCode   int32
	errType   ErrorType
}

func newFestError(msg string, code int32, retriable bool, options ...errorOption) festError {
	err := festError{
		msg:       msg,
		detail:    msg,
		retriable: retriable,
		errCode:   code,
	}

	for _, option := range options {
		option(&err)
	}
	return err
}

func (e festError) code() int32 {
	return e.errCode
}

func (e festError) Error() string {
	return e.msg
}

func (e festError) Detail() string {
	return e.detail
}

func (e festError) Is(err error) bool {
	cause := errors.Cause(err)
	if cause, ok := cause.(festError); ok {
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
	// To make merr work for multi errors,
	// we need cause of multi errors, which defined as the last error
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

// As 依次在每个子错误上尝试 errors.As。
func (e multiErrors) As(target any) bool {
	for _, item := range e.errs {
		if errors.As(item, target) {
			return true
		}
	}
	return false
}

func Combine(errs ...error) error {
	errs = lo.Filter(errs, func(err error, _ int) bool { return err != nil })
	if len(errs) == 0 {
		return nil
	}
	return multiErrors{
		errs,
	}
}
