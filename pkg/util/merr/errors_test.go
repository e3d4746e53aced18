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
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
)

type ErrSuite struct {
	suite.Suite
}

func (s *ErrSuite) TestCode() {
	err := WrapErrSessionNotFound(1)
	errors.Wrap(err, "failed to get session")
	s.ErrorIs(err, ErrSessionNotFound)
	s.Equal(Code(ErrSessionNotFound), Code(err))
	s.Equal(TimeoutCode, Code(context.DeadlineExceeded))
	s.Equal(CanceledCode, Code(context.Canceled))
	s.Equal(errUnexpected.errCode, Code(errUnexpected))
	s.Equal(int32(0), Code(nil))

	sameCodeErr := newFestError("new error", ErrSessionNotFound.errCode, false)
	s.True(sameCodeErr.Is(ErrSessionNotFound))
}

func (s *ErrSuite) TestWrap() {
	// Service 相关错误。
	s.ErrorIs(WrapErrServiceUnavailable("bad gateway"), ErrServiceUnavailable)
	s.ErrorIs(WrapErrTooManyRequests(100, "pool is full"), ErrServiceTooManyRequests)
	s.ErrorIs(WrapErrServiceInternal("never throw out"), ErrServiceInternal)
	s.ErrorIs(WrapErrServiceRateLimit(1.5), ErrServiceRateLimit)
	s.ErrorIs(WrapErrServiceUnsupported("https://example.org", []string{"r0.0.1"}), ErrServiceUnsupported)

	// Session 相关错误。
	s.ErrorIs(WrapErrSessionNotFound(7, "disconnect"), ErrSessionNotFound)
	s.ErrorIs(WrapErrSessionNotReady(7), ErrSessionNotReady)
	s.ErrorIs(WrapErrSessionAuthFailed("https://example.org", "alice", errors.New("forbidden")), ErrSessionAuthFailed)
	s.ErrorIs(WrapErrSessionSyncFailed(7, ErrServiceUnavailable), ErrSessionSyncFailed)

	// 会话操作相关错误。
	s.ErrorIs(WrapErrOpSendFailed("!room:example.org", errors.New("boom")), ErrOpSendFailed)
	s.ErrorIs(WrapErrOpFetchFailed(errors.New("boom")), ErrOpFetchFailed)
	s.ErrorIs(WrapErrOpProfileFailed("@alice:example.org", nil), ErrOpProfileFailed)

	// Channel 相关错误。
	s.ErrorIs(WrapErrChannelCommandClosed("receiver"), ErrChannelCommandClosed)
	s.ErrorIs(WrapErrChannelEventClosed(), ErrChannelEventClosed)

	// 参数相关错误。
	s.ErrorIs(WrapErrParameterInvalid("login", "", "unknown method"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterInvalidMsg("bad %s", "room"), ErrParameterInvalid)
	s.ErrorIs(WrapErrParameterMissing("server", "no server address"), ErrParameterMissing)

	// 权限相关错误。
	s.ErrorIs(WrapErrPrivilegeNotAuthenticated("token %s", "expired"), ErrPrivilegeNotAuthenticated)
	s.ErrorIs(WrapErrPrivilegeNotPermitted("room %s", "!a:b"), ErrPrivilegeNotPermitted)
}

func (s *ErrSuite) TestRetriable() {
	s.True(IsRetryableErr(ErrServiceUnavailable))
	s.True(IsRetryableErr(errors.Wrap(ErrServiceRateLimit, "wrapped")))
	s.False(IsRetryableErr(ErrSessionAuthFailed))
	s.False(IsRetryableErr(errors.New("plain")))

	// 根因可重试时保留可重试标记，否则清除。
	s.True(IsRetryableErr(WrapErrSessionSyncFailed(1, WrapErrServiceUnavailable("502"))))
	s.False(IsRetryableErr(WrapErrSessionSyncFailed(1, ErrPrivilegeNotAuthenticated)))
	s.False(IsRetryableErr(WrapErrOpSendFailed("!r:x", errors.New("plain"))))
}

func (s *ErrSuite) TestCanceledOrTimeout() {
	s.True(IsCanceledOrTimeout(context.Canceled))
	s.True(IsCanceledOrTimeout(errors.Wrap(context.DeadlineExceeded, "sync")))
	s.False(IsCanceledOrTimeout(ErrSessionNotFound))
}

func (s *ErrSuite) TestErrorType() {
	s.Equal(SystemError, GetErrorType(ErrParameterInvalid))
	s.Equal(InputError, GetErrorType(WrapErrAsInputError(ErrParameterInvalid)))
	s.Equal(InputError, GetErrorType(WrapErrAsInputErrorWhen(ErrParameterMissing, ErrParameterMissing)))
	s.Equal(SystemError, GetErrorType(WrapErrAsInputErrorWhen(ErrSessionNotFound, ErrParameterMissing)))
	s.Equal("input_error", InputError.String())
}

func (s *ErrSuite) TestCombine() {
	var (
		errFirst  = errors.New("first")
		errSecond = errors.New("second")
		errThird  = errors.New("third")
	)

	err := Combine(errFirst, errSecond)
	s.True(errors.Is(err, errFirst))
	s.True(errors.Is(err, errSecond))
	s.False(errors.Is(err, errThird))

	s.Equal("first: second", err.Error())
}

func (s *ErrSuite) TestCombineWithNil() {
	err := errors.New("non-nil")

	err = Combine(nil, err)
	s.NotNil(err)
}

func (s *ErrSuite) TestCombineOnlyNil() {
	err := Combine(nil, nil)
	s.Nil(err)
}

func (s *ErrSuite) TestCombineCode() {
	err := Combine(WrapErrSessionNotReady(10), WrapErrSessionNotFound(1))
	s.Equal(Code(ErrSessionNotFound), Code(err))
}

type testCodeErr struct{ code string }

func (e *testCodeErr) Error() string { return e.code }

func (s *ErrSuite) TestCombineAs() {
	err := Combine(&testCodeErr{code: "M_FORBIDDEN"}, WrapErrPrivilegeNotPermitted("room"))

	var target *testCodeErr
	s.True(errors.As(err, &target))
	s.Equal("M_FORBIDDEN", target.code)
	s.ErrorIs(err, ErrPrivilegeNotPermitted)
	s.Equal(Code(ErrPrivilegeNotPermitted), Code(err))
}

func TestErrors(t *testing.T) {
	suite.Run(t, new(ErrSuite))
}
