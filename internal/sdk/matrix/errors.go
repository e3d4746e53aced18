package matrix

import (
	"fmt"
	"net/http"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

// 常见的 Matrix 错误码。
const (
	ErrCodeForbidden       = "M_FORBIDDEN"
	ErrCodeUnknownToken    = "M_UNKNOWN_TOKEN"
	ErrCodeMissingToken    = "M_MISSING_TOKEN"
	ErrCodeNotFound        = "M_NOT_FOUND"
	ErrCodeLimitExceeded   = "M_LIMIT_EXCEEDED"
	ErrCodeGuestAccess     = "M_GUEST_ACCESS_FORBIDDEN"
	ErrCodeUserInUse       = "M_USER_IN_USE"
	ErrCodeUnknown         = "M_UNKNOWN"
	ErrCodeUnrecognized    = "M_UNRECOGNIZED"
	ErrCodeBadJSON         = "M_BAD_JSON"
	ErrCodeNotJSON         = "M_NOT_JSON"
	ErrCodeInvalidParam    = "M_INVALID_PARAM"
	ErrCodeUserDeactivated = "M_USER_DEACTIVATED"
)

// MatrixError 表示服务端返回的标准错误响应。
//
// 所有 Matrix 错误响应都使用 {"errcode": ..., "error": ...} 结构。
type MatrixError struct {
	Code         string `json:"errcode"`
	Message      string `json:"error"`
	RetryAfterMS int64  `json:"retry_after_ms,omitempty"`
	StatusCode   int    `json:"-"`
}

func (e *MatrixError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("matrix: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsMatrixError 判断错误链中是否包含指定错误码的 MatrixError。
func IsMatrixError(err error, code string) bool {
	var me *MatrixError
	if !errors.As(err, &me) {
		return false
	}
	return me.Code == code
}

// classify 将 MatrixError 与 merr 错误码合并，便于上层按可重试性处理，
// 同时仍可通过 errors.As 取回原始 MatrixError。
func classify(me *MatrixError) error {
	var coded error
	switch {
	case me.StatusCode == http.StatusTooManyRequests || me.Code == ErrCodeLimitExceeded:
		coded = merr.WrapErrServiceRateLimit(float64(me.RetryAfterMS))
	case me.StatusCode >= http.StatusInternalServerError:
		coded = merr.WrapErrServiceUnavailable(me.Message)
	case me.StatusCode == http.StatusUnauthorized,
		me.Code == ErrCodeUnknownToken, me.Code == ErrCodeMissingToken:
		coded = merr.WrapErrPrivilegeNotAuthenticated("%s", me.Message)
	case me.StatusCode == http.StatusForbidden:
		coded = merr.WrapErrPrivilegeNotPermitted("%s", me.Message)
	default:
		coded = merr.WrapErrParameterInvalidMsg("%s: %s", me.Code, me.Message)
	}
	return merr.Combine(me, coded)
}
