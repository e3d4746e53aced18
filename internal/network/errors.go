package network

import (
	"github.com/cockroachdb/errors"
)

// Stage 表示会话链路中的处理阶段。
//
// 主要用于在事件与日志中标记错误发生的位置，便于监控与排查。
type Stage string

const (
	StageAuth      Stage = "auth"            // 登录或访客注册
	StageProfile   Stage = "profile"         // 拉取显示名等资料
	StageSync      Stage = "sync"            // 长轮询同步
	StageSend      Stage = "send"            // 发送消息
	StageDirectory Stage = "fetch_directory" // 拉取公开房间目录
	StageDispatch  Stage = "dispatch"        // 事件投递到前端
)

// 统一的错误码常量。
//
// 注意：这些是用于日志/监控的稳定字符串。
const (
	ErrCodeAuthFailed      = "network:auth_failed"
	ErrCodeProfileFailed   = "network:profile_failed"
	ErrCodeSyncFailed      = "network:sync_failed"
	ErrCodeSendFailed      = "network:send_failed"
	ErrCodeDirectoryFailed = "network:fetch_directory_failed"
	ErrCodeDispatchFailed  = "network:dispatch_failed"
)

// Code 返回阶段对应的错误码。
func (s Stage) Code() string {
	switch s {
	case StageAuth:
		return ErrCodeAuthFailed
	case StageProfile:
		return ErrCodeProfileFailed
	case StageSync:
		return ErrCodeSyncFailed
	case StageSend:
		return ErrCodeSendFailed
	case StageDirectory:
		return ErrCodeDirectoryFailed
	case StageDispatch:
		return ErrCodeDispatchFailed
	default:
		return "network:" + string(s) + "_failed"
	}
}

// StageError 为携带处理阶段的错误。
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return e.Stage.Code() + ": " + e.Err.Error()
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// WrapStage 为错误标注处理阶段，err 为 nil 时返回 nil。
func WrapStage(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf 返回错误链上最近一次标注的处理阶段。
func StageOf(err error) (Stage, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}
