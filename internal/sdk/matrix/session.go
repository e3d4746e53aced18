package matrix

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

// Session 是已认证的 Matrix 会话，持有 access token。
//
// Session 可被多个协程并发使用。
type Session struct {
	client      *Client
	prefix      string
	userID      string
	deviceID    string
	accessToken string
	logger      *zlog.MLogger
}

// UserID 返回当前会话的完整用户 ID。
func (s *Session) UserID() string {
	return s.userID
}

// DeviceID 返回服务端分配的设备 ID。
func (s *Session) DeviceID() string {
	return s.deviceID
}

// SyncOptions 为单次 sync 请求的参数。
type SyncOptions struct {
	// Since 为上一次 sync 返回的 next_batch，为空表示首次同步。
	Since string
	// Timeout 为服务端长轮询等待时间，0 表示立即返回。
	Timeout time.Duration
	// Filter 为过滤器 ID 或内联 JSON。
	Filter string
}

// Sync 执行一次增量同步。
//
// 请求在服务端长轮询期间阻塞，ctx 取消时立即返回 ctx 错误。
func (s *Session) Sync(ctx context.Context, opts SyncOptions) (*SyncResponse, error) {
	query := url.Values{}
	if opts.Since != "" {
		query.Set("since", opts.Since)
	}
	if opts.Timeout > 0 {
		query.Set("timeout", strconv.FormatInt(opts.Timeout.Milliseconds(), 10))
	}
	if opts.Filter != "" {
		query.Set("filter", opts.Filter)
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.client.cfg.RequestTimeout+opts.Timeout)
	defer cancel()

	var resp SyncResponse
	if err := s.client.do(reqCtx, http.MethodGet, s.prefix+"/sync", query, s.accessToken, nil, &resp); err != nil {
		return nil, requestErr(ctx, err)
	}
	return &resp, nil
}

// SendText 向房间发送一条 m.text 消息，返回事件 ID。
//
// 每次调用生成新的事务 ID；调用方重试时应复用 SendTextWithTxn 以保证幂等。
func (s *Session) SendText(ctx context.Context, roomID, body string) (string, error) {
	return s.SendTextWithTxn(ctx, roomID, body, NewTxnID())
}

// SendTextWithTxn 使用指定事务 ID 发送 m.text 消息，同一事务 ID 的重复请求由服务端去重。
func (s *Session) SendTextWithTxn(ctx context.Context, roomID, body, txnID string) (string, error) {
	if roomID == "" {
		return "", merr.WrapErrParameterMissing("roomID")
	}
	path := s.prefix + "/rooms/" + url.PathEscape(roomID) + "/send/" + EventTypeRoomMessage + "/" + url.PathEscape(txnID)

	reqCtx, cancel := context.WithTimeout(ctx, s.client.cfg.RequestTimeout)
	defer cancel()

	var resp sendResponse
	content := MessageContent{MsgType: MsgTypeText, Body: body}
	if err := s.client.do(reqCtx, http.MethodPut, path, nil, s.accessToken, content, &resp); err != nil {
		return "", requestErr(ctx, err)
	}
	s.logger.Debug("message sent", zap.String("roomID", roomID), zap.String("eventID", resp.EventID))
	return resp.EventID, nil
}

// PublicRooms 查询服务端公开房间目录的第一页。
func (s *Session) PublicRooms(ctx context.Context) (*PublicRoomsResponse, error) {
	query := url.Values{"limit": []string{strconv.Itoa(s.client.cfg.DirectoryLimit)}}

	reqCtx, cancel := context.WithTimeout(ctx, s.client.cfg.RequestTimeout)
	defer cancel()

	var resp PublicRoomsResponse
	if err := s.client.do(reqCtx, http.MethodGet, s.prefix+"/publicRooms", query, s.accessToken, nil, &resp); err != nil {
		return nil, requestErr(ctx, err)
	}
	return &resp, nil
}

// DisplayName 查询用户的显示名，未设置时返回空字符串。
func (s *Session) DisplayName(ctx context.Context, userID string) (string, error) {
	path := s.prefix + "/profile/" + url.PathEscape(userID) + "/displayname"

	reqCtx, cancel := context.WithTimeout(ctx, s.client.cfg.RequestTimeout)
	defer cancel()

	var resp displayNameResponse
	if err := s.client.do(reqCtx, http.MethodGet, path, nil, s.accessToken, nil, &resp); err != nil {
		if IsMatrixError(err, ErrCodeNotFound) {
			return "", nil
		}
		return "", requestErr(ctx, err)
	}
	return resp.DisplayName, nil
}

// NewTxnID 生成一个新的事务 ID。
func NewTxnID() string {
	return "fest-" + uuid.NewString()
}

// requestErr 将单次请求自身的超时转换为可重试错误，parent 被取消时保留原始 ctx 错误。
func requestErr(parent context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return merr.WrapErrServiceUnavailable("request timeout")
	}
	return err
}
