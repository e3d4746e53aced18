package connector

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/lk2023060901/fest-go/internal/json"
	"github.com/lk2023060901/fest-go/internal/network/session"
	"github.com/lk2023060901/fest-go/internal/sdk/matrix"
	"github.com/lk2023060901/fest-go/pkg/log"
)

const defaultSyncTimeout = 30 * time.Second

// Config 描述同步行为。
type Config struct {
	// SyncTimeout 为服务端长轮询的等待时长，首次同步不等待。
	SyncTimeout time.Duration `mapstructure:"sync-timeout"`
	// Filter 为 sync 使用的过滤器 ID 或内联 JSON，可为空。
	Filter string `mapstructure:"filter"`
}

func (c *Config) fillDefaults() {
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = defaultSyncTimeout
	}
}

// MatrixConnector 将 Matrix 客户端适配为会话核心使用的 session.Connector。
//
// 每次认证都会创建独立的 matrix.Client，不同会话之间不共享任何状态。
type MatrixConnector struct {
	cfg    Config
	opts   []matrix.Option
	logger *log.MLogger
}

var _ session.Connector = (*MatrixConnector)(nil)

// New 创建一个 MatrixConnector，opts 会透传给每个 matrix.Client。
func New(cfg Config, opts ...matrix.Option) *MatrixConnector {
	cfg.fillDefaults()
	return &MatrixConnector{
		cfg:    cfg,
		opts:   opts,
		logger: log.With(log.FieldComponent("matrix-connector")),
	}
}

// Login 使用用户名与密码登录。
func (c *MatrixConnector) Login(ctx context.Context, serverAddress, username, password string) (session.Conn, error) {
	client, err := matrix.NewClient(serverAddress, c.opts...)
	if err != nil {
		return nil, err
	}
	ms, err := client.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	return c.newConn(ms), nil
}

// RegisterGuest 注册一个访客账号。
func (c *MatrixConnector) RegisterGuest(ctx context.Context, serverAddress string) (session.Conn, error) {
	client, err := matrix.NewClient(serverAddress, c.opts...)
	if err != nil {
		return nil, err
	}
	ms, err := client.RegisterGuest(ctx)
	if err != nil {
		return nil, err
	}
	return c.newConn(ms), nil
}

func (c *MatrixConnector) newConn(ms *matrix.Session) *conn {
	return &conn{
		ms:      ms,
		cfg:     c.cfg,
		logger:  c.logger.With(zap.String("userID", ms.UserID())),
		members: make(map[string]map[string]string),
	}
}

// conn 为 session.Conn 的 Matrix 实现。
type conn struct {
	ms     *matrix.Session
	cfg    Config
	logger *log.MLogger

	// members 缓存房间成员的显示名：roomID -> userID -> displayname。
	mu      sync.Mutex
	members map[string]map[string]string
}

var _ session.Conn = (*conn)(nil)

func (c *conn) UserID() string {
	return c.ms.UserID()
}

// Sync 执行一次同步，并将响应展开为按房间 ID 排序、房间内按时间线顺序排列的事件。
func (c *conn) Sync(ctx context.Context, cursor *string) ([]session.RemoteEvent, string, error) {
	opts := matrix.SyncOptions{Filter: c.cfg.Filter}
	if cursor != nil {
		opts.Since = *cursor
		opts.Timeout = c.cfg.SyncTimeout
	}

	resp, err := c.ms.Sync(ctx, opts)
	if err != nil {
		return nil, "", err
	}
	return c.flatten(resp), resp.NextBatch, nil
}

func (c *conn) flatten(resp *matrix.SyncResponse) []session.RemoteEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	var events []session.RemoteEvent
	roomIDs := lo.Keys(resp.Rooms.Join)
	slices.Sort(roomIDs)
	for _, roomID := range roomIDs {
		room := resp.Rooms.Join[roomID]
		for i := range room.State.Events {
			ev := &room.State.Events[i]
			if ev.Type == matrix.EventTypeRoomMember {
				c.applyMember(roomID, ev)
			}
		}
		for i := range room.Timeline.Events {
			if re := c.convert(roomID, &room.Timeline.Events[i]); re != nil {
				events = append(events, re)
			}
		}
	}

	for i := range resp.Presence.Events {
		ev := &resp.Presence.Events[i]
		if ev.Type != matrix.EventTypePresence {
			continue
		}
		var content matrix.PresenceContent
		if !c.decode(ev, &content) {
			continue
		}
		events = append(events, session.PresenceUpdate{
			UserID:    ev.Sender,
			Presence:  content.Presence,
			StatusMsg: content.StatusMsg,
		})
	}
	return events
}

// convert 转换时间线事件，不关心的事件类型返回 nil。
func (c *conn) convert(roomID string, ev *matrix.Event) session.RemoteEvent {
	switch ev.Type {
	case matrix.EventTypeRoomMessage:
		var content matrix.MessageContent
		if !c.decode(ev, &content) {
			return nil
		}
		return session.RoomMessage{
			RoomID:     roomID,
			EventID:    ev.EventID,
			Sender:     ev.Sender,
			SenderName: c.members[roomID][ev.Sender],
			MsgType:    content.MsgType,
			Body:       content.Body,
			Timestamp:  time.UnixMilli(ev.OriginServerTS),
		}
	case matrix.EventTypeRoomMember:
		content, ok := c.applyMember(roomID, ev)
		if !ok {
			return nil
		}
		return session.MembershipChange{
			RoomID:      roomID,
			UserID:      *ev.StateKey,
			Membership:  content.Membership,
			DisplayName: content.DisplayName,
		}
	default:
		return nil
	}
}

// applyMember 根据成员事件更新显示名缓存。
func (c *conn) applyMember(roomID string, ev *matrix.Event) (matrix.MemberContent, bool) {
	var content matrix.MemberContent
	if ev.StateKey == nil || !c.decode(ev, &content) {
		return content, false
	}
	room, ok := c.members[roomID]
	if !ok {
		room = make(map[string]string)
		c.members[roomID] = room
	}
	switch content.Membership {
	case "join", "invite":
		if content.DisplayName != "" {
			room[*ev.StateKey] = content.DisplayName
		} else {
			delete(room, *ev.StateKey)
		}
	default:
		delete(room, *ev.StateKey)
	}
	return content, true
}

// decode 解析事件内容，格式错误的事件被跳过。
func (c *conn) decode(ev *matrix.Event, out any) bool {
	if err := json.Unmarshal(ev.Content, out); err != nil {
		c.logger.RatedWarn(10, "skip malformed event",
			zap.String("type", ev.Type),
			zap.String("eventID", ev.EventID),
			zap.Error(err))
		return false
	}
	return true
}

func (c *conn) SendMessage(ctx context.Context, msg session.OutgoingMessage) (string, error) {
	if msg.TxnID == "" {
		msg.TxnID = matrix.NewTxnID()
	}
	return c.ms.SendTextWithTxn(ctx, msg.RoomID, msg.Content, msg.TxnID)
}

func (c *conn) FetchDirectory(ctx context.Context) (session.Directory, error) {
	resp, err := c.ms.PublicRooms(ctx)
	if err != nil {
		return session.Directory{}, err
	}
	rooms := lo.Map(resp.Chunk, func(r matrix.PublicRoom, _ int) session.RoomSummary {
		return session.RoomSummary{
			RoomID:  r.RoomID,
			Name:    r.Name,
			Topic:   r.Topic,
			Alias:   r.CanonicalAlias,
			Members: r.NumJoinedMembers,
		}
	})
	return session.Directory{Rooms: rooms}, nil
}

func (c *conn) DisplayName(ctx context.Context) (string, error) {
	return c.ms.DisplayName(ctx, c.ms.UserID())
}
