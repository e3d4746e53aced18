package session

import (
	"context"
	"time"
)

// Connector 为协议客户端的认证入口。
//
// 实现方负责与远端服务器完成登录或访客注册，返回已认证的连接句柄。
// 核心只关心调用成功与否以及返回的载荷，不感知任何传输细节。
type Connector interface {
	Login(ctx context.Context, serverAddress, username, password string) (Conn, error)
	RegisterGuest(ctx context.Context, serverAddress string) (Conn, error)
}

// Conn 为已认证会话的协议客户端句柄。
//
// 所有方法都可能阻塞在网络上，必须遵循 ctx 的取消。
// 同一个 Conn 会被同步任务与会话命令处理器并发使用，实现方需保证并发安全。
type Conn interface {
	// UserID 返回服务器分配的用户标识。
	UserID() string

	// Sync 从 cursor 位置开始长轮询新事件，cursor 为 nil 表示从头开始。
	// 返回的事件按到达顺序排列，next 为下一次同步使用的游标。
	Sync(ctx context.Context, cursor *string) (events []RemoteEvent, next string, err error)

	// SendMessage 发送一条文本消息，返回服务器分配的事件 ID。
	SendMessage(ctx context.Context, msg OutgoingMessage) (string, error)

	// FetchDirectory 拉取公开房间目录。
	FetchDirectory(ctx context.Context) (Directory, error)

	// DisplayName 返回当前用户的显示名，未设置时返回空字符串。
	DisplayName(ctx context.Context) (string, error)
}

// OutgoingMessage 为待发送的文本消息。
//
// TxnID 用于服务器端去重，同一条消息的重试必须复用同一个 TxnID。
type OutgoingMessage struct {
	RoomID  string
	Content string
	TxnID   string
}

// RemoteEvent 为协议客户端同步返回的远端事件。
//
// 这是一个封闭的和类型，仅包含本包定义的变体。
type RemoteEvent interface {
	remoteEvent()
}

// RoomMessage 为房间内的一条消息。
type RoomMessage struct {
	RoomID     string
	EventID    string
	Sender     string
	SenderName string
	MsgType    string
	Body       string
	Timestamp  time.Time
}

// MembershipChange 为房间成员状态变更。
type MembershipChange struct {
	RoomID      string
	UserID      string
	Membership  string
	DisplayName string
}

// PresenceUpdate 为用户在线状态变更。
type PresenceUpdate struct {
	UserID    string
	Presence  string
	StatusMsg string
}

func (RoomMessage) remoteEvent()      {}
func (MembershipChange) remoteEvent() {}
func (PresenceUpdate) remoteEvent()   {}

// Directory 为公开房间目录。
type Directory struct {
	Rooms []RoomSummary
}

// RoomSummary 为目录中的一个房间。
type RoomSummary struct {
	RoomID  string
	Name    string
	Topic   string
	Alias   string
	Members int
}
