package session

import (
	"github.com/lk2023060901/fest-go/internal/network"
)

// FrontendEvent 为管理核心发往前端的事件。
//
// 这是一个封闭的和类型。前端只能通过 Outbound 的轮询接口消费这些事件。
type FrontendEvent interface {
	// Session 返回事件所属的会话。
	Session() ID
	// Name 返回事件名称，用于日志与监控标签。
	Name() string
	frontendEvent()
}

// DisplayTextMessage 要求前端展示一条文本消息。
type DisplayTextMessage struct {
	SessionID  ID
	RoomID     string
	AuthorName string
	Content    string
}

// SessionConnected 表示会话已完成认证。
type SessionConnected struct {
	SessionID   ID
	UserID      string
	DisplayName string
}

// SessionFailed 表示会话的同步任务因错误终止。
//
// 会话仍保留在注册表中，直到收到显式的 Disconnect。
type SessionFailed struct {
	SessionID ID
	Stage     network.Stage
	Err       error
}

// DirectoryListing 为 FetchDirectory 的结果。
type DirectoryListing struct {
	SessionID ID
	Rooms     []RoomSummary
}

// MembershipChanged 表示房间成员状态变化。
type MembershipChanged struct {
	SessionID   ID
	RoomID      string
	UserID      string
	Membership  string
	DisplayName string
}

// PresenceChanged 表示用户在线状态变化。
type PresenceChanged struct {
	SessionID ID
	UserID    string
	Presence  string
	StatusMsg string
}

// CommandFailed 表示会话命令执行失败。
type CommandFailed struct {
	SessionID ID
	Op        string
	Stage     network.Stage
	Err       error
}

// MessageSent 表示消息已被服务器接受。
type MessageSent struct {
	SessionID ID
	RoomID    string
	EventID   string
	TxnID     string
}

func (e DisplayTextMessage) Session() ID { return e.SessionID }
func (e SessionConnected) Session() ID   { return e.SessionID }
func (e SessionFailed) Session() ID      { return e.SessionID }
func (e DirectoryListing) Session() ID   { return e.SessionID }
func (e MembershipChanged) Session() ID  { return e.SessionID }
func (e PresenceChanged) Session() ID    { return e.SessionID }
func (e CommandFailed) Session() ID      { return e.SessionID }
func (e MessageSent) Session() ID        { return e.SessionID }

func (DisplayTextMessage) Name() string { return "display_text_message" }
func (SessionConnected) Name() string   { return "session_connected" }
func (SessionFailed) Name() string      { return "session_failed" }
func (DirectoryListing) Name() string   { return "directory_listing" }
func (MembershipChanged) Name() string  { return "membership_changed" }
func (PresenceChanged) Name() string    { return "presence_changed" }
func (CommandFailed) Name() string      { return "command_failed" }
func (MessageSent) Name() string        { return "message_sent" }

func (DisplayTextMessage) frontendEvent() {}
func (SessionConnected) frontendEvent()   {}
func (SessionFailed) frontendEvent()      {}
func (DirectoryListing) frontendEvent()   {}
func (MembershipChanged) frontendEvent()  {}
func (PresenceChanged) frontendEvent()    {}
func (CommandFailed) frontendEvent()      {}
func (MessageSent) frontendEvent()        {}

// translate 将一个远端事件转换为零个或多个前端事件，顺序与输入一致。
func translate(id ID, ev RemoteEvent) []FrontendEvent {
	switch ev := ev.(type) {
	case RoomMessage:
		if ev.Body == "" {
			return nil
		}
		author := ev.SenderName
		if author == "" {
			author = ev.Sender
		}
		return []FrontendEvent{DisplayTextMessage{
			SessionID:  id,
			RoomID:     ev.RoomID,
			AuthorName: author,
			Content:    ev.Body,
		}}
	case MembershipChange:
		return []FrontendEvent{MembershipChanged{
			SessionID:   id,
			RoomID:      ev.RoomID,
			UserID:      ev.UserID,
			Membership:  ev.Membership,
			DisplayName: ev.DisplayName,
		}}
	case PresenceUpdate:
		return []FrontendEvent{PresenceChanged{
			SessionID: id,
			UserID:    ev.UserID,
			Presence:  ev.Presence,
			StatusMsg: ev.StatusMsg,
		}}
	default:
		return nil
	}
}
