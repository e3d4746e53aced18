package matrix

import (
	"github.com/lk2023060901/fest-go/internal/json"
)

// ServerVersionsResponse 对应 GET /_matrix/client/versions。
type ServerVersionsResponse struct {
	Versions         []string        `json:"versions"`
	UnstableFeatures map[string]bool `json:"unstable_features,omitempty"`
}

type userIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginRequest struct {
	Type                     string         `json:"type"`
	Identifier               userIdentifier `json:"identifier"`
	Password                 string         `json:"password"`
	InitialDeviceDisplayName string         `json:"initial_device_display_name,omitempty"`
}

type guestRegisterRequest struct {
	InitialDeviceDisplayName string `json:"initial_device_display_name,omitempty"`
}

// AuthResponse 为登录与注册接口的响应。
type AuthResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

// SyncResponse 为 GET /sync 的响应，仅保留客户端关心的字段。
type SyncResponse struct {
	NextBatch string        `json:"next_batch"`
	Presence  EventList     `json:"presence"`
	Rooms     RoomsResponse `json:"rooms"`
}

// EventList 为事件数组的通用包装。
type EventList struct {
	Events []Event `json:"events"`
}

// RoomsResponse 按成员状态分组的房间。
type RoomsResponse struct {
	Join   map[string]JoinedRoom `json:"join"`
	Invite map[string]struct{}   `json:"invite"`
	Leave  map[string]LeftRoom   `json:"leave"`
}

// JoinedRoom 为已加入房间的增量。
type JoinedRoom struct {
	State    EventList `json:"state"`
	Timeline Timeline  `json:"timeline"`
}

// LeftRoom 为已离开房间的增量。
type LeftRoom struct {
	Timeline Timeline `json:"timeline"`
}

// Timeline 为房间时间线片段。
type Timeline struct {
	Events    []Event `json:"events"`
	Limited   bool    `json:"limited"`
	PrevBatch string  `json:"prev_batch"`
}

// Event 为通用事件结构，Content 延迟解析。
type Event struct {
	EventID        string          `json:"event_id,omitempty"`
	Type           string          `json:"type"`
	Sender         string          `json:"sender"`
	OriginServerTS int64           `json:"origin_server_ts,omitempty"`
	StateKey       *string         `json:"state_key,omitempty"`
	RoomID         string          `json:"room_id,omitempty"`
	Content        json.RawMessage `json:"content"`
}

// 事件类型。
const (
	EventTypeRoomMessage = "m.room.message"
	EventTypeRoomMember  = "m.room.member"
	EventTypePresence    = "m.presence"

	MsgTypeText   = "m.text"
	MsgTypeNotice = "m.notice"
	MsgTypeEmote  = "m.emote"
)

// MessageContent 为 m.room.message 的内容。
type MessageContent struct {
	MsgType string `json:"msgtype"`
	Body    string `json:"body"`
}

// MemberContent 为 m.room.member 的内容。
type MemberContent struct {
	Membership  string `json:"membership"`
	DisplayName string `json:"displayname,omitempty"`
}

// PresenceContent 为 m.presence 的内容。
type PresenceContent struct {
	Presence        string `json:"presence"`
	LastActiveAgo   int64  `json:"last_active_ago,omitempty"`
	StatusMsg       string `json:"status_msg,omitempty"`
	CurrentlyActive bool   `json:"currently_active,omitempty"`
}

type sendResponse struct {
	EventID string `json:"event_id"`
}

// PublicRoom 为公开房间目录中的一项。
type PublicRoom struct {
	RoomID           string `json:"room_id"`
	Name             string `json:"name,omitempty"`
	Topic            string `json:"topic,omitempty"`
	CanonicalAlias   string `json:"canonical_alias,omitempty"`
	NumJoinedMembers int    `json:"num_joined_members"`
	WorldReadable    bool   `json:"world_readable"`
	GuestCanJoin     bool   `json:"guest_can_join"`
}

// PublicRoomsResponse 对应 GET /publicRooms。
type PublicRoomsResponse struct {
	Chunk                  []PublicRoom `json:"chunk"`
	NextBatch              string       `json:"next_batch,omitempty"`
	TotalRoomCountEstimate int          `json:"total_room_count_estimate,omitempty"`
}

type displayNameResponse struct {
	DisplayName string `json:"displayname"`
}
