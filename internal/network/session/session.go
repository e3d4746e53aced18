package session

import (
	"strconv"

	"go.uber.org/atomic"
	"golang.org/x/time/rate"
)

// ID 为会话标识，由管理器从 0 开始单调递增分配，进程内不复用。
type ID uint64

// Identity 表示会话的身份，连接时确定后不再变化。
type Identity interface {
	// String 返回适合写入日志的身份描述，不包含任何凭据。
	String() string
	identity()
}

// UserIdentity 为使用用户名登录的身份。
type UserIdentity struct {
	Username string
}

// GuestIdentity 为匿名访客身份。
type GuestIdentity struct{}

func (i UserIdentity) String() string { return i.Username }
func (GuestIdentity) String() string  { return "guest" }

func (UserIdentity) identity()  {}
func (GuestIdentity) identity() {}

// Session 为单个账号的会话状态。
//
// Session 由注册表独占持有，并以指针形式共享给它的同步任务与会话命令处理器。
// ServerAddress 与 Identity 在创建后不可变；显示名、用户 ID 与协议句柄
// 在认证完成后由同步任务写入，使用原子变量保证读取方无需加锁。
type Session struct {
	id            ID
	serverAddress string
	identity      Identity

	displayName atomic.String
	userID      atomic.String
	conn        atomic.Pointer[connHolder]

	// limiter 限制该会话主动发送消息的速率。
	limiter *rate.Limiter
}

// connHolder 包装 Conn 接口，便于使用 atomic.Pointer 存储。
type connHolder struct {
	conn Conn
}

func newSession(id ID, serverAddress string, identity Identity, limiter *rate.Limiter) *Session {
	return &Session{
		id:            id,
		serverAddress: serverAddress,
		identity:      identity,
		limiter:       limiter,
	}
}

func (s *Session) ID() ID {
	return s.id
}

func (s *Session) ServerAddress() string {
	return s.serverAddress
}

func (s *Session) Identity() Identity {
	return s.identity
}

// DisplayName 返回显示名，尚未获取时返回空字符串。
func (s *Session) DisplayName() string {
	return s.displayName.Load()
}

// UserID 返回服务器分配的用户标识，认证前为空。
func (s *Session) UserID() string {
	return s.userID.Load()
}

// Conn 返回已认证的协议句柄，认证完成前返回 false。
func (s *Session) Conn() (Conn, bool) {
	h := s.conn.Load()
	if h == nil {
		return nil, false
	}
	return h.conn, true
}

func (s *Session) setConn(conn Conn) {
	s.userID.Store(conn.UserID())
	s.conn.Store(&connHolder{conn: conn})
}

func (s *Session) setDisplayName(name string) {
	s.displayName.Store(name)
}

// Info 为会话的只读快照。
type Info struct {
	ID            ID
	ServerAddress string
	Identity      string
	UserID        string
	DisplayName   string
	Ready         bool
}

// Snapshot 返回会话当前状态的快照。
func (s *Session) Snapshot() Info {
	_, ready := s.Conn()
	return Info{
		ID:            s.id,
		ServerAddress: s.serverAddress,
		Identity:      s.identity.String(),
		UserID:        s.UserID(),
		DisplayName:   s.DisplayName(),
		Ready:         ready,
	}
}

func formatID(id ID) string {
	return strconv.FormatUint(uint64(id), 10)
}
