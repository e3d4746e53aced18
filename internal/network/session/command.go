package session

// Command 为前端发往管理循环的命令。
//
// 这是一个封闭的和类型，管理循环通过穷举的 type switch 处理每一种变体。
type Command interface {
	// Name 返回命令名称，用于日志与监控标签。
	Name() string
	command()
}

// Method 为建立连接的方式。
type Method interface {
	identity() Identity
	method()
}

// LoginMethod 使用用户名与密码登录。
type LoginMethod struct {
	Username string
	Password string
}

// GuestMethod 以匿名访客身份注册。
type GuestMethod struct{}

func (m LoginMethod) identity() Identity { return UserIdentity{Username: m.Username} }
func (GuestMethod) identity() Identity   { return GuestIdentity{} }

func (LoginMethod) method() {}
func (GuestMethod) method() {}

// Connect 创建一个新的会话并启动其同步任务。
//
// 不对相同地址做去重，每个 Connect 都会创建一个独立的会话。
type Connect struct {
	ServerAddress string
	Method        Method
}

// Disconnect 移除会话并取消其同步任务。
type Disconnect struct {
	ID ID
}

// SessionCommand 在指定会话上执行一个操作。
type SessionCommand struct {
	ID ID
	Op Op
}

// Quit 退出管理循环，并取消所有仍在运行的同步任务。
type Quit struct{}

// ListSessions 请求当前会话列表的快照。
//
// Reply 由调用方创建，建议至少带 1 个缓冲，管理循环不会为其阻塞。
type ListSessions struct {
	Reply chan<- []Info
}

func (Connect) Name() string        { return "connect" }
func (Disconnect) Name() string     { return "disconnect" }
func (SessionCommand) Name() string { return "session_command" }
func (Quit) Name() string           { return "quit" }
func (ListSessions) Name() string   { return "list_sessions" }

func (Connect) command()        {}
func (Disconnect) command()     {}
func (SessionCommand) command() {}
func (Quit) command()           {}
func (ListSessions) command()   {}

// Op 为会话级操作。
type Op interface {
	Name() string
	op()
}

// FetchDirectory 拉取公开房间目录。
type FetchDirectory struct{}

// SendTextMessage 向房间发送一条文本消息。
type SendTextMessage struct {
	RoomID  string
	Content string
}

func (FetchDirectory) Name() string  { return "fetch_directory" }
func (SendTextMessage) Name() string { return "send_text_message" }

func (FetchDirectory) op()  {}
func (SendTextMessage) op() {}
