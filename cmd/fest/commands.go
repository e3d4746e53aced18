package main

import (
	"strconv"
	"strings"

	"github.com/lk2023060901/fest-go/internal/network/session"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

const usage = `commands:
  /login <server> <username> <password>   connect with a password
  /guest <server>                         connect as a guest
  /disconnect <id>                        drop a session
  /send <id> <room> <text...>             send a text message
  /dir <id>                               list public rooms
  /sessions                               list sessions
  /quit                                   stop the client`

// parseLine 将一行输入解析为命令，空行返回 nil。
func parseLine(line string) (session.Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil, nil
	}

	switch name, args := fields[0], fields[1:]; name {
	case "/login":
		if len(args) != 3 {
			return nil, merr.WrapErrParameterInvalidMsg("usage: /login <server> <username> <password>")
		}
		return session.Connect{
			ServerAddress: args[0],
			Method:        session.LoginMethod{Username: args[1], Password: args[2]},
		}, nil
	case "/guest":
		if len(args) != 1 {
			return nil, merr.WrapErrParameterInvalidMsg("usage: /guest <server>")
		}
		return session.Connect{ServerAddress: args[0], Method: session.GuestMethod{}}, nil
	case "/disconnect":
		id, err := parseID(args)
		if err != nil {
			return nil, err
		}
		return session.Disconnect{ID: id}, nil
	case "/dir":
		id, err := parseID(args)
		if err != nil {
			return nil, err
		}
		return session.SessionCommand{ID: id, Op: session.FetchDirectory{}}, nil
	case "/send":
		if len(args) < 3 {
			return nil, merr.WrapErrParameterInvalidMsg("usage: /send <id> <room> <text...>")
		}
		id, err := parseID(args[:1])
		if err != nil {
			return nil, err
		}
		// 保留正文中的原始空白。
		text := strings.TrimSpace(line)
		for _, f := range fields[:3] {
			text = strings.TrimSpace(strings.TrimPrefix(text, f))
		}
		return session.SessionCommand{
			ID: id,
			Op: session.SendTextMessage{RoomID: args[1], Content: text},
		}, nil
	case "/sessions":
		return session.ListSessions{}, nil
	case "/quit":
		return session.Quit{}, nil
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown command %q\n%s", name, usage)
	}
}

func parseID(args []string) (session.ID, error) {
	if len(args) != 1 {
		return 0, merr.WrapErrParameterMissing("session id")
	}
	id, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return 0, merr.WrapErrParameterInvalid("session id", args[0])
	}
	return session.ID(id), nil
}
