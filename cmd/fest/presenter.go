package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/lk2023060901/fest-go/internal/network/session"
)

// terminalPresenter 将前端事件逐行写到终端。
type terminalPresenter struct {
	w io.Writer
}

func (p *terminalPresenter) Present(ev session.FrontendEvent) {
	switch ev := ev.(type) {
	case session.DisplayTextMessage:
		fmt.Fprintf(p.w, "[%d] %s <%s> %s\n", ev.SessionID, ev.RoomID, ev.AuthorName, ev.Content)
	case session.SessionConnected:
		fmt.Fprintf(p.w, "[%d] connected as %s (%s)\n", ev.SessionID, ev.DisplayName, ev.UserID)
	case session.SessionFailed:
		fmt.Fprintf(p.w, "[%d] session stopped during %s: %v\n", ev.SessionID, ev.Stage, ev.Err)
	case session.DirectoryListing:
		fmt.Fprintf(p.w, "[%d] %d public rooms\n", ev.SessionID, len(ev.Rooms))
		for _, room := range ev.Rooms {
			name := room.Name
			if name == "" {
				name = room.Alias
			}
			fmt.Fprintf(p.w, "    %s  %s  (%d members)\n", room.RoomID, name, room.Members)
		}
	case session.MembershipChanged:
		fmt.Fprintf(p.w, "[%d] %s %s %s\n", ev.SessionID, ev.RoomID, ev.UserID, ev.Membership)
	case session.PresenceChanged:
		fmt.Fprintf(p.w, "[%d] %s is %s\n", ev.SessionID, ev.UserID, ev.Presence)
	case session.CommandFailed:
		fmt.Fprintf(p.w, "[%d] %s failed: %v\n", ev.SessionID, ev.Op, ev.Err)
	case session.MessageSent:
		fmt.Fprintf(p.w, "[%d] sent %s to %s\n", ev.SessionID, ev.EventID, ev.RoomID)
	}
}

func (p *terminalPresenter) Crash(err error) {
	fmt.Fprintf(p.w, "background thread crashed: %v\n", err)
}

func (p *terminalPresenter) Sessions(infos []session.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(p.w, "no sessions")
		return
	}
	for _, info := range infos {
		state := "connecting"
		if info.Ready {
			state = "ready"
		}
		fmt.Fprintf(p.w, "%d  %s  %s  %s\n", info.ID, info.ServerAddress,
			strings.TrimSpace(info.Identity+" "+info.DisplayName), state)
	}
}
