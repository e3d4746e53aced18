package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranslate(t *testing.T) {
	events := translate(3, RoomMessage{RoomID: "!r:x", Sender: "@bob:x", SenderName: "Bob", Body: "hi"})
	assert.Equal(t, []FrontendEvent{DisplayTextMessage{SessionID: 3, RoomID: "!r:x", AuthorName: "Bob", Content: "hi"}}, events)

	events = translate(3, RoomMessage{RoomID: "!r:x", Sender: "@bob:x", Body: "hi"})
	assert.Equal(t, "@bob:x", events[0].(DisplayTextMessage).AuthorName)

	assert.Empty(t, translate(3, RoomMessage{RoomID: "!r:x", Sender: "@bob:x"}))

	events = translate(1, MembershipChange{RoomID: "!r:x", UserID: "@c:x", Membership: "join", DisplayName: "C"})
	assert.Equal(t, []FrontendEvent{MembershipChanged{SessionID: 1, RoomID: "!r:x", UserID: "@c:x", Membership: "join", DisplayName: "C"}}, events)

	events = translate(1, PresenceUpdate{UserID: "@c:x", Presence: "online"})
	assert.Equal(t, "presence_changed", events[0].Name())
	assert.Equal(t, ID(1), events[0].Session())

	assert.Nil(t, translate(1, nil))
}
