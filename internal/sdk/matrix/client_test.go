package matrix

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/fest-go/internal/json"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

const testToken = "syt_token"

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// newHomeserver 启动一个只实现客户端所需接口的假 homeserver。
func newHomeserver(t *testing.T, versions []string, extra func(mux *http.ServeMux)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/_matrix/client/versions", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ServerVersionsResponse{Versions: versions})
	})
	if extra != nil {
		extra(mux)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func authOK(w http.ResponseWriter, userID string) {
	writeJSON(w, http.StatusOK, AuthResponse{UserID: userID, AccessToken: testToken, DeviceID: "DEV"})
}

func requireToken(t *testing.T, r *http.Request) {
	assert.Equal(t, "Bearer "+testToken, r.Header.Get("Authorization"))
}

func TestChoosePrefix(t *testing.T) {
	p, err := choosePrefix("s", []string{"r0.5.0", "v1.1", "v1.11"})
	require.NoError(t, err)
	assert.Equal(t, prefixV3, p)

	p, err = choosePrefix("s", []string{"r0.0.1", "r0.6.1"})
	require.NoError(t, err)
	assert.Equal(t, prefixR0, p)

	_, err = choosePrefix("s", []string{"v1.0", "garbage"})
	assert.ErrorIs(t, err, merr.ErrServiceUnsupported)
}

func TestNewClientInvalidServer(t *testing.T) {
	_, err := NewClient("https://")
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)
}

func TestLogin(t *testing.T) {
	srv := newHomeserver(t, []string{"v1.11"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/login", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			var req loginRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "m.login.password", req.Type)
			assert.Equal(t, "m.id.user", req.Identifier.Type)
			if req.Identifier.User != "alice" || req.Password != "secret" {
				writeJSON(w, http.StatusForbidden, MatrixError{Code: ErrCodeForbidden, Message: "Invalid password"})
				return
			}
			authOK(w, "@alice:example.org")
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	s, err := c.Login(context.Background(), "alice", "secret")
	require.NoError(t, err)
	assert.Equal(t, "@alice:example.org", s.UserID())
	assert.Equal(t, "DEV", s.DeviceID())

	_, err = c.Login(context.Background(), "alice", "wrong")
	require.Error(t, err)
	assert.True(t, IsMatrixError(err, ErrCodeForbidden))
	assert.ErrorIs(t, err, merr.ErrPrivilegeNotPermitted)
	assert.False(t, merr.IsRetryableErr(err))

	_, err = c.Login(context.Background(), "", "x")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestRegisterGuestLegacyPrefix(t *testing.T) {
	srv := newHomeserver(t, []string{"r0.6.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/r0/register", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "guest", r.URL.Query().Get("kind"))
			authOK(w, "@1234:example.org")
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s, err := c.RegisterGuest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "@1234:example.org", s.UserID())
}

func stall(w http.ResponseWriter, r *http.Request) {
	<-r.Context().Done()
}

func TestAuthRequestTimeout(t *testing.T) {
	t.Run("register", func(t *testing.T) {
		srv := newHomeserver(t, []string{"v1.11"}, func(mux *http.ServeMux) {
			mux.HandleFunc("/_matrix/client/v3/register", stall)
		})
		c, err := NewClient(srv.URL, WithRequestTimeout(100*time.Millisecond))
		require.NoError(t, err)

		start := time.Now()
		_, err = c.RegisterGuest(context.Background())
		assert.ErrorIs(t, err, merr.ErrServiceUnavailable)
		assert.True(t, merr.IsRetryableErr(err))
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("versions", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/_matrix/client/versions", stall)
		srv := httptest.NewServer(mux)
		t.Cleanup(srv.Close)
		c, err := NewClient(srv.URL, WithRequestTimeout(100*time.Millisecond))
		require.NoError(t, err)

		start := time.Now()
		_, err = c.Login(context.Background(), "alice", "secret")
		assert.ErrorIs(t, err, merr.ErrServiceUnavailable)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("parent canceled", func(t *testing.T) {
		srv := newHomeserver(t, []string{"v1.11"}, func(mux *http.ServeMux) {
			mux.HandleFunc("/_matrix/client/v3/register", stall)
		})
		c, err := NewClient(srv.URL, WithRequestTimeout(time.Minute))
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = c.RegisterGuest(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}

func TestConcurrentPrefixNegotiation(t *testing.T) {
	var versionCalls atomic.Int32
	release := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/_matrix/client/versions", func(w http.ResponseWriter, r *http.Request) {
		versionCalls.Add(1)
		<-release
		writeJSON(w, http.StatusOK, ServerVersionsResponse{Versions: []string{"v1.11"}})
	})
	mux.HandleFunc("/_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
		authOK(w, "@guest:example.org")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)

	// 协商请求未返回时，其他调用不会被锁阻塞。
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := c.RegisterGuest(context.Background())
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return versionCalls.Load() == 2 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	for range 2 {
		assert.NoError(t, <-errs)
	}

	_, err = c.RegisterGuest(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, versionCalls.Load())
}

func TestUnsupportedServer(t *testing.T) {
	srv := newHomeserver(t, []string{"v1.0"}, nil)
	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.RegisterGuest(context.Background())
	assert.ErrorIs(t, err, merr.ErrServiceUnsupported)
}

func TestSync(t *testing.T) {
	var calls atomic.Int32
	srv := newHomeserver(t, []string{"v1.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/login", func(w http.ResponseWriter, r *http.Request) {
			authOK(w, "@alice:example.org")
		})
		mux.HandleFunc("/_matrix/client/v3/sync", func(w http.ResponseWriter, r *http.Request) {
			requireToken(t, r)
			n := calls.Add(1)
			if n == 1 {
				assert.Empty(t, r.URL.Query().Get("since"))
			} else {
				assert.Equal(t, "s1", r.URL.Query().Get("since"))
				assert.Equal(t, "1000", r.URL.Query().Get("timeout"))
			}
			io.WriteString(w, `{
				"next_batch": "s1",
				"presence": {"events": [{"type": "m.presence", "sender": "@bob:example.org", "content": {"presence": "online"}}]},
				"rooms": {"join": {"!room:example.org": {"timeline": {"events": [
					{"event_id": "$1", "type": "m.room.message", "sender": "@bob:example.org", "origin_server_ts": 1, "content": {"msgtype": "m.text", "body": "hi"}}
				]}}}}
			}`)
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s, err := c.Login(context.Background(), "alice", "pw")
	require.NoError(t, err)

	resp, err := s.Sync(context.Background(), SyncOptions{})
	require.NoError(t, err)
	assert.Equal(t, "s1", resp.NextBatch)
	require.Len(t, resp.Presence.Events, 1)
	room, ok := resp.Rooms.Join["!room:example.org"]
	require.True(t, ok)
	require.Len(t, room.Timeline.Events, 1)

	var content MessageContent
	require.NoError(t, json.Unmarshal(room.Timeline.Events[0].Content, &content))
	assert.Equal(t, "hi", content.Body)

	_, err = s.Sync(context.Background(), SyncOptions{Since: "s1", Timeout: time.Second})
	require.NoError(t, err)
}

func TestSyncCancel(t *testing.T) {
	release := make(chan struct{})
	srv := newHomeserver(t, []string{"v1.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
			authOK(w, "@guest:example.org")
		})
		mux.HandleFunc("/_matrix/client/v3/sync", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-release:
			}
		})
	})
	defer close(release)

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s, err := c.RegisterGuest(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	_, err = s.Sync(ctx, SyncOptions{Timeout: 30 * time.Second})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSyncServerError(t *testing.T) {
	srv := newHomeserver(t, []string{"v1.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
			authOK(w, "@guest:example.org")
		})
		mux.HandleFunc("/_matrix/client/v3/sync", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			io.WriteString(w, "<html>bad gateway</html>")
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s, err := c.RegisterGuest(context.Background())
	require.NoError(t, err)

	_, err = s.Sync(context.Background(), SyncOptions{})
	require.Error(t, err)
	assert.True(t, IsMatrixError(err, ErrCodeUnknown))
	assert.True(t, merr.IsRetryableErr(err))
}

func TestSendText(t *testing.T) {
	var txns []string
	srv := newHomeserver(t, []string{"v1.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
			authOK(w, "@guest:example.org")
		})
		mux.HandleFunc("/_matrix/client/v3/rooms/", func(w http.ResponseWriter, r *http.Request) {
			requireToken(t, r)
			assert.Equal(t, http.MethodPut, r.Method)
			prefix := "/_matrix/client/v3/rooms/!room:example.org/send/m.room.message/"
			require.True(t, strings.HasPrefix(r.URL.Path, prefix), r.URL.Path)
			txns = append(txns, strings.TrimPrefix(r.URL.Path, prefix))

			var content MessageContent
			require.NoError(t, json.NewDecoder(r.Body).Decode(&content))
			assert.Equal(t, MsgTypeText, content.MsgType)
			assert.Equal(t, "hello", content.Body)
			writeJSON(w, http.StatusOK, sendResponse{EventID: "$evt"})
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s, err := c.RegisterGuest(context.Background())
	require.NoError(t, err)

	id, err := s.SendText(context.Background(), "!room:example.org", "hello")
	require.NoError(t, err)
	assert.Equal(t, "$evt", id)

	_, err = s.SendTextWithTxn(context.Background(), "!room:example.org", "hello", "fixed")
	require.NoError(t, err)

	require.Len(t, txns, 2)
	assert.True(t, strings.HasPrefix(txns[0], "fest-"))
	assert.Equal(t, "fixed", txns[1])

	_, err = s.SendText(context.Background(), "", "hello")
	assert.ErrorIs(t, err, merr.ErrParameterMissing)
}

func TestRateLimited(t *testing.T) {
	srv := newHomeserver(t, []string{"v1.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, MatrixError{Code: ErrCodeLimitExceeded, Message: "slow down", RetryAfterMS: 500})
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	_, err = c.RegisterGuest(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, merr.ErrServiceRateLimit)
	assert.True(t, merr.IsRetryableErr(err))
}

func TestPublicRoomsAndDisplayName(t *testing.T) {
	srv := newHomeserver(t, []string{"v1.1"}, func(mux *http.ServeMux) {
		mux.HandleFunc("/_matrix/client/v3/register", func(w http.ResponseWriter, r *http.Request) {
			authOK(w, "@guest:example.org")
		})
		mux.HandleFunc("/_matrix/client/v3/publicRooms", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "50", r.URL.Query().Get("limit"))
			writeJSON(w, http.StatusOK, PublicRoomsResponse{Chunk: []PublicRoom{
				{RoomID: "!a:example.org", Name: "A", NumJoinedMembers: 3},
			}})
		})
		mux.HandleFunc("/_matrix/client/v3/profile/", func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "@guest:example.org") {
				writeJSON(w, http.StatusNotFound, MatrixError{Code: ErrCodeNotFound, Message: "no profile"})
				return
			}
			writeJSON(w, http.StatusOK, displayNameResponse{DisplayName: "Bob"})
		})
	})

	c, err := NewClient(srv.URL)
	require.NoError(t, err)
	s, err := c.RegisterGuest(context.Background())
	require.NoError(t, err)

	rooms, err := s.PublicRooms(context.Background())
	require.NoError(t, err)
	require.Len(t, rooms.Chunk, 1)
	assert.Equal(t, "A", rooms.Chunk[0].Name)

	name, err := s.DisplayName(context.Background(), "@guest:example.org")
	require.NoError(t, err)
	assert.Empty(t, name)

	name, err = s.DisplayName(context.Background(), "@bob:example.org")
	require.NoError(t, err)
	assert.Equal(t, "Bob", name)
}
