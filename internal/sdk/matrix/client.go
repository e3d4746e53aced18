package matrix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	zlog "github.com/lk2023060901/fest-go/pkg/log"
	"github.com/lk2023060901/fest-go/pkg/util/funcutil"
	"github.com/lk2023060901/fest-go/pkg/util/merr"
)

const (
	versionsPath = "/_matrix/client/versions"
	prefixV3     = "/_matrix/client/v3"
	prefixR0     = "/_matrix/client/r0"

	// maxResponseSize 限制单次响应体大小，sync 首次全量同步也远小于该值。
	maxResponseSize = 64 << 20
)

// v1.1 起服务端提供 /v3 前缀的接口。
var minV3Version = semver.MustParse("1.1.0")

// Client 是面向单个 homeserver 的 Matrix 客户端-服务端 API 封装。
//
// Client 本身不持有凭证，登录或注册成功后返回携带 access token 的 Session。
type Client struct {
	cfg     Config
	logger  *zlog.MLogger
	baseURL string

	mu     sync.Mutex
	prefix string
}

// NewClient 创建一个新的 Matrix 客户端。
//
// server 允许省略协议，缺省按 https 处理。
func NewClient(server string, opts ...Option) (*Client, error) {
	baseURL, err := funcutil.NormalizeServerURL(server)
	if err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("matrix: invalid server address %q: %v", server, err)
	}

	var cfg Config
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	cfg.fillDefaults()

	return &Client{
		cfg:     cfg,
		logger:  cfg.Logger.With(zlog.FieldServer(baseURL)),
		baseURL: baseURL,
	}, nil
}

// BaseURL 返回规范化后的服务器地址。
func (c *Client) BaseURL() string {
	return c.baseURL
}

// ServerVersions 查询服务端支持的规范版本。
func (c *Client) ServerVersions(ctx context.Context) (*ServerVersionsResponse, error) {
	var resp ServerVersionsResponse
	if err := c.doTimeout(ctx, http.MethodGet, versionsPath, nil, "", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// apiPrefix 按服务端版本选择接口前缀，协商成功后结果被缓存，失败时下次调用重新协商。
// 协商请求不持锁，并发协商时以先写入的结果为准。
func (c *Client) apiPrefix(ctx context.Context) (string, error) {
	c.mu.Lock()
	prefix := c.prefix
	c.mu.Unlock()
	if prefix != "" {
		return prefix, nil
	}

	resp, err := c.ServerVersions(ctx)
	if err != nil {
		return "", err
	}
	prefix, err = choosePrefix(c.baseURL, resp.Versions)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.prefix == "" {
		c.logger.Debug("negotiated client api prefix", zap.String("prefix", prefix), zap.Strings("versions", resp.Versions))
		c.prefix = prefix
	}
	return c.prefix, nil
}

func choosePrefix(server string, versions []string) (string, error) {
	legacy := false
	for _, raw := range versions {
		if strings.HasPrefix(raw, "r0.") {
			legacy = true
			continue
		}
		v, err := semver.ParseTolerant(strings.TrimPrefix(raw, "v"))
		if err != nil {
			continue
		}
		if v.GTE(minV3Version) {
			return prefixV3, nil
		}
	}
	if legacy {
		return prefixR0, nil
	}
	return "", merr.WrapErrServiceUnsupported(server, versions)
}

// Login 使用用户名密码登录。
func (c *Client) Login(ctx context.Context, username, password string) (*Session, error) {
	if username == "" {
		return nil, merr.WrapErrParameterMissing("username")
	}
	prefix, err := c.apiPrefix(ctx)
	if err != nil {
		return nil, err
	}
	req := loginRequest{
		Type:                     "m.login.password",
		Identifier:               userIdentifier{Type: "m.id.user", User: username},
		Password:                 password,
		InitialDeviceDisplayName: c.cfg.DeviceDisplayName,
	}
	var auth AuthResponse
	if err := c.doTimeout(ctx, http.MethodPost, prefix+"/login", nil, "", req, &auth); err != nil {
		return nil, err
	}
	return c.sessionFromAuth(prefix, &auth)
}

// RegisterGuest 注册一个访客账号。
func (c *Client) RegisterGuest(ctx context.Context) (*Session, error) {
	prefix, err := c.apiPrefix(ctx)
	if err != nil {
		return nil, err
	}
	query := url.Values{"kind": []string{"guest"}}
	req := guestRegisterRequest{InitialDeviceDisplayName: c.cfg.DeviceDisplayName}
	var auth AuthResponse
	if err := c.doTimeout(ctx, http.MethodPost, prefix+"/register", query, "", req, &auth); err != nil {
		return nil, err
	}
	return c.sessionFromAuth(prefix, &auth)
}

func (c *Client) sessionFromAuth(prefix string, auth *AuthResponse) (*Session, error) {
	if auth.AccessToken == "" || auth.UserID == "" {
		return nil, merr.WrapErrServiceInternal("matrix: auth response missing user_id or access_token")
	}
	return &Session{
		client:      c,
		prefix:      prefix,
		userID:      auth.UserID,
		deviceID:    auth.DeviceID,
		accessToken: auth.AccessToken,
		logger:      c.logger.With(zap.String("userID", auth.UserID)),
	}, nil
}

// doTimeout 以 RequestTimeout 为上限执行普通请求。
func (c *Client) doTimeout(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()
	return requestErr(ctx, c.do(reqCtx, method, path, query, token, body, out))
}

// do 发送请求并解码响应，非 2xx 响应统一转换为 MatrixError。
func (c *Client) do(ctx context.Context, method, path string, query url.Values, token string, body, out any) error {
	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var bodyReader io.Reader
	if body != nil {
		encoded, err := c.cfg.Serializer.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "matrix: failed to encode request body")
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, bodyReader)
	if err != nil {
		return errors.Wrap(err, "matrix: failed to create request")
	}
	if body != nil {
		req.Header.Set("Content-Type", c.cfg.Serializer.ContentType())
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return merr.WrapErrServiceUnavailable(err.Error(), fmt.Sprintf("matrix: %s %s", method, path))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return merr.WrapErrServiceUnavailable(err.Error(), "matrix: failed to read response body")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		if err := c.cfg.Serializer.Unmarshal(respBody, out); err != nil {
			return merr.WrapErrServiceInternal(fmt.Sprintf("matrix: failed to decode %s %s response: %v", method, path, err))
		}
		return nil
	}

	me := &MatrixError{StatusCode: resp.StatusCode}
	if err := c.cfg.Serializer.Unmarshal(respBody, me); err != nil || me.Code == "" {
		me.Code = ErrCodeUnknown
		me.Message = strings.TrimSpace(string(respBody))
	}
	c.logger.RatedWarn(1, "matrix request failed",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.String("errcode", me.Code))
	return classify(me)
}
