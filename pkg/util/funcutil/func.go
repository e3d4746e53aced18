package funcutil

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
)

// CheckCtxValid 判断 ctx 是否仍然有效（未取消且未超时）。
func CheckCtxValid(ctx context.Context) bool {
	return ctx.Err() == nil
}

// NormalizeServerURL 规范化服务器地址，缺省协议时补全为 https，去掉末尾的斜杠。
func NormalizeServerURL(addr string) (string, error) {
	addr = strings.TrimSpace(addr)
	if !strings.Contains(addr, "://") {
		addr = "https://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", errors.Newf("invalid server address %q: missing host", addr)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	return u.String(), nil
}
