// Package json 统一项目内的 JSON 编解码入口。
// amd64/arm64 使用 bytedance/sonic，其余平台使用 json-iterator。
package json

import (
	stdjson "encoding/json"
)

type (
	RawMessage = stdjson.RawMessage
	Number     = stdjson.Number
)
