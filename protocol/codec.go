package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/vmihailenco/msgpack/v5"
)

// ErrMissingType 消息缺少 type 字段
var ErrMissingType = errors.New("message has no type")

// Codec 线上序列化格式
type Codec interface {
	Name() string
	// Binary 为 true 时使用二进制帧发送
	Binary() bool
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// PeekType 只读取消息类型，不解码 payload
	PeekType(data []byte) (string, error)
}

// CodecByName 按名称选择编解码器（默认 json）
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSONCodec{}, nil
	case "msgpack":
		return MsgpackCodec{}, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

// JSONCodec 文本帧 JSON
type JSONCodec struct{}

func (JSONCodec) Name() string { return "json" }

func (JSONCodec) Binary() bool { return false }

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSONCodec) PeekType(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", fmt.Errorf("invalid json message")
	}
	t := gjson.GetBytes(data, "type")
	if !t.Exists() || t.String() == "" {
		return "", ErrMissingType
	}
	return t.String(), nil
}

// MsgpackCodec 二进制帧 msgpack
type MsgpackCodec struct{}

func (MsgpackCodec) Name() string { return "msgpack" }

func (MsgpackCodec) Binary() bool { return true }

func (MsgpackCodec) Marshal(v any) ([]byte, error) { return msgpack.Marshal(v) }

func (MsgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

func (MsgpackCodec) PeekType(data []byte) (string, error) {
	var head struct {
		Type string `msgpack:"type"`
	}
	if err := msgpack.Unmarshal(data, &head); err != nil {
		return "", fmt.Errorf("invalid msgpack message: %w", err)
	}
	if head.Type == "" {
		return "", ErrMissingType
	}
	return head.Type, nil
}
