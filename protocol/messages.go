package protocol

import (
	"fmt"

	"netsync/engine"
)

// 消息类型（Envelope.Type）
const (
	TypeRegistered = "registered" // S->C 新连接的实体
	TypeSnapshot   = "snapshot"   // S->C 每 Tick 的世界快照
	TypeInput      = "input"      // C->S 客户端输入
	TypeLatency    = "latency"    // 双向：延迟探测
	TypeTickRate   = "tickRate"   // C->S 调整服务端 Tick 频率
)

// Envelope 统一的消息外壳
type Envelope struct {
	Type    string `json:"type" msgpack:"type"`
	Payload any    `json:"payload" msgpack:"payload"`
}

type typedEnvelope[T any] struct {
	Type    string `json:"type" msgpack:"type"`
	Payload T      `json:"payload" msgpack:"payload"`
}

// Registered 注册成功后发给新连接
type Registered struct {
	Entity   engine.Entity `json:"entity" msgpack:"entity"`
	Room     string        `json:"room" msgpack:"room"`
	Session  string        `json:"session" msgpack:"session"`
	TickRate int           `json:"tickRate" msgpack:"tickRate"`
}

// LatencyProbe 延迟探测：客户端填 Timestamp，服务端回填 Processed（均为 Unix 毫秒）
type LatencyProbe struct {
	Timestamp int64 `json:"timestamp" msgpack:"timestamp"`
	Processed int64 `json:"processed,omitempty" msgpack:"processed,omitempty"`
}

// TickRateChange 运行时修改 Tick 频率
type TickRateChange struct {
	TickRate int `json:"tickRate" msgpack:"tickRate"`
}

// Encode 编码一条消息
func Encode(c Codec, msgType string, payload any) ([]byte, error) {
	b, err := c.Marshal(Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msgType, err)
	}
	return b, nil
}

// DecodePayload 将消息的 payload 解码为 T
func DecodePayload[T any](c Codec, data []byte) (T, error) {
	var env typedEnvelope[T]
	if err := c.Unmarshal(data, &env); err != nil {
		var zero T
		return zero, fmt.Errorf("decode payload: %w", err)
	}
	return env.Payload, nil
}
