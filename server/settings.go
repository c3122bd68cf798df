package server

import (
	"fmt"
	"time"

	"netsync/engine"
)

// Settings 房间配置：启动时给定，运行期可通过管理接口修改部分字段
type Settings struct {
	TickRate         int     `json:"tickRate"`         // 每秒 Tick 数
	FrameRate        int     `json:"frameRate"`        // 宿主回调频率（RunLoop 调用节奏）
	InputDelayMs     int     `json:"inputDelayMs"`     // 入站输入的模拟网络延迟
	SnapshotDelayMs  int     `json:"snapshotDelayMs"`  // 出站快照的模拟网络延迟
	SimulateDropProb float64 `json:"simulateDropProb"` // 入站输入的模拟丢包概率
	MaxInputsPerTick int     `json:"maxInputsPerTick"` // 每 Tick 最多处理的输入数，0 不限制
	InputCapacity    int     `json:"inputCapacity"`    // 输入队列容量
	SpawnX           float64 `json:"spawnX"`
	SpawnY           float64 `json:"spawnY"`
	Diagnostics      bool    `json:"diagnostics"` // 输出瞬时 Tick 频率
}

// DefaultSettings 默认配置（20 TPS）
func DefaultSettings() Settings {
	return Settings{
		TickRate:      20,
		FrameRate:     120,
		InputCapacity: 256, // 足够缓冲，避免网络读阻塞影响 Tick
		SpawnX:        50,
		SpawnY:        50,
	}
}

// Validate 检查配置是否合法
func (s Settings) Validate() error {
	if s.TickRate < 1 {
		return fmt.Errorf("tickRate must be >= 1, got %d", s.TickRate)
	}
	if s.FrameRate < 1 {
		return fmt.Errorf("frameRate must be >= 1, got %d", s.FrameRate)
	}
	if s.InputDelayMs < 0 || s.SnapshotDelayMs < 0 {
		return fmt.Errorf("delays must be >= 0, got input=%d snapshot=%d", s.InputDelayMs, s.SnapshotDelayMs)
	}
	if s.SimulateDropProb < 0 || s.SimulateDropProb > 1 {
		return fmt.Errorf("simulateDropProb must be within [0,1], got %.2f", s.SimulateDropProb)
	}
	if s.MaxInputsPerTick < 0 {
		return fmt.Errorf("maxInputsPerTick must be >= 0, got %d", s.MaxInputsPerTick)
	}
	if s.InputCapacity < 1 {
		return fmt.Errorf("inputCapacity must be >= 1, got %d", s.InputCapacity)
	}
	return nil
}

func (s Settings) inputDelay() time.Duration {
	return time.Duration(s.InputDelayMs) * time.Millisecond
}

func (s Settings) snapshotDelay() time.Duration {
	return time.Duration(s.SnapshotDelayMs) * time.Millisecond
}

func (s Settings) frameInterval() time.Duration {
	return time.Second / time.Duration(s.FrameRate)
}

func (s Settings) spawn() engine.Vector2 {
	return engine.Vec(s.SpawnX, s.SpawnY)
}

// SettingsPatch 部分更新，nil 字段保持不变
type SettingsPatch struct {
	TickRate         *int     `json:"tickRate,omitempty"`
	InputDelayMs     *int     `json:"inputDelayMs,omitempty"`
	SnapshotDelayMs  *int     `json:"snapshotDelayMs,omitempty"`
	SimulateDropProb *float64 `json:"simulateDropProb,omitempty"`
	MaxInputsPerTick *int     `json:"maxInputsPerTick,omitempty"`
	Diagnostics      *bool    `json:"diagnostics,omitempty"`
}

// Apply 返回应用补丁后的新配置
func (p SettingsPatch) Apply(s Settings) Settings {
	if p.TickRate != nil {
		s.TickRate = *p.TickRate
	}
	if p.InputDelayMs != nil {
		s.InputDelayMs = *p.InputDelayMs
	}
	if p.SnapshotDelayMs != nil {
		s.SnapshotDelayMs = *p.SnapshotDelayMs
	}
	if p.SimulateDropProb != nil {
		s.SimulateDropProb = *p.SimulateDropProb
	}
	if p.MaxInputsPerTick != nil {
		s.MaxInputsPerTick = *p.MaxInputsPerTick
	}
	if p.Diagnostics != nil {
		s.Diagnostics = *p.Diagnostics
	}
	return s
}
