package engine

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Directions 方向位集合，可同时按下多个方向
type Directions uint8

const (
	DirUp Directions = 1 << iota
	DirDown
	DirLeft
	DirRight

	DirNone Directions = 0
)

var directionNames = []struct {
	dir  Directions
	name string
}{
	{DirUp, "up"},
	{DirDown, "down"},
	{DirLeft, "left"},
	{DirRight, "right"},
}

// Has 是否包含 d 中的全部方向
func (d Directions) Has(o Directions) bool { return o != 0 && d&o == o }

// Any 是否按下了任意方向
func (d Directions) Any() bool { return d&(DirUp|DirDown|DirLeft|DirRight) != 0 }

// Names 返回方向名称列表（固定顺序）
func (d Directions) Names() []string {
	names := make([]string, 0, 4)
	for _, dn := range directionNames {
		if d&dn.dir != 0 {
			names = append(names, dn.name)
		}
	}
	return names
}

func (d Directions) String() string {
	if !d.Any() {
		return "none"
	}
	return strings.Join(d.Names(), "+")
}

// ParseDirection 解析单个方向名（大小写不敏感）
func ParseDirection(name string) (Directions, error) {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, dn := range directionNames {
		if dn.name == lower {
			return dn.dir, nil
		}
	}
	return DirNone, fmt.Errorf("unknown direction %q", name)
}

// ParseDirections 解析方向名列表
func ParseDirections(names []string) (Directions, error) {
	var d Directions
	for _, n := range names {
		dir, err := ParseDirection(n)
		if err != nil {
			return DirNone, err
		}
		d |= dir
	}
	return d, nil
}

// MarshalJSON 以 ["up","right"] 形式输出
func (d Directions) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Names())
}

// UnmarshalJSON 接受名称数组
func (d *Directions) UnmarshalJSON(b []byte) error {
	var names []string
	if err := json.Unmarshal(b, &names); err != nil {
		return fmt.Errorf("decode directions: %w", err)
	}
	parsed, err := ParseDirections(names)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Input 客户端输入：Seq 每个连接单调递增（从 1 开始），Time 为 Unix 秒
type Input struct {
	Seq        uint64     `json:"seq" msgpack:"seq"`
	Time       int64      `json:"time" msgpack:"time"`
	Directions Directions `json:"directions" msgpack:"directions"`
	EntityID   EntityID   `json:"entityId,omitempty" msgpack:"entityId,omitempty"`
}
