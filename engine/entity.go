package engine

// EntityID 实体唯一标识，由服务端计数器分配
type EntityID string

// DefaultSpeed 新实体的每 Tick 移动速度
var DefaultSpeed = Vector2{X: 5, Y: 5}

// Entity 玩家实体状态
type Entity struct {
	ID               EntityID `json:"id" msgpack:"id"`
	Position         Vector2  `json:"position" msgpack:"position"`
	PreviousPosition Vector2  `json:"previousPosition" msgpack:"previousPosition"`
	Speed            Vector2  `json:"speed" msgpack:"speed"`
	PendingInputs    []Input  `json:"pendingInputs,omitempty" msgpack:"pendingInputs,omitempty"`
	LastAckedSeq     uint64   `json:"lastAckedSeq" msgpack:"lastAckedSeq"`
	LastAckedTime    int64    `json:"lastAckedTime" msgpack:"lastAckedTime"`
}

// NewEntity 在 spawn 位置创建实体
func NewEntity(id EntityID, spawn Vector2) *Entity {
	return &Entity{
		ID:               id,
		Position:         spawn,
		PreviousPosition: spawn,
		Speed:            DefaultSpeed,
	}
}

// State 返回不含待确认输入的只读副本（用于快照）
func (e *Entity) State() Entity {
	return Entity{
		ID:               e.ID,
		Position:         e.Position,
		PreviousPosition: e.PreviousPosition,
		Speed:            e.Speed,
		LastAckedSeq:     e.LastAckedSeq,
		LastAckedTime:    e.LastAckedTime,
	}
}

// Clone 深拷贝，包括待确认输入
func (e *Entity) Clone() *Entity {
	c := e.State()
	if len(e.PendingInputs) > 0 {
		c.PendingInputs = append([]Input(nil), e.PendingInputs...)
	}
	return &c
}
