package engine

// Snapshot 某个权威 Tick 的世界状态。Time 为 Unix 毫秒。
// Offline 中的实体自上一个快照后断开，只会出现一次。
type Snapshot struct {
	Time    int64               `json:"time" msgpack:"time"`
	Online  map[EntityID]Entity `json:"online" msgpack:"online"`
	Offline []Entity            `json:"offline" msgpack:"offline"`
}

// Lookup 在 Online 中查找实体
func (s Snapshot) Lookup(id EntityID) (Entity, bool) {
	e, ok := s.Online[id]
	return e, ok
}

// WentOffline 实体是否在本快照中下线
func (s Snapshot) WentOffline(id EntityID) bool {
	for _, e := range s.Offline {
		if e.ID == id {
			return true
		}
	}
	return false
}
