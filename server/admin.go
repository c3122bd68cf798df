package server

import (
	"encoding/json"
	"net/http"

	"netsync/protocol"
)

// HandleAdminConfig 提供房间配置的读取与更新（热更新 Tick 频率与模拟延迟）
// GET /admin/config?room=room-1  返回当前配置
// POST /admin/config?room=room-1 以 JSON 载荷更新部分字段
func (m *RoomManager) HandleAdminConfig(w http.ResponseWriter, r *http.Request) {
	room, err := m.GetOrCreateRoom(r.URL.Query().Get("room"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, room.Settings())
		return
	case http.MethodPost:
		var body SettingsPatch
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		next, err := room.UpdateSettings(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "settings": next})
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出指定房间的运行指标
// GET /metrics?room=room-1
func (m *RoomManager) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	room, ok := m.Room(r.URL.Query().Get("room"))
	if !ok {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	payload := map[string]any{
		"room":          room.ID,
		"session":       room.session,
		"tick":          room.sim.TickSeq(),
		"tickRate":      room.sched.TickRate(),
		"measuredRate":  room.sched.MeasuredRate(),
		"connections":   room.Connections(),
		"pendingInputs": room.sim.PendingInputs(),
		"metrics":       room.metrics.Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleSchema 输出线上消息的 JSON Schema
func HandleSchema(w http.ResponseWriter, r *http.Request) {
	data, err := protocol.SchemaJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/schema+json")
	_, _ = w.Write(data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
