package server

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netsync/engine"
	"netsync/logging"
)

// DefaultRoomID 未指定 room 参数时使用的房间
const DefaultRoomID = "room-1"

// RoomManager 管理多个房间的生命周期
type RoomManager struct {
	ctx      context.Context
	group    *errgroup.Group
	defaults Settings
	log      *zap.SugaredLogger
	clock    engine.Clock

	mu    sync.RWMutex
	rooms map[string]*Room
}

// NewRoomManager 房间的 Tick 循环在 ctx 结束时退出
func NewRoomManager(ctx context.Context, defaults Settings, log *zap.SugaredLogger, clock engine.Clock) *RoomManager {
	if log == nil {
		log = logging.Nop()
	}
	g, gctx := errgroup.WithContext(ctx)
	return &RoomManager{
		ctx:      gctx,
		group:    g,
		defaults: defaults,
		log:      log,
		clock:    clock,
		rooms:    make(map[string]*Room),
	}
}

// GetOrCreateRoom 获取或创建房间，并确保开始 Tick
func (m *RoomManager) GetOrCreateRoom(id string) (*Room, error) {
	if id == "" {
		id = DefaultRoomID
	}
	m.mu.RLock()
	r, ok := m.rooms[id]
	m.mu.RUnlock()
	if ok {
		return r, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.rooms[id]; ok {
		return r, nil
	}
	r, err := NewRoom(id, m.defaults, m.log, m.clock)
	if err != nil {
		return nil, err
	}
	m.rooms[id] = r
	m.group.Go(func() error {
		r.Run(m.ctx)
		return nil
	})
	m.log.Infow("room created", "room", id)
	return r, nil
}

// Room 查找已存在的房间
func (m *RoomManager) Room(id string) (*Room, bool) {
	if id == "" {
		id = DefaultRoomID
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// Rooms 房间 ID 列表
func (m *RoomManager) Rooms() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.rooms))
	for id := range m.rooms {
		ids = append(ids, id)
	}
	return ids
}

// Wait 等待所有房间循环退出
func (m *RoomManager) Wait() error {
	return m.group.Wait()
}
