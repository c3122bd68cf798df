package server

import (
	"netsync/engine"
	"netsync/protocol"
)

// handleMessage 解析入站消息：只入队或回显，不直接修改实体状态
func (r *Room) handleMessage(id engine.EntityID, c *ClientConn, data []byte) {
	msgType, err := c.codec.PeekType(data)
	if err != nil {
		c.log.Debugw("bad message", "entity", id, "err", err)
		return
	}
	switch msgType {
	case protocol.TypeInput:
		in, err := protocol.DecodePayload[engine.Input](c.codec, data)
		if err != nil {
			c.log.Debugw("bad input", "entity", id, "err", err)
			return
		}
		// 实体归属以连接为准
		in.EntityID = id
		r.sim.Input(in)
	case protocol.TypeLatency:
		probe, err := protocol.DecodePayload[protocol.LatencyProbe](c.codec, data)
		if err != nil {
			c.log.Debugw("bad latency probe", "entity", id, "err", err)
			return
		}
		probe.Processed = engine.UnixMillis(r.sim.clock.Now())
		if err := c.Send(protocol.TypeLatency, probe); err != nil {
			c.log.Warnw("send latency failed", "err", err)
		}
	case protocol.TypeTickRate:
		change, err := protocol.DecodePayload[protocol.TickRateChange](c.codec, data)
		if err != nil {
			c.log.Debugw("bad tick rate change", "entity", id, "err", err)
			return
		}
		if _, err := r.UpdateSettings(SettingsPatch{TickRate: &change.TickRate}); err != nil {
			c.log.Infow("tick rate change rejected", "entity", id, "err", err)
		}
	default:
		c.log.Debugw("unknown message type", "entity", id, "type", msgType)
	}
}
