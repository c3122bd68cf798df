package client

import (
	"github.com/tanema/gween/ease"

	"netsync/engine"
)

// interpolateRemotes 按渲染时间（当前时间 - InterpolationDelay）放置其他实体
func (c *Client) interpolateRemotes(opts Options) {
	history := c.historySnapshots()
	if len(history) == 0 {
		return
	}
	renderTime := engine.UnixMillis(c.clock.Now().Add(-opts.InterpolationDelay))
	fn := c.currentEasing()
	for id, e := range c.entities {
		if id == c.localID {
			continue
		}
		pos, ok := Interpolate(history, id, renderTime, fn)
		if !ok {
			continue
		}
		e.PreviousPosition = e.Position
		e.Position = pos
	}
}

func (c *Client) historySnapshots() []engine.Snapshot {
	n := c.history.Len()
	out := make([]engine.Snapshot, 0, n)
	for i := 0; i < n; i++ {
		s, ok := c.history.Get(i)
		if !ok {
			break
		}
		out = append(out, s)
	}
	return out
}

// Interpolate 在按时间排序的快照历史中求实体 id 在 renderTime（Unix 毫秒）的位置。
// 找到包含该实体、且夹住 renderTime 的相邻两帧时做插值；否则退回到
// 最新一帧含该实体的原始位置。历史中没有该实体时返回 false。
func Interpolate(history []engine.Snapshot, id engine.EntityID, renderTime int64, fn ease.TweenFunc) (engine.Vector2, bool) {
	for i := len(history) - 1; i >= 1; i-- {
		earlier, later := history[i-1], history[i]
		if renderTime < earlier.Time || renderTime > later.Time {
			continue
		}
		a, okA := earlier.Online[id]
		b, okB := later.Online[id]
		if !okA || !okB {
			continue
		}
		if later.Time == earlier.Time {
			// 两帧同时刻无法插值，直接取最新值
			break
		}
		t := Factor(earlier.Time, later.Time, renderTime)
		return engine.Lerp(a.Position, b.Position, applyEasing(fn, t)), true
	}
	for i := len(history) - 1; i >= 0; i-- {
		if e, ok := history[i].Online[id]; ok {
			return e.Position, true
		}
	}
	return engine.Vector2{}, false
}

// Factor 插值系数，限制在 [0,1]；两帧时间相同时为 0
func Factor(earlier, later, renderTime int64) float64 {
	denom := float64(later - earlier)
	if denom == 0 {
		return 0
	}
	return engine.Clamp01(float64(renderTime-earlier) / denom)
}

func applyEasing(fn ease.TweenFunc, t float64) float64 {
	if fn == nil {
		return t
	}
	return engine.Clamp01(float64(fn(float32(t), 0, 1, 1)))
}
