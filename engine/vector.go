package engine

import "math"

// Vector2 二维向量（值类型），所有运算结果取整，保持像素网格对齐
type Vector2 struct {
	X float64 `json:"x" msgpack:"x"`
	Y float64 `json:"y" msgpack:"y"`
}

// Vec 构造取整后的向量
func Vec(x, y float64) Vector2 {
	return Vector2{X: round(x), Y: round(y)}
}

// Add 返回 v+o（取整）
func (v Vector2) Add(o Vector2) Vector2 {
	return Vector2{X: round(v.X + o.X), Y: round(v.Y + o.Y)}
}

// Copy 返回副本
func (v Vector2) Copy() Vector2 {
	return Vector2{X: v.X, Y: v.Y}
}

// Equal 比较取整后的值
func (v Vector2) Equal(o Vector2) bool {
	return round(v.X) == round(o.X) && round(v.Y) == round(o.Y)
}

// Lerp 线性插值，t 会被限制在 [0,1]
func Lerp(a, b Vector2, t float64) Vector2 {
	t = Clamp01(t)
	return Vector2{
		X: round(a.X + (b.X-a.X)*t),
		Y: round(a.Y + (b.Y-a.Y)*t),
	}
}

// Clamp01 将 t 限制在 [0,1]，非有限值视为 0
func Clamp01(t float64) float64 {
	if math.IsNaN(t) || math.IsInf(t, 0) {
		return 0
	}
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// round 四舍五入（远离零），与 toFixed() 一致
func round(f float64) float64 {
	return math.Round(f)
}
