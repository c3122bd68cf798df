package engine

// Delta 计算一次输入的位移：每个方向独立叠加 ±speed，不做对角线归一化
func Delta(speed Vector2, dirs Directions) Vector2 {
	var d Vector2
	if dirs&DirUp != 0 {
		d.Y -= speed.Y
	}
	if dirs&DirDown != 0 {
		d.Y += speed.Y
	}
	if dirs&DirLeft != 0 {
		d.X -= speed.X
	}
	if dirs&DirRight != 0 {
		d.X += speed.X
	}
	return Vec(d.X, d.Y)
}

// ApplyInput 服务端与客户端预测共用的输入应用逻辑。
// Seq <= LastAckedSeq 的输入整体丢弃（位置与确认号都不变），返回 false。
func ApplyInput(e *Entity, in Input) bool {
	if e == nil || in.Seq <= e.LastAckedSeq {
		return false
	}
	delta := Delta(e.Speed, in.Directions)
	e.PreviousPosition = e.Position.Copy()
	e.Position = e.Position.Add(delta)
	e.LastAckedSeq = in.Seq
	e.LastAckedTime = in.Time
	return true
}
