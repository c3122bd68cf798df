package client

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/tanema/gween/ease"
)

// Options 客户端同步策略，运行期可通过 SetOptions 切换
type Options struct {
	ClientPredict        bool          `json:"clientPredict"`
	ServerReconciliation bool          `json:"serverReconciliation"`
	ClientInterpolation  bool          `json:"clientInterpolation"`
	SendDelay            time.Duration `json:"sendDelay"`          // 输入发出前的模拟延迟
	ReceiveDelay         time.Duration `json:"receiveDelay"`       // 快照入队的模拟延迟
	InterpolationDelay   time.Duration `json:"interpolationDelay"` // 渲染时间落后于当前时间的量
	Easing               string        `json:"easing"`             // 插值曲线，见 EasingNames
	SnapshotCapacity     int           `json:"snapshotCapacity"`
	HistoryCapacity      int           `json:"historyCapacity"`
}

// DefaultOptions 预测 + 校正 + 插值全开
func DefaultOptions() Options {
	return Options{
		ClientPredict:        true,
		ServerReconciliation: true,
		ClientInterpolation:  true,
		InterpolationDelay:   100 * time.Millisecond,
		Easing:               "linear",
		SnapshotCapacity:     64,
		HistoryCapacity:      32,
	}
}

var easings = map[string]ease.TweenFunc{
	"linear":     ease.Linear,
	"inquad":     ease.InQuad,
	"outquad":    ease.OutQuad,
	"inoutquad":  ease.InOutQuad,
	"incubic":    ease.InCubic,
	"outcubic":   ease.OutCubic,
	"inoutcubic": ease.InOutCubic,
	"insine":     ease.InSine,
	"outsine":    ease.OutSine,
	"inoutsine":  ease.InOutSine,
}

// EasingByName 按名称（大小写不敏感）查找插值曲线，空名称为 linear
func EasingByName(name string) (ease.TweenFunc, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		key = "linear"
	}
	fn, ok := easings[key]
	if !ok {
		return nil, fmt.Errorf("unknown easing %q (want one of %s)", name, strings.Join(EasingNames(), ", "))
	}
	return fn, nil
}

// EasingNames 支持的曲线名称
func EasingNames() []string {
	names := make([]string, 0, len(easings))
	for name := range easings {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate 检查选项是否合法
func (o Options) Validate() error {
	if o.SendDelay < 0 || o.ReceiveDelay < 0 || o.InterpolationDelay < 0 {
		return fmt.Errorf("delays must be >= 0")
	}
	if o.SnapshotCapacity < 1 || o.HistoryCapacity < 2 {
		return fmt.Errorf("snapshotCapacity must be >= 1 and historyCapacity >= 2, got %d and %d",
			o.SnapshotCapacity, o.HistoryCapacity)
	}
	_, err := EasingByName(o.Easing)
	return err
}
