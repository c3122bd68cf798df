package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netsync/client"
	"netsync/engine"
	"netsync/logging"
	"netsync/protocol"
)

// netbot 无界面客户端：按脚本移动，运行客户端预测/校正/插值并输出位置
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	opts := client.DefaultOptions()
	var (
		url        = flag.String("url", "ws://localhost:8080/ws", "server websocket url, e.g. ws://localhost:8080/ws?room=room-1")
		clients    = flag.Int("clients", 2, "number of bot clients")
		codecName  = flag.String("codec", "json", "wire codec: json or msgpack")
		duration   = flag.Duration("duration", 10*time.Second, "how long to run (0 runs until interrupted)")
		frameRate  = flag.Int("fps", 60, "client ticks per second")
		pattern    = flag.String("pattern", "right,down,left,up", "comma separated moves; entries may combine directions with +, e.g. up+right")
		step       = flag.Duration("step", 500*time.Millisecond, "how long each pattern entry is held")
		tickRate   = flag.Int("server-tick-rate", 0, "ask the server to change its tick rate (0 leaves it)")
		logLevel   = flag.String("log-level", "info", "log level: debug, info, warn, error")
		reportRate = flag.Duration("report", time.Second, "position report interval")
	)
	flag.BoolVar(&opts.ClientPredict, "predict", opts.ClientPredict, "client-side prediction")
	flag.BoolVar(&opts.ServerReconciliation, "reconcile", opts.ServerReconciliation, "server reconciliation")
	flag.BoolVar(&opts.ClientInterpolation, "interpolate", opts.ClientInterpolation, "entity interpolation")
	flag.DurationVar(&opts.SendDelay, "send-delay", opts.SendDelay, "simulated outbound delay")
	flag.DurationVar(&opts.ReceiveDelay, "receive-delay", opts.ReceiveDelay, "simulated inbound delay")
	flag.DurationVar(&opts.InterpolationDelay, "interp-delay", opts.InterpolationDelay, "interpolation render delay")
	flag.StringVar(&opts.Easing, "easing", opts.Easing, "interpolation easing: "+strings.Join(client.EasingNames(), ", "))
	flag.Parse()

	if *clients < 1 {
		return errors.New("clients must be >= 1")
	}
	if err := opts.Validate(); err != nil {
		return fmt.Errorf("invalid options: %w", err)
	}
	codec, err := protocol.CodecByName(*codecName)
	if err != nil {
		return err
	}
	script, err := parsePattern(*pattern)
	if err != nil {
		return err
	}
	log, err := logging.New(logging.Options{Level: *logLevel, Console: true, Name: "netbot"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logging.Sync(log) }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < *clients; i++ {
		b := &bot{
			name:     fmt.Sprintf("bot-%d", i+1),
			url:      *url,
			codec:    codec,
			opts:     opts,
			input:    newScriptedInput(script, *step, time.Duration(i)*(*step)/2),
			fps:      *frameRate,
			report:   *reportRate,
			tickRate: *tickRate,
			log:      log.With("bot", i+1),
		}
		g.Go(func() error { return b.run(ctx) })
	}
	err = g.Wait()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		err = nil
	}
	log.Info("netbot finished")
	return err
}

type bot struct {
	name     string
	url      string
	codec    protocol.Codec
	opts     client.Options
	input    client.InputSource
	fps      int
	report   time.Duration
	tickRate int
	log      *zap.SugaredLogger
}

func (b *bot) run(ctx context.Context) error {
	tr, err := client.Dial(ctx, b.url, b.codec, b.log)
	if err != nil {
		return fmt.Errorf("%s: %w", b.name, err)
	}
	rep := &reporter{log: b.log, every: b.report}
	c, err := client.New(client.Config{
		Options:  b.opts,
		Logger:   b.log,
		Input:    b.input,
		Sender:   tr,
		Renderer: rep,
	})
	if err != nil {
		_ = tr.Close()
		return err
	}
	rep.latency = c.Latency

	if b.tickRate > 0 {
		if err := tr.SendTickRate(b.tickRate); err != nil {
			b.log.Warnw("tick rate request failed", "err", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return tr.Run(ctx, c) })
	g.Go(func() error {
		engine.NewScheduler(c, b.fps, engine.WithSchedulerLogger(b.log)).Run(ctx, 0)
		return nil
	})
	return g.Wait()
}

// reporter 按固定间隔打印本地实体位置
type reporter struct {
	log     *zap.SugaredLogger
	every   time.Duration
	latency func() time.Duration
	last    time.Time
}

func (r *reporter) Render(local engine.EntityID, entities map[engine.EntityID]engine.Entity) {
	now := time.Now()
	if now.Sub(r.last) < r.every {
		return
	}
	r.last = now
	e := entities[local]
	r.log.Infow("position",
		"entity", local,
		"x", e.Position.X,
		"y", e.Position.Y,
		"ack", e.LastAckedSeq,
		"pending", len(e.PendingInputs),
		"visible", len(entities),
		"latency", r.latency())
}

// scriptedInput 按时间循环输出脚本中的方向
type scriptedInput struct {
	mu     sync.Mutex
	script []engine.Directions
	step   time.Duration
	start  time.Time
}

func newScriptedInput(script []engine.Directions, step, offset time.Duration) *scriptedInput {
	if step <= 0 {
		step = time.Second
	}
	return &scriptedInput{script: script, step: step, start: time.Now().Add(-offset)}
}

func (s *scriptedInput) Held() engine.Directions {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.script) == 0 {
		return engine.DirNone
	}
	i := int(time.Since(s.start)/s.step) % len(s.script)
	return s.script[i]
}

func parsePattern(p string) ([]engine.Directions, error) {
	var out []engine.Directions
	for _, entry := range strings.Split(p, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == "idle" || entry == "none" {
			out = append(out, engine.DirNone)
			continue
		}
		d, err := engine.ParseDirections(strings.Split(entry, "+"))
		if err != nil {
			return nil, fmt.Errorf("pattern entry %q: %w", entry, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, errors.New("empty pattern")
	}
	return out, nil
}
