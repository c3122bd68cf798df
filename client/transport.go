package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"netsync/engine"
	"netsync/logging"
	"netsync/protocol"
)

const (
	writeWait     = 5 * time.Second
	latencyPeriod = time.Second
)

// Handler 接收服务端消息的一方（通常是 *Client）
type Handler interface {
	OnRegistered(e engine.Entity)
	OnSnapshot(s engine.Snapshot) bool
	OnLatency(p protocol.LatencyProbe)
}

// Transport 客户端 WebSocket 连接：读协程分发消息，写操作串行化
type Transport struct {
	ws    *websocket.Conn
	codec protocol.Codec
	log   *zap.SugaredLogger

	writeMu sync.Mutex

	regMu      sync.Mutex
	registered *protocol.Registered

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// Dial 连接服务端，url 形如 ws://host/ws?room=room-1，codec 会追加到查询参数
func Dial(ctx context.Context, url string, codec protocol.Codec, log *zap.SugaredLogger) (*Transport, error) {
	if codec == nil {
		codec = protocol.JSONCodec{}
	}
	if log == nil {
		log = logging.Nop()
	}
	ws, _, err := websocket.DefaultDialer.DialContext(ctx, withCodec(url, codec.Name()), nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &Transport{ws: ws, codec: codec, log: log}, nil
}

func withCodec(url, name string) string {
	if strings.Contains(url, "codec=") {
		return url
	}
	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	return url + sep + "codec=" + name
}

// Registered 服务端返回的注册信息，尚未注册时为 false
func (t *Transport) Registered() (protocol.Registered, bool) {
	t.regMu.Lock()
	defer t.regMu.Unlock()
	if t.registered == nil {
		return protocol.Registered{}, false
	}
	return *t.registered, true
}

// SendInput 实现 Sender
func (t *Transport) SendInput(in engine.Input) error {
	return t.send(protocol.TypeInput, in)
}

// SendTickRate 请求服务端修改 Tick 频率
func (t *Transport) SendTickRate(rate int) error {
	return t.send(protocol.TypeTickRate, protocol.TickRateChange{TickRate: rate})
}

// SendLatencyProbe 发送一次延迟探测
func (t *Transport) SendLatencyProbe(now time.Time) error {
	return t.send(protocol.TypeLatency, protocol.LatencyProbe{Timestamp: engine.UnixMillis(now)})
}

func (t *Transport) send(msgType string, payload any) error {
	b, err := protocol.Encode(t.codec, msgType, payload)
	if err != nil {
		return err
	}
	frame := websocket.TextMessage
	if t.codec.Binary() {
		frame = websocket.BinaryMessage
	}
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = t.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := t.ws.WriteMessage(frame, b); err != nil {
		return fmt.Errorf("write %s: %w", msgType, err)
	}
	return nil
}

// Run 读取消息交给 h，并每秒发送延迟探测，直到 ctx 结束或连接断开
func (t *Transport) Run(ctx context.Context, h Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		if err := t.Close(); err != nil {
			t.log.Debugw("close failed", "err", err)
		}
		return nil
	})
	g.Go(func() error {
		// 连接断开时结束探测协程
		defer cancel()
		return t.readLoop(h)
	})
	g.Go(func() error {
		tick := time.NewTicker(latencyPeriod)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case now := <-tick.C:
				if err := t.SendLatencyProbe(now); err != nil {
					t.log.Debugw("latency probe failed", "err", err)
				}
			}
		}
	})
	return g.Wait()
}

func (t *Transport) readLoop(h Handler) error {
	for {
		_, data, err := t.ws.ReadMessage()
		if err != nil {
			if t.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || errors.Is(err, websocket.ErrCloseSent) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		t.dispatch(h, data)
	}
}

func (t *Transport) dispatch(h Handler, data []byte) {
	msgType, err := t.codec.PeekType(data)
	if err != nil {
		t.log.Debugw("bad message", "err", err)
		return
	}
	switch msgType {
	case protocol.TypeRegistered:
		reg, err := protocol.DecodePayload[protocol.Registered](t.codec, data)
		if err != nil {
			t.log.Warnw("bad registration", "err", err)
			return
		}
		t.regMu.Lock()
		t.registered = &reg
		t.regMu.Unlock()
		h.OnRegistered(reg.Entity)
	case protocol.TypeSnapshot:
		snap, err := protocol.DecodePayload[engine.Snapshot](t.codec, data)
		if err != nil {
			t.log.Debugw("bad snapshot", "err", err)
			return
		}
		if !h.OnSnapshot(snap) {
			t.log.Debugw("snapshot dropped", "time", snap.Time)
		}
	case protocol.TypeLatency:
		probe, err := protocol.DecodePayload[protocol.LatencyProbe](t.codec, data)
		if err != nil {
			t.log.Debugw("bad latency probe", "err", err)
			return
		}
		h.OnLatency(probe)
	default:
		t.log.Debugw("unknown message type", "type", msgType)
	}
}

// Close 发送关闭帧并断开连接，可重复调用
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.writeMu.Lock()
		err := t.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		t.writeMu.Unlock()
		if errors.Is(err, websocket.ErrCloseSent) {
			err = nil
		}
		t.closeErr = multierr.Append(err, t.ws.Close())
	})
	return t.closeErr
}
