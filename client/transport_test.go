package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"netsync/engine"
	"netsync/protocol"
	"netsync/server"
)

func startServer(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	settings := server.DefaultSettings()
	settings.TickRate = 60
	settings.FrameRate = 240
	rm := server.NewRoomManager(ctx, settings, nil, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rm.HandleWS)
	srv := httptest.NewServer(mux)
	t.Cleanup(func() {
		srv.Close()
		cancel()
		_ = rm.Wait()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?room=transport"
}

func TestWithCodec(t *testing.T) {
	cases := map[string]string{
		"ws://h/ws":                      "ws://h/ws?codec=json",
		"ws://h/ws?room=a":               "ws://h/ws?room=a&codec=json",
		"ws://h/ws?room=a&codec=msgpack": "ws://h/ws?room=a&codec=msgpack",
	}
	for in, want := range cases {
		if got := withCodec(in, "json"); got != want {
			t.Fatalf("withCodec(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTransportPredictsAndConverges(t *testing.T) {
	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			url := startServer(t)
			codec, err := protocol.CodecByName(name)
			if err != nil {
				t.Fatal(err)
			}
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			tr, err := Dial(ctx, url, codec, nil)
			if err != nil {
				t.Fatal(err)
			}
			keys := &HeldKeys{}
			frames := make(chan engine.Entity, 256)
			c, err := New(Config{
				Options: DefaultOptions(),
				Input:   keys,
				Sender:  tr,
				Renderer: RendererFunc(func(local engine.EntityID, entities map[engine.EntityID]engine.Entity) {
					select {
					case frames <- entities[local]:
					default:
					}
				}),
			})
			if err != nil {
				t.Fatal(err)
			}
			runErr := make(chan error, 1)
			go func() { runErr <- tr.Run(ctx, c) }()

			sched := engine.NewScheduler(c, 60)
			go sched.Run(ctx, 4*time.Millisecond)

			keys.Press(engine.DirRight)
			deadline := time.After(5 * time.Second)
		wait:
			for {
				select {
				case e := <-frames:
					if e.LastAckedSeq >= 3 {
						keys.Release(engine.DirRight)
						break wait
					}
				case <-deadline:
					t.Fatalf("server never acknowledged predicted inputs")
				}
			}
			if reg, ok := tr.Registered(); !ok || reg.Room != "transport" {
				t.Fatalf("unexpected registration %+v ok=%v", reg, ok)
			}

			// once inputs stop, prediction and the authoritative position agree
			var last engine.Entity
			settle := time.After(500 * time.Millisecond)
		drain:
			for {
				select {
				case last = <-frames:
				case <-settle:
					break drain
				}
			}
			if len(last.PendingInputs) != 0 {
				t.Fatalf("expected every input acknowledged, pending %+v", last.PendingInputs)
			}
			if last.Position.X <= 50 || last.Position.Y != 50 {
				t.Fatalf("expected entity moved right, got %+v", last.Position)
			}

			cancel()
			select {
			case err := <-runErr:
				if err != nil {
					t.Fatalf("transport run: %v", err)
				}
			case <-time.After(2 * time.Second):
				t.Fatalf("transport did not stop")
			}
		})
	}
}
