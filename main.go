package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"netsync/engine"
	"netsync/logging"
	"netsync/server"
)

// netsync 服务端入口：启动 HTTP + WebSocket 服务，并初始化房间管理器
func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	defaults := server.DefaultSettings()
	var (
		addr      string
		logFile   string
		logLevel  string
		staticDir string
		settings  = defaults
	)
	flag.StringVar(&addr, "addr", ":8080", "server listen address, e.g. :8080")
	flag.StringVar(&logFile, "log", "app.log", "rolling log file path (empty logs to stderr)")
	flag.StringVar(&logLevel, "log-level", "debug", "log level: debug, info, warn, error")
	flag.StringVar(&staticDir, "static", "web", "directory served at /")
	flag.IntVar(&settings.TickRate, "tick-rate", defaults.TickRate, "authoritative ticks per second")
	flag.IntVar(&settings.FrameRate, "frame-rate", defaults.FrameRate, "host callback rate driving the scheduler")
	flag.IntVar(&settings.InputDelayMs, "input-delay", defaults.InputDelayMs, "simulated inbound network delay in ms")
	flag.IntVar(&settings.SnapshotDelayMs, "snapshot-delay", defaults.SnapshotDelayMs, "simulated outbound network delay in ms")
	flag.Float64Var(&settings.SimulateDropProb, "drop-prob", defaults.SimulateDropProb, "simulated inbound input loss probability in [0,1]")
	flag.IntVar(&settings.MaxInputsPerTick, "max-inputs-per-tick", defaults.MaxInputsPerTick, "inputs applied per tick (0 is unlimited)")
	flag.IntVar(&settings.InputCapacity, "input-capacity", defaults.InputCapacity, "input queue capacity per room")
	flag.BoolVar(&settings.Diagnostics, "diagnostics", defaults.Diagnostics, "log measured tick rate")
	flag.Parse()

	if err := settings.Validate(); err != nil {
		return fmt.Errorf("invalid settings: %w", err)
	}
	// 使用第三方 zap 日志库写入日志文件（带滚动）
	log, err := logging.New(logging.Options{FilePath: logFile, Level: logLevel, Console: true, Name: "netsync"})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)

	rm := server.NewRoomManager(ctx, settings, log, engine.SystemClock)
	// 先预创建一个默认房间，便于快速试跑
	if _, err := rm.GetOrCreateRoom(server.DefaultRoomID); err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rm.HandleWS)
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	// 管理与监控接口
	mux.HandleFunc("/admin/config", rm.HandleAdminConfig)
	mux.HandleFunc("/metrics", rm.HandleMetrics)
	mux.HandleFunc("/schema", server.HandleSchema)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g.Go(func() error {
		log.Infof("netsync listening on %s; open http://localhost%v/", addr, addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	// 优雅退出（Ctrl+C）
	g.Go(func() error {
		<-ctx.Done()
		log.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(rm.Wait)

	err = g.Wait()
	return multierr.Append(err, ignoreSyncError(logging.Sync(log)))
}

// stderr 等设备不支持 fsync，忽略该类错误
func ignoreSyncError(err error) error {
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}
