package app

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"chatcore/pkg/banner"
	"chatcore/pkg/chat"
	"chatcore/pkg/config"
	"chatcore/pkg/gateway"
	"chatcore/pkg/logger"
	"chatcore/pkg/retention"
	"chatcore/pkg/state"
	"chatcore/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	addr    string
	dbPath  string
	version string

	engine  store.Engine
	svc     *chat.Service
	gw      *gateway.Gateway
	sweeper *retention.Runner
	srv     *http.Server
}

// New initializes the storage engine and chat core. It does not start the
// fanout loop or the HTTP server; call Run to start those and block until
// shutdown.
func New(cfg *config.Config, addr, dbPath, version string) (*App, error) {
	_ = godotenv.Load(".env")

	engine, err := openEngine(cfg, dbPath)
	if err != nil {
		return nil, err
	}

	svc := chat.NewService(engine, chat.Options{
		QueueCapacity: cfg.Chat.QueueCapacity,
		MaxBodyBytes:  int(cfg.Chat.MaxBodyBytes.Int64()),
	})

	onlineWindow := cfg.Presence.OnlineWindow.Duration()
	if onlineWindow <= 0 {
		onlineWindow = chat.DefaultOnlineWindow
	}
	typingTTL := cfg.Presence.TypingTTL.Duration()
	if typingTTL <= 0 {
		typingTTL = chat.DefaultTypingTTL
	}
	presence := chat.NewPresence(onlineWindow)
	typing := chat.NewTyping(typingTTL)

	gw := gateway.New(svc, presence, typing, gateway.Options{
		EventBuffer: cfg.Gateway.EventBuffer,
		SendBuffer:  cfg.Gateway.SendBuffer,
	})

	return &App{
		cfg:     cfg,
		addr:    addr,
		dbPath:  dbPath,
		version: version,
		engine:  engine,
		svc:     svc,
		gw:      gw,
		sweeper: retention.New(cfg.Retention, engine),
	}, nil
}

func openEngine(cfg *config.Config, dbPath string) (store.Engine, error) {
	switch strings.ToLower(cfg.Storage.Engine) {
	case "", "pebble":
		paths, err := state.EnsureStateDirs(dbPath)
		if err != nil {
			return nil, fmt.Errorf("data dir %s: %w", dbPath, err)
		}
		eng, err := store.OpenPebble(paths.Store)
		if err != nil {
			return nil, fmt.Errorf("failed to open pebble at %s: %w", paths.Store, err)
		}
		return eng, nil
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage engine: %s", cfg.Storage.Engine)
	}
}

// Run starts the fanout loop, retention sweeper and HTTP server, and
// blocks until ctx is canceled or a fatal server error occurs.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.addr, a.engineName(), a.dbPath, a.version)

	go a.gw.Run()

	cancelRetention, err := a.sweeper.Start(ctx)
	if err != nil {
		return err
	}
	defer cancelRetention()

	errCh := a.startHTTP(ctx)

	select {
	case <-ctx.Done():
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return err
	}
}

func (a *App) engineName() string {
	if _, ok := a.engine.(*store.Memory); ok {
		return "memory"
	}
	return "pebble"
}

func (a *App) shutdown() {
	sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.stopHTTP(sctx)
	a.gw.Stop()
	a.svc.Close()
	if err := a.engine.Close(); err != nil {
		logger.Error("engine_close_failed", "error", err)
	}
	logger.Info("shutdown_complete")
}
