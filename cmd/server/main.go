package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/pflag"

	"github.com/SteamVC/pairchat/internal/config"
	"github.com/SteamVC/pairchat/internal/handlers"
	httpx "github.com/SteamVC/pairchat/internal/http"
	"github.com/SteamVC/pairchat/internal/identity"
	"github.com/SteamVC/pairchat/internal/metrics"
	"github.com/SteamVC/pairchat/internal/presence"
	"github.com/SteamVC/pairchat/internal/repo"
	"github.com/SteamVC/pairchat/internal/roomstore"
	"github.com/SteamVC/pairchat/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// .env が無くてもエラーにしない
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("pairchat", pflag.ExitOnError)
	flags := config.NewFlags(fs)
	_ = fs.Parse(os.Args[1:])

	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return err
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clockwork.NewRealClock()
	m := metrics.New()
	store := roomstore.New(clk)
	ids := identity.NewRegistry(clk)
	hub := handlers.NewHub(logger, m)

	// REDIS_ADDR が設定されている場合だけルームディレクトリを Redis に反映する
	var dir *repo.AsyncDirectory
	if cfg.RedisAddr != "" {
		rdb, err := repo.Connect(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		logger.Info("connected to redis", "addr", cfg.RedisAddr)
		dir = repo.NewAsyncDirectory(repo.NewRedisRoomDirectory(rdb), cfg.RoomTTL.Duration(), 256, logger)
		defer dir.Close()
	}

	chat := service.NewChatService(service.Deps{
		Store:     store,
		Identity:  ids,
		Typing:    presence.NewTracker(),
		Clock:     clk,
		Notifier:  hub,
		Metrics:   m,
		Directory: dir,
		Logger:    logger,
	}, service.Options{
		SettleDelay: cfg.SettleDelay.Duration(),
		RejoinDelay: cfg.RejoinDelay.Duration(),
		IdentityTTL: cfg.IdentityTTL.Duration(),
	})
	rooms := service.NewRoomService(store, service.NewRoomCodeGenerator())

	m.Gauge("rooms", "Active rooms.", store.Len)
	m.Gauge("identities", "Identity profiles held in memory.", ids.Len)
	m.Gauge("connections", "Open WebSocket connections.", hub.Len)
	m.Gauge("scheduled_tasks", "Pending delivery status timers.", chat.Scheduled)

	reaper := &roomstore.Reaper{
		Store:   store,
		Clock:   clk,
		Cron:    cfg.ReapCron,
		TTL:     cfg.RoomTTL.Duration(),
		Logger:  logger,
		OnSweep: chat.OnSweep,
	}
	go reaper.Run(ctx)

	ws := handlers.NewWebSocketHandler(chat, hub, handlers.NewValidator(), handlers.GatewayConfig{
		AllowedOrigins:  cfg.AllowedOrigins,
		MaxMessageBytes: cfg.MaxMessageBytes.Int64(),
		SendQueue:       cfg.SendQueue,
		RateRPS:         cfg.RateRPS,
		RateBurst:       cfg.RateBurst,
	}, logger, m)
	router := httpx.NewRouter(handlers.NewRoomHandler(rooms, logger), ws, m.Handler(), cfg.AllowedOrigins)

	srv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// サーバーを別goroutineで起動
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.APIAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// シャットダウンシグナルを待つ
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, shutting down gracefully...")
	case err := <-errCh:
		return err
	}

	// 30秒のタイムアウトでGraceful Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	// WebSocket 接続は Shutdown の対象外なので、ディレクトリや Redis を閉じる前に切断しておく
	if err := hub.CloseAll(shutdownCtx); err != nil {
		logger.Error("websocket shutdown error", "error", err, "connections", hub.Len())
	}

	logger.Info("server stopped")
	return nil
}
