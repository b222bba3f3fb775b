package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/docopt/docopt-go"
	"github.com/gin-gonic/gin"
	redis "github.com/redis/go-redis/v9"

	"drawServer/backend/config"
	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/cache"
	"drawServer/backend/internal/collab"
	"drawServer/backend/internal/httpapi/handlers"
	"drawServer/backend/internal/httpapi/middleware"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/relay"
	"drawServer/backend/internal/store"
	"drawServer/backend/internal/ws"
)

var buildVersion = "dev"

const usage = `drawServer websocket server.

Usage:
  ws_server [--config=<path>]
  ws_server -h | --help
  ws_server --version

Options:
  -h --help         Show this screen.
  --version         Show version.
  --config=<path>   Config file; default searches ./backend/config, ./config and . for config.yaml.
`

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load("config")
}

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], buildVersion)
	if err != nil {
		logger.Fatalf("parse args: %v", err)
	}
	configPath, _ := opts.String("--config")

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatalf("init config failed: %v", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warnf("invalid log level %q, keep info", cfg.Log.Level)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// === MySQL ===
	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Fatalf("init mysql failed: %v", err)
	}
	documentStore := store.NewDocumentStore(db)
	debouncer := collab.NewDebouncer(documentStore, cfg.WS.SaveDebounce)

	opt := ws.HubOptions{
		Docs:         documentStore,
		Saver:        debouncer,
		LoadSem:      collab.NewSemaphoreControl(cfg.WS.LoadConcurrency),
		PingInterval: cfg.WS.PingInterval,
	}

	// === Redis：在线成员 + 多实例转发，可选 ===
	var rl *relay.Relay
	if cfg.Redis.Addr != "" {
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Warnf("redis unavailable, presence and relay disabled: %v", err)
			_ = rdb.Close()
		} else {
			defer rdb.Close()
			opt.Presence = cache.NewRedisPresence(rdb)
			rl = relay.New(rdb)
			opt.Publisher = rl
		}
	}

	// === Kafka：图形事件流，可选 ===
	var dispatcher *collab.KafkaDispatcher
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			logger.Warnf("kafka unavailable, shape events disabled: %v", err)
		} else {
			defer producer.Close()
			dispatcher = collab.NewKafkaDispatcher(producer, cfg.Kafka.Topic,
				collab.NewSemaphoreControl(collab.DefaultSemaphore), collab.DefaultKafkaDispatcherOptions())
			opt.Events = dispatcher
		}
	}

	// === 鉴权：配置了 auth.path 就走 api 服务，否则本地验签 ===
	var verifier auth.Verifier
	if cfg.Auth.Path != "" {
		verifier = auth.NewRemoteVerifier(cfg.Auth.Path)
	} else {
		verifier = auth.NewJWTVerifier(auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL))
	}

	hub := ws.NewHub(opt)
	go hub.Run(ctx)
	if rl != nil {
		go func() {
			if err := rl.Subscribe(ctx, hub); err != nil {
				logger.Errorf("relay subscribe stopped: %v", err)
			}
		}()
	}

	manager := ws.NewManager(hub, verifier, ws.ManagerOptions{
		AllowedOrigins:  cfg.WS.AllowedOrigins,
		SendQueue:       cfg.WS.SendQueue,
		MaxMessageBytes: cfg.WS.MaxMessageBytes,
	})

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.GET("/ws", manager.WebSocketConnect)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "stats": hub.Stats()})
	})
	if opt.Presence != nil {
		ph := handlers.NewPresenceHandler(opt.Presence)
		presence := r.Group("/presence", middleware.RequireAuth(verifier))
		presence.GET("/rooms", ph.Rooms)
		presence.GET("/:roomId", ph.Members)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Infof("ws server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// 升级后的连接不受 Shutdown 管理，hub 停止后由进程退出关闭
	_ = srv.Shutdown(shutdownCtx)

	// hub 完全停下后再关闭下游，避免向已关闭的队列投递
	<-hub.Done()
	// 把还没落库的画板写完
	debouncer.Close()
	if dispatcher != nil {
		dispatcher.Close()
	}
}
