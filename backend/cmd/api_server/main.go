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

	"github.com/docopt/docopt-go"

	"drawServer/backend/config"
	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/httpapi"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/store"
)

var buildVersion = "dev"

const usage = `drawServer HTTP API server (auth + documents).

Usage:
  api_server [--config=<path>] [--port=<port>]
  api_server -h | --help
  api_server --version

Options:
  -h --help         Show this screen.
  --version         Show version.
  --config=<path>   Config file; default searches ./backend/config, ./config and . for config.yaml.
  --port=<port>     Listen port; default running.port + 1.
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
	port, _ := opts.Int("--port")

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Fatalf("init config failed: %v", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warnf("invalid log level %q, keep info", cfg.Log.Level)
	}
	defer logger.Sync()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Fatalf("init mysql failed: %v", err)
	}
	if err := store.AutoMigrate(db); err != nil {
		logger.Fatalf("migrate failed: %v", err)
	}

	signer := auth.NewSigner(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	r := httpapi.NewRouter(httpapi.Deps{
		Users:          store.NewUserStore(db),
		Docs:           store.NewDocumentStore(db),
		Signer:         signer,
		Verifier:       auth.NewJWTVerifier(signer),
		AllowedOrigins: cfg.WS.AllowedOrigins,
	})

	listen := port
	if listen == 0 {
		listen = cfg.Running.Port + 1
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", listen),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		logger.Infof("api server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("listen failed: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
