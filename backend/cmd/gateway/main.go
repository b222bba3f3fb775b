package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"
	"github.com/gin-gonic/gin"

	"drawServer/backend/config"
	"drawServer/backend/internal/httpapi"
	"drawServer/backend/internal/logger"
)

var buildVersion = "dev"

const usage = `drawServer gateway: reverse proxy in front of the api and ws servers.

Usage:
  gateway [--config=<path>]
  gateway -h | --help
  gateway --version

Options:
  -h --help         Show this screen.
  --version         Show version.
  --config=<path>   Config file; default searches ./backend/config, ./config and . for config.yaml.
`

func newProxy(target string) *httputil.ReverseProxy {
	u, err := url.Parse(target)
	if err != nil || u.Host == "" {
		logger.Fatalf("invalid upstream %q: %v", target, err)
	}
	p := httputil.NewSingleHostReverseProxy(u)
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Warnf("upstream %s error path=%s err=%v", target, r.URL.Path, err)
		w.WriteHeader(http.StatusBadGateway)
	}
	// 跨域头统一由 gateway 设置，去掉上游返回的
	p.ModifyResponse = func(resp *http.Response) error {
		for k := range resp.Header {
			if strings.HasPrefix(k, "Access-Control-") {
				resp.Header.Del(k)
			}
		}
		return nil
	}
	return p
}

func newRouter(cfg *config.Config) *gin.Engine {
	apiProxy := newProxy(cfg.Gateway.APIPath)
	wsProxy := newProxy(cfg.Gateway.WSPath)
	forward := func(p *httputil.ReverseProxy) gin.HandlerFunc {
		return func(c *gin.Context) { p.ServeHTTP(c.Writer, c.Request) }
	}

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// CORS 只加在 HTTP 接口上，websocket 的来源校验由 ws 服务负责
	api := r.Group("/", httpapi.CORS(cfg.WS.AllowedOrigins))
	api.Any("/auth/*any", forward(apiProxy))
	api.Any("/document/*any", forward(apiProxy))
	api.Any("/presence/*any", forward(wsProxy))

	r.GET("/ws", func(c *gin.Context) {
		logger.Debugf("ws proxy: %s", c.Request.URL.Path)
		wsProxy.ServeHTTP(c.Writer, c.Request)
	})
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

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
	_ = logger.SetLevel(cfg.Log.Level)
	defer logger.Sync()

	r := newRouter(cfg)
	logger.Infof("gateway listening on :%d api=%s ws=%s", cfg.Gateway.Port, cfg.Gateway.APIPath, cfg.Gateway.WSPath)
	if err := r.Run(":" + strconv.Itoa(cfg.Gateway.Port)); err != nil {
		logger.Fatalf("gateway stopped: %v", err)
	}
}
