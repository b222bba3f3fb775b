package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"

	"drawServer/backend/config"
)

func upstream(t *testing.T, name string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		_, _ = io.WriteString(w, name+" "+r.URL.Path)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGatewayRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	api := upstream(t, "api")
	wsSrv := upstream(t, "ws")

	cfg := &config.Config{}
	cfg.Gateway.APIPath = api.URL
	cfg.Gateway.WSPath = wsSrv.URL
	cfg.WS.AllowedOrigins = []string{"http://localhost:3000"}
	r := newRouter(cfg)

	cases := []struct {
		path string
		want string
	}{
		{"/auth/sign-in", "api /auth/sign-in"},
		{"/document/all", "api /document/all"},
		{"/presence/rooms", "ws /presence/rooms"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, tc.path, nil)
		req.Header.Set("Origin", "http://localhost:3000")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, w.Code, http.StatusOK)
		assert.Equal(t, w.Body.String(), tc.want)
		// 上游的 "*" 被替换成 gateway 自己的配置
		assert.Equal(t, w.Header().Get("Access-Control-Allow-Origin"), "http://localhost:3000")
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, w.Code, http.StatusOK)
}
