package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/httpapi/handlers"
	"drawServer/backend/internal/httpapi/middleware"
)

type Deps struct {
	Users    handlers.UserRepo
	Docs     handlers.DocumentRepo
	Signer   *auth.Signer
	Verifier auth.Verifier
	// 为空时允许任意来源
	AllowedOrigins []string
}

// CORS 与 gateway 共用的跨域配置
func CORS(allowed []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(allowed) == 0 || (len(allowed) == 1 && allowed[0] == "*") {
		cfg.AllowOriginFunc = func(string) bool { return true }
	} else {
		cfg.AllowOrigins = allowed
	}
	return cors.New(cfg)
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery(), CORS(d.AllowedOrigins))

	authH := handlers.NewAuthHandler(d.Users, d.Signer)
	docH := handlers.NewDocumentHandler(d.Docs)
	requireAuth := middleware.RequireAuth(d.Verifier)

	a := r.Group("/auth")
	a.POST("/sign-up", authH.SignUp)
	a.POST("/sign-in", authH.SignIn)
	a.POST("/verify", authH.Verify)
	a.GET("/user", requireAuth, authH.User)

	doc := r.Group("/document", requireAuth)
	doc.POST("/create", docH.Create)
	doc.GET("/all", docH.List)
	doc.POST("/update", docH.Update)
	doc.GET("/:id", docH.Get)
	doc.DELETE("/:id", docH.Delete)
	doc.POST("/:id/save", docH.Save)

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}
