package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/httpapi/middleware"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/store"
)

type UserRepo interface {
	CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

type AuthHandler struct {
	users  UserRepo
	signer *auth.Signer
}

func NewAuthHandler(users UserRepo, signer *auth.Signer) *AuthHandler {
	return &AuthHandler{users: users, signer: signer}
}

type signUpReq struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}

type signInReq struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func identityOf(u *store.User) auth.Identity {
	return auth.Identity{ID: u.ID, Name: u.Name, Email: u.Email}
}

// issue 签发 token 并按统一格式返回
func (h *AuthHandler) issue(c *gin.Context, status int, u *store.User) {
	token, expireAt, err := h.signer.SignAccessToken(identityOf(u))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成访问令牌失败"})
		return
	}
	c.JSON(status, gin.H{
		"token":     token,
		"tokenType": "Bearer",
		"expiresAt": expireAt.Unix(),
		"user":      identityOf(u),
	})
}

// SignUp POST /auth/sign-up
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req signUpReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "生成密码哈希失败"})
		return
	}
	u, err := h.users.CreateUser(c.Request.Context(), req.Name, req.Email, hash)
	if err != nil {
		if errors.Is(err, store.ErrEmailTaken) {
			c.JSON(http.StatusConflict, gin.H{"error": "邮箱已被注册"})
			return
		}
		logger.Errorf("create user failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "创建用户失败"})
		return
	}
	h.issue(c, http.StatusCreated, u)
}

// SignIn POST /auth/sign-in
func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	u, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "邮箱或密码错误"})
			return
		}
		logger.Errorf("get user failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取用户失败"})
		return
	}
	if err := bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(req.Password)); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "邮箱或密码错误"})
		return
	}
	h.issue(c, http.StatusOK, u)
}

// User GET /auth/user
func (h *AuthHandler) User(c *gin.Context) {
	id, _ := middleware.Identity(c)
	u, err := h.users.GetUserByID(c.Request.Context(), id.ID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "用户不存在"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "获取用户失败"})
		return
	}
	c.JSON(http.StatusOK, identityOf(u))
}

// Verify POST /auth/verify
// 成功 200 + Identity，失败 401；ws 服务的 RemoteVerifier 调用这里
func (h *AuthHandler) Verify(c *gin.Context) {
	token := auth.ExtractBearer(c.GetHeader("Authorization"))
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header"})
		return
	}
	id, err := auth.NewJWTVerifier(h.signer).Verify(c.Request.Context(), token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, id)
}
