package auth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
)

// Identity 已验证的用户身份，连接存续期间不变
type Identity struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Claims struct {
	// Go的结构体标签需要用反引号
	UserID string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email"`
	Type   string `json:"typ"`
	jwt.RegisteredClaims
}

func (c *Claims) Identity() Identity {
	return Identity{ID: c.UserID, Name: c.Name, Email: c.Email}
}

// Verifier 把客户端凭证换成身份
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// Signer 用对称密钥签发与解析 access token
type Signer struct {
	secret []byte
	ttl    time.Duration
}

func NewSigner(secret string, ttl time.Duration) *Signer {
	if secret == "" {
		secret = "dev-secret"
	}
	// 转换为字节切片（uint8[]）
	return &Signer{secret: []byte(secret), ttl: ttl}
}

func (s *Signer) SignAccessToken(id Identity) (string, time.Time, error) {
	expireAt := time.Now().Add(s.ttl)
	// jwt.NewWithClaims接收指针作为参数，需要使用&取地址
	claims := &Claims{
		UserID: id.ID,
		Name:   id.Name,
		Email:  id.Email,
		Type:   "access",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expireAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expireAt, nil
}

func (s *Signer) ParseToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenInvalidClaims
}

// JWTVerifier 本地校验
type JWTVerifier struct {
	signer *Signer
}

func NewJWTVerifier(signer *Signer) *JWTVerifier {
	return &JWTVerifier{signer: signer}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	claims, err := v.signer.ParseToken(token)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != "access" {
		return Identity{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return Identity{}, ErrInvalidToken
	}
	return claims.Identity(), nil
}
