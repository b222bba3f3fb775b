package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrUpstream = errors.New("auth upstream error")

// RemoteVerifier 调用 api 服务的 /auth/verify 校验 token（多实例部署时只在一处持有密钥）
type RemoteVerifier struct {
	client    *http.Client
	verifyURL string
}

// authBaseURL 不要带路径，例如 http://localhost:8081
func NewRemoteVerifier(authBaseURL string) *RemoteVerifier {
	return &RemoteVerifier{
		client:    &http.Client{Timeout: 1200 * time.Millisecond},
		verifyURL: strings.TrimRight(authBaseURL, "/") + "/auth/verify",
	}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrMissingToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, bytes.NewReader([]byte("{}")))
	if err != nil {
		return Identity{}, errors.Wrap(err, "build verify request")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		// 这里包含超时：context deadline exceeded
		return Identity{}, errors.Wrap(ErrUpstream, err.Error())
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		return Identity{}, ErrInvalidToken
	default:
		return Identity{}, errors.Wrapf(ErrUpstream, "verify status %d", resp.StatusCode)
	}

	var id Identity
	if err := json.NewDecoder(resp.Body).Decode(&id); err != nil {
		return Identity{}, errors.Wrap(ErrUpstream, "invalid verify response")
	}
	if id.ID == "" {
		return Identity{}, ErrInvalidToken
	}
	return id, nil
}

// ExtractBearer 处理 "Bearer" 前缀（大小写不敏感）
func ExtractBearer(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
