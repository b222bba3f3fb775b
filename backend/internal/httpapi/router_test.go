package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/store"
)

// ---- 内存实现 ----

type memUsers struct {
	mu      sync.Mutex
	byEmail map[string]*store.User
}

func (m *memUsers) CreateUser(_ context.Context, name, email string, hash []byte) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	email = store.NormalizeEmail(email)
	if _, ok := m.byEmail[email]; ok {
		return nil, store.ErrEmailTaken
	}
	u := &store.User{ID: uuid.NewString(), Name: name, Email: email, PasswordHash: hash}
	m.byEmail[email] = u
	return u, nil
}

func (m *memUsers) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.byEmail[store.NormalizeEmail(email)]; ok {
		return u, nil
	}
	return nil, store.ErrUserNotFound
}

func (m *memUsers) GetUserByID(_ context.Context, id string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrUserNotFound
}

type memDocs struct {
	mu   sync.Mutex
	docs map[string]*store.Document
}

func (m *memDocs) CreateDocument(_ context.Context, ownerID, title string, collaborators []string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := &store.Document{ID: uuid.NewString(), Title: title, OwnerID: ownerID, Elements: datatypes.JSON("[]")}
	for _, e := range collaborators {
		d.Collaborators = append(d.Collaborators, store.Collaborator{DocumentID: d.ID, Email: store.NormalizeEmail(e)})
	}
	m.docs[d.ID] = d
	return d, nil
}

func (m *memDocs) ListForUser(_ context.Context, userID, email string) ([]store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Document
	for _, d := range m.docs {
		if d.CanAccess(userID, email) {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDocs) GetForUser(_ context.Context, id, userID, email string) (*store.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, store.ErrDocumentNotFound
	}
	if !d.CanAccess(userID, email) {
		return nil, store.ErrForbidden
	}
	cp := *d
	return &cp, nil
}

func (m *memDocs) UpdateDocument(ctx context.Context, id, userID, email string, upd store.DocumentUpdate) (*store.Document, error) {
	if _, err := m.GetForUser(ctx, id, userID, email); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.docs[id]
	if upd.Title != nil {
		d.Title = *upd.Title
	}
	if upd.Collaborators != nil {
		d.Collaborators = nil
		for _, e := range upd.Collaborators {
			d.Collaborators = append(d.Collaborators, store.Collaborator{DocumentID: id, Email: store.NormalizeEmail(e)})
		}
	}
	cp := *d
	return &cp, nil
}

func (m *memDocs) DeleteDocument(_ context.Context, id, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[id]
	if !ok {
		return store.ErrDocumentNotFound
	}
	if d.OwnerID != ownerID {
		return store.ErrForbidden
	}
	delete(m.docs, id)
	return nil
}

func (m *memDocs) SaveShapes(_ context.Context, docID string, elements []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.docs[docID]
	if !ok {
		return store.ErrDocumentNotFound
	}
	d.Elements = datatypes.JSON(elements)
	return nil
}

// ---- helpers ----

type apiClient struct {
	t *testing.T
	r *gin.Engine
}

func newAPI(t *testing.T) *apiClient {
	gin.SetMode(gin.TestMode)
	signer := auth.NewSigner("test-secret", time.Hour)
	r := NewRouter(Deps{
		Users:    &memUsers{byEmail: map[string]*store.User{}},
		Docs:     &memDocs{docs: map[string]*store.Document{}},
		Signer:   signer,
		Verifier: auth.NewJWTVerifier(signer),
	})
	return &apiClient{t: t, r: r}
}

func (a *apiClient) do(method, path, token string, body any) (int, map[string]any) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (a *apiClient) signUp(name, email string) string {
	a.t.Helper()
	code, body := a.do(http.MethodPost, "/auth/sign-up", "", map[string]any{"name": name, "email": email, "password": "secret123"})
	if code != http.StatusCreated {
		a.t.Fatalf("sign-up %s: %d %v", email, code, body)
	}
	return body["token"].(string)
}

// ---- tests ----

func TestSignUpSignInVerify(t *testing.T) {
	api := newAPI(t)
	token := api.signUp("Alice", "Alice@Example.com")

	code, _ := api.do(http.MethodPost, "/auth/sign-up", "", map[string]any{"name": "A2", "email": "alice@example.com", "password": "secret123"})
	assert.Equal(t, code, http.StatusConflict)

	code, _ = api.do(http.MethodPost, "/auth/sign-in", "", map[string]any{"email": "alice@example.com", "password": "wrong"})
	assert.Equal(t, code, http.StatusUnauthorized)

	code, body := api.do(http.MethodPost, "/auth/sign-in", "", map[string]any{"email": "alice@example.com", "password": "secret123"})
	assert.Equal(t, code, http.StatusOK)
	assert.NotEqual(t, body["token"], "")

	code, body = api.do(http.MethodPost, "/auth/verify", token, nil)
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, body["email"], "alice@example.com")
	assert.Equal(t, body["name"], "Alice")

	code, body = api.do(http.MethodGet, "/auth/user", token, nil)
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, body["name"], "Alice")

	code, _ = api.do(http.MethodPost, "/auth/verify", "bogus", nil)
	assert.Equal(t, code, http.StatusUnauthorized)
	code, _ = api.do(http.MethodGet, "/auth/user", "", nil)
	assert.Equal(t, code, http.StatusUnauthorized)
}

func TestSignUpValidation(t *testing.T) {
	api := newAPI(t)
	code, _ := api.do(http.MethodPost, "/auth/sign-up", "", map[string]any{"name": "x", "email": "not-an-email", "password": "secret123"})
	assert.Equal(t, code, http.StatusBadRequest)
	code, _ = api.do(http.MethodPost, "/auth/sign-up", "", map[string]any{"name": "x", "email": "x@example.com", "password": "123"})
	assert.Equal(t, code, http.StatusBadRequest)
}

func TestDocumentLifecycleAndAccess(t *testing.T) {
	api := newAPI(t)
	owner := api.signUp("Owner", "owner@example.com")
	bob := api.signUp("Bob", "bob@example.com")
	eve := api.signUp("Eve", "eve@example.com")

	code, doc := api.do(http.MethodPost, "/document/create", owner, map[string]any{"title": "Board", "collaborators": []string{"BOB@example.com"}})
	assert.Equal(t, code, http.StatusCreated)
	id := doc["id"].(string)
	assert.Equal(t, doc["collaborators"], []any{"bob@example.com"})
	assert.Equal(t, doc["elements"], []any{})

	code, list := api.do(http.MethodGet, "/document/all", bob, nil)
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, len(list["documents"].([]any)), 1)

	code, _ = api.do(http.MethodGet, "/document/"+id, eve, nil)
	assert.Equal(t, code, http.StatusForbidden)
	code, _ = api.do(http.MethodGet, "/document/missing", bob, nil)
	assert.Equal(t, code, http.StatusNotFound)

	// 协作者可以保存，单个对象视为一个元素
	code, _ = api.do(http.MethodPost, "/document/"+id+"/save", bob, map[string]any{
		"elements": map[string]any{"id": 1, "type": "rect", "x": 0, "y": 0, "width": 5, "height": 5, "color": "red"},
	})
	assert.Equal(t, code, http.StatusOK)
	code, got := api.do(http.MethodGet, "/document/"+id, bob, nil)
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, len(got["elements"].([]any)), 1)

	code, _ = api.do(http.MethodPost, "/document/"+id+"/save", bob, map[string]any{"elements": "nope"})
	assert.Equal(t, code, http.StatusBadRequest)
	code, _ = api.do(http.MethodPost, "/document/"+id+"/save", bob, map[string]any{"elements": []any{map[string]any{"id": 2, "type": "blob"}}})
	assert.Equal(t, code, http.StatusBadRequest)

	title := "Renamed"
	code, upd := api.do(http.MethodPost, "/document/update", bob, map[string]any{"id": id, "title": title})
	assert.Equal(t, code, http.StatusOK)
	assert.Equal(t, upd["title"], title)

	// 只有所有者可以删除
	code, _ = api.do(http.MethodDelete, "/document/"+id, bob, nil)
	assert.Equal(t, code, http.StatusForbidden)
	code, _ = api.do(http.MethodDelete, "/document/"+id, owner, nil)
	assert.Equal(t, code, http.StatusNoContent)
	code, _ = api.do(http.MethodGet, "/document/"+id, owner, nil)
	assert.Equal(t, code, http.StatusNotFound)
}

func TestDocumentRoutesRequireAuth(t *testing.T) {
	api := newAPI(t)
	code, _ := api.do(http.MethodGet, "/document/all", "", nil)
	assert.Equal(t, code, http.StatusUnauthorized)
}
