package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"drawServer/backend/internal/auth"
	"drawServer/backend/internal/httpapi/middleware"
	"drawServer/backend/internal/logger"
	"drawServer/backend/internal/shape"
	"drawServer/backend/internal/store"
)

type DocumentRepo interface {
	CreateDocument(ctx context.Context, ownerID, title string, collaborators []string) (*store.Document, error)
	ListForUser(ctx context.Context, userID, email string) ([]store.Document, error)
	GetForUser(ctx context.Context, id, userID, email string) (*store.Document, error)
	UpdateDocument(ctx context.Context, id, userID, email string, upd store.DocumentUpdate) (*store.Document, error)
	DeleteDocument(ctx context.Context, id, ownerID string) error
	SaveShapes(ctx context.Context, docID string, elements []byte) error
}

type DocumentHandler struct {
	docs DocumentRepo
}

func NewDocumentHandler(docs DocumentRepo) *DocumentHandler {
	return &DocumentHandler{docs: docs}
}

// documentView 接口返回的文档结构
type documentView struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	Owner         auth.Identity   `json:"owner"`
	Collaborators []string        `json:"collaborators"`
	Elements      json.RawMessage `json:"elements,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

func viewOf(d *store.Document, withElements bool) documentView {
	v := documentView{
		ID:            d.ID,
		Title:         d.Title,
		Owner:         auth.Identity{ID: d.OwnerID, Name: d.Owner.Name, Email: d.Owner.Email},
		Collaborators: d.CollaboratorEmails(),
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
	}
	if withElements {
		v.Elements = json.RawMessage(d.Elements)
		if len(v.Elements) == 0 {
			v.Elements = json.RawMessage("[]")
		}
	}
	return v
}

// storeError 统一映射 store 层错误
func storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrDocumentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "文档不存在"})
	case errors.Is(err, store.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "没有权限"})
	case errors.Is(err, store.ErrInvalidElements):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		logger.Errorf("document request failed path=%s err=%v", c.FullPath(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "服务器内部错误"})
	}
}

type createReq struct {
	Title         string   `json:"title" binding:"required"`
	Collaborators []string `json:"collaborators"`
}

// Create POST /document/create
func (h *DocumentHandler) Create(c *gin.Context) {
	id, _ := middleware.Identity(c)
	var req createReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	doc, err := h.docs.CreateDocument(c.Request.Context(), id.ID, req.Title, req.Collaborators)
	if err != nil {
		storeError(c, err)
		return
	}
	if doc.Owner.ID == "" {
		doc.Owner = store.User{ID: id.ID, Name: id.Name, Email: id.Email}
	}
	c.JSON(http.StatusCreated, viewOf(doc, true))
}

// List GET /document/all
func (h *DocumentHandler) List(c *gin.Context) {
	id, _ := middleware.Identity(c)
	docs, err := h.docs.ListForUser(c.Request.Context(), id.ID, id.Email)
	if err != nil {
		storeError(c, err)
		return
	}
	out := make([]documentView, 0, len(docs))
	for i := range docs {
		out = append(out, viewOf(&docs[i], false))
	}
	c.JSON(http.StatusOK, gin.H{"documents": out})
}

// Get GET /document/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, _ := middleware.Identity(c)
	doc, err := h.docs.GetForUser(c.Request.Context(), c.Param("id"), id.ID, id.Email)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(doc, true))
}

// Delete DELETE /document/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, _ := middleware.Identity(c)
	if err := h.docs.DeleteDocument(c.Request.Context(), c.Param("id"), id.ID); err != nil {
		storeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type updateReq struct {
	ID    string  `json:"id" binding:"required"`
	Title *string `json:"title"`
	// 缺省表示不修改
	Collaborators *[]string `json:"collaborators"`
}

// Update POST /document/update
func (h *DocumentHandler) Update(c *gin.Context) {
	id, _ := middleware.Identity(c)
	var req updateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	upd := store.DocumentUpdate{Title: req.Title}
	if req.Collaborators != nil {
		upd.Collaborators = append([]string{}, (*req.Collaborators)...)
	}
	doc, err := h.docs.UpdateDocument(c.Request.Context(), req.ID, id.ID, id.Email, upd)
	if err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewOf(doc, false))
}

type saveReq struct {
	Elements json.RawMessage `json:"elements" binding:"required"`
}

// Save POST /document/:id/save
// elements 必须是合法的图形数组（单个对象视为一个元素）
func (h *DocumentHandler) Save(c *gin.Context) {
	id, _ := middleware.Identity(c)
	var req saveReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "JSON格式错误", "details": err.Error()})
		return
	}
	elements := bytes.TrimSpace(req.Elements)
	if len(elements) == 0 || (elements[0] != '[' && elements[0] != '{') {
		storeError(c, store.ErrInvalidElements)
		return
	}
	list, err := shape.DecodeList(elements)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid shape", "details": err.Error()})
		return
	}
	normalized, err := json.Marshal(list)
	if err != nil {
		storeError(c, err)
		return
	}

	docID := c.Param("id")
	if _, err := h.docs.GetForUser(c.Request.Context(), docID, id.ID, id.Email); err != nil {
		storeError(c, err)
		return
	}
	if err := h.docs.SaveShapes(c.Request.Context(), docID, normalized); err != nil {
		storeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": docID, "count": len(list)})
}
