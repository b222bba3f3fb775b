package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-sql-driver/mysql"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrUserNotFound     = errors.New("user not found")
	ErrEmailTaken       = errors.New("email already taken")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidElements  = errors.New("elements must be a JSON array")
)

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, 3*time.Second)
}

func isDuplicate(err error) bool {
	// 1062 = duplicate key
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == 1062
}

type DocumentStore struct{ db *gorm.DB }

func NewDocumentStore(db *gorm.DB) *DocumentStore {
	return &DocumentStore{db: db}
}

// FindDocumentByID 带出所有者与协作者；不存在返回 ErrDocumentNotFound
func (s *DocumentStore) FindDocumentByID(ctx context.Context, id string) (*Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var doc Document
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Preload("Collaborators").
		Where("id = ?", id).
		First(&doc).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return &doc, nil
}

// SaveShapes 整块覆盖 elements（last write wins）
func (s *DocumentStore) SaveShapes(ctx context.Context, docID string, elements []byte) error {
	if !json.Valid(elements) {
		return ErrInvalidElements
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	res := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ?", docID).
		Update("elements", datatypes.JSON(elements))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *DocumentStore) CreateDocument(ctx context.Context, ownerID, title string, collaborators []string) (*Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	doc := &Document{OwnerID: ownerID, Title: title}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Owner", "Collaborators").Create(doc).Error; err != nil {
			return err
		}
		doc.Collaborators = collaboratorsFor(doc.ID, collaborators)
		if len(doc.Collaborators) == 0 {
			return nil
		}
		return tx.Create(&doc.Collaborators).Error
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListForUser 自己拥有或被邀请协作的文档
func (s *DocumentStore) ListForUser(ctx context.Context, userID, email string) ([]Document, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var docs []Document
	sub := s.db.Model(&Collaborator{}).Select("document_id").Where("email = ?", NormalizeEmail(email))
	err := s.db.WithContext(ctx).
		Preload("Owner").
		Preload("Collaborators").
		Where("owner_id = ?", userID).
		Or("id IN (?)", sub).
		Order("updated_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *DocumentStore) GetForUser(ctx context.Context, id, userID, email string) (*Document, error) {
	doc, err := s.FindDocumentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.CanAccess(userID, email) {
		return nil, ErrForbidden
	}
	return doc, nil
}

type DocumentUpdate struct {
	Title *string
	// nil 表示不修改协作者
	Collaborators []string
}

func (s *DocumentStore) UpdateDocument(ctx context.Context, id, userID, email string, upd DocumentUpdate) (*Document, error) {
	doc, err := s.GetForUser(ctx, id, userID, email)
	if err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if upd.Title != nil {
			if err := tx.Model(&Document{}).Where("id = ?", id).Update("title", *upd.Title).Error; err != nil {
				return err
			}
			doc.Title = *upd.Title
		}
		if upd.Collaborators != nil {
			if err := tx.Where("document_id = ?", id).Delete(&Collaborator{}).Error; err != nil {
				return err
			}
			doc.Collaborators = collaboratorsFor(id, upd.Collaborators)
			if len(doc.Collaborators) > 0 {
				if err := tx.Create(&doc.Collaborators).Error; err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteDocument 仅所有者可以删除
func (s *DocumentStore) DeleteDocument(ctx context.Context, id, ownerID string) error {
	doc, err := s.FindDocumentByID(ctx, id)
	if err != nil {
		return err
	}
	if doc.OwnerID != ownerID {
		return ErrForbidden
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("document_id = ?", id).Delete(&Collaborator{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&Document{}).Error
	})
}
