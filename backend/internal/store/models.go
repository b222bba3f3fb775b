package store

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Name         string    `gorm:"size:128" json:"name"`
	Email        string    `gorm:"size:255;uniqueIndex" json:"email"`
	PasswordHash []byte    `gorm:"not null" json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	u.Email = NormalizeEmail(u.Email)
	return nil
}

// Collaborator 文档协作者，按邮箱授权（用户可以尚未注册）
type Collaborator struct {
	DocumentID string `gorm:"primaryKey;size:36" json:"-"`
	Email      string `gorm:"primaryKey;size:255" json:"email"`
}

func (Collaborator) TableName() string { return "document_collaborators" }

// Document 画板文档。Elements 保存完整图形序列（含墓碑与 redo 缓冲）
type Document struct {
	ID            string         `gorm:"primaryKey;size:36" json:"id"`
	Title         string         `gorm:"size:255" json:"title"`
	OwnerID       string         `gorm:"size:36;index" json:"ownerId"`
	Owner         User           `gorm:"foreignKey:OwnerID" json:"owner"`
	Collaborators []Collaborator `gorm:"foreignKey:DocumentID;constraint:OnDelete:CASCADE" json:"-"`
	Elements      datatypes.JSON `json:"elements"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if len(d.Elements) == 0 {
		d.Elements = datatypes.JSON("[]")
	}
	return nil
}

// CollaboratorEmails 协作者邮箱列表
func (d *Document) CollaboratorEmails() []string {
	out := make([]string, 0, len(d.Collaborators))
	for _, c := range d.Collaborators {
		out = append(out, c.Email)
	}
	return out
}

// AuthorizedEmails 允许进入房间的邮箱集合 = 所有者邮箱 ∪ 协作者邮箱
func (d *Document) AuthorizedEmails() map[string]struct{} {
	set := make(map[string]struct{}, len(d.Collaborators)+1)
	if d.Owner.Email != "" {
		set[NormalizeEmail(d.Owner.Email)] = struct{}{}
	}
	for _, c := range d.Collaborators {
		set[NormalizeEmail(c.Email)] = struct{}{}
	}
	return set
}

// CanAccess 所有者 id 或授权邮箱均可访问
func (d *Document) CanAccess(userID, email string) bool {
	if userID != "" && userID == d.OwnerID {
		return true
	}
	_, ok := d.AuthorizedEmails()[NormalizeEmail(email)]
	return ok && email != ""
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func collaboratorsFor(docID string, emails []string) []Collaborator {
	seen := make(map[string]struct{}, len(emails))
	out := make([]Collaborator, 0, len(emails))
	for _, e := range emails {
		e = NormalizeEmail(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, Collaborator{DocumentID: docID, Email: e})
	}
	return out
}
