package store

import (
	"context"
	"errors"

	"gorm.io/gorm"
)

type UserStore struct{ db *gorm.DB }

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

func (s *UserStore) CreateUser(ctx context.Context, name, email string, passwordHash []byte) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	u := &User{Name: name, Email: email, PasswordHash: passwordHash}
	if err := s.db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicate(err) || errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrEmailTaken
		}
		return nil, err
	}
	return u, nil
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	return s.first(ctx, "email = ?", NormalizeEmail(email))
}

func (s *UserStore) GetUserByID(ctx context.Context, id string) (*User, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *UserStore) first(ctx context.Context, query string, arg any) (*User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	var u User
	if err := s.db.WithContext(ctx).Where(query, arg).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}
