package store

import (
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open mysql")
	}
	return db, nil
}

// AutoMigrate 建表：users / documents / document_collaborators
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&User{}, &Document{}, &Collaborator{}); err != nil {
		return errors.Wrap(err, "auto migrate")
	}
	return nil
}
