package store

import (
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func InitMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&DocumentRecord{},
		&SnapshotRecord{},
		&CommentRecord{},
		&ActivityRecord{},
	); err != nil {
		return nil, err
	}
	return db, nil
}
