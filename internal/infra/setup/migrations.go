package setup

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"collaborative-sketchpad/internal/domain"
)

// MigrateDB 迁移全部模型。MySQL 下显式指定 InnoDB + utf8mb4，
// 以便 varchar(191) 的唯一索引不超过索引长度限制。
func MigrateDB(db *gorm.DB) error {
	if db == nil {
		return fmt.Errorf("cannot migrate database with nil DB connection")
	}
	if db.Dialector.Name() == DriverMySQL {
		db = db.Set("gorm:table_options", "ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_general_ci")
	}
	err := db.AutoMigrate(
		&domain.User{},
		&domain.Sketchpad{},
		&domain.StrokeRecord{},
	)
	if err != nil {
		logrus.Errorf("Failed to auto-migrate tables: %v", err)
		return fmt.Errorf("failed to auto-migrate tables: %w", err)
	}
	logrus.Info("Database migration completed successfully")
	return nil
}
