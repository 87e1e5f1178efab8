package db

import (
	"fmt"

	"gorm.io/gorm"

	domain "github.com/yungbote/curriculumgen/internal/domain/generation"
)

func AutoMigrateAll(db *gorm.DB) error {
	if err := db.AutoMigrate(domain.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
