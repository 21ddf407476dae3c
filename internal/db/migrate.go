package db

import (
	"context"
	"fmt"

	"github.com/sirdesai22/dlq-service/internal/models"
	"gorm.io/gorm"
)

// Migrate creates the dead_letter_queue table and its indexes. It is safe to
// call on every start.
func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(&models.Entry{}); err != nil {
		return fmt.Errorf("migrate dead_letter_queue: %w", err)
	}
	return nil
}
