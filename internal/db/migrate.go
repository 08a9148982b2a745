package db

import (
	"fmt"

	"github.com/router-for-me/PolicyRouter/internal/models"
	"gorm.io/gorm"
)

// Migrate creates or updates every table the router owns.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return fmt.Errorf("db: nil connection")
	}
	if errMigrate := conn.AutoMigrate(
		&models.PolicyRule{},
		&models.RequestLog{},
		&models.PolicyLogic{},
		&models.PolicyDecisionLog{},
		&models.Credential{},
		&models.Setting{},
	); errMigrate != nil {
		return fmt.Errorf("db: migrate: %w", errMigrate)
	}
	return nil
}
