package models

import (
	"log"

	"gorm.io/gorm"
)

// AutoMigrate runs database migrations for all models.
func AutoMigrate(db *gorm.DB) error {
	log.Println("Running database migrations...")

	if err := db.AutoMigrate(
		&User{},
		&Account{},
		&DailyUsage{},
		&Task{},
	); err != nil {
		return err
	}

	log.Println("Database migrations completed successfully")
	return nil
}
