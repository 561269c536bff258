package models_test

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + t.Name() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.StockItem{},
		&models.StockMovement{},
		&models.Invoice{},
		&models.InvoiceLine{},
		&models.Acknowledgment{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	config.SetDB(db)
	return db
}
