package models

import (
	"log"

	"github.com/hankstore/ebms_backend/config"
)

// MigrateTable creates or updates the ledger schema.
func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&StockItem{},
		&StockMovement{},
		&Invoice{}, &InvoiceLine{}, &Acknowledgment{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
