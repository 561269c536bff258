package main

import (
	"fmt"

	"github.com/hankstore/ebms_backend/config"
	"github.com/hankstore/ebms_backend/models"
)

// migrate opens the database and runs AutoMigrate, for deployments that
// start the server with SKIP_MIGRATIONS=true.
func main() {
	config.ConnectDatabaseWithRetry()
	models.MigrateTable()
	fmt.Println("migrations applied")
}
