package models

import (
	"log"

	"github.com/mmdatafocus/docs_backend/config"
)

func MigrateTable() {
	db := config.GetDB()

	err := db.AutoMigrate(
		&User{},
		&Direction{}, &SupportProcess{},
		&Document{}, &DocumentTag{},
		&DocumentSearchEntry{},
	)
	if err != nil {
		log.Fatal(err)
	}
}
