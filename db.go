package main

import (
	"log"
	"os"
	"strings"

	"gastosapp/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var db *gorm.DB

func initDB() {
	var err error
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN is not set. This project requires a Postgres DSN in DB_DSN.")
	}
	db, err = gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatal("failed to connect postgres database:", err)
	}
	migrateDB(db)
	seedDB(db)
}

// migrateDB runs the schema migration. Controlled with env DB_AUTO_MIGRATE
// (default true); permission errors are logged and ignored.
func migrateDB(db *gorm.DB) {
	shouldMigrate := true
	if v := os.Getenv("DB_AUTO_MIGRATE"); v != "" {
		lv := strings.ToLower(v)
		if lv == "false" || lv == "0" || lv == "no" {
			shouldMigrate = false
		}
	}
	if !shouldMigrate {
		return
	}
	// Roles first so the users FK can be applied safely.
	if err := db.AutoMigrate(&models.Role{}); err != nil {
		log.Printf("migration warning (roles): %v", err)
	}
	// Migrate models individually so a failure on one doesn't block others
	if err := db.AutoMigrate(&models.User{}); err != nil {
		log.Printf("migration warning (users): %v", err)
	}
	if err := db.AutoMigrate(&models.Gasto{}); err != nil {
		log.Printf("migration warning (gastos): %v", err)
	}
	if err := db.AutoMigrate(&models.RefreshToken{}); err != nil {
		log.Printf("migration warning (refresh_tokens): %v", err)
	}
}

func seedDB(db *gorm.DB) {
	// Ensure master roles exist
	roles := []models.Role{{Name: "administrator", Description: "full access"}, {Name: "user", Description: "regular user"}}
	for _, r := range roles {
		var cnt int64
		db.Model(&models.Role{}).Where("name = ?", r.Name).Count(&cnt)
		if cnt == 0 {
			db.Create(&r)
		}
	}
}
