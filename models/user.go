package models

import (
	"time"
)

// User model
type User struct {
	ID             uint `gorm:"primaryKey"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	DeletedAt      *time.Time `gorm:"index"`
	Username       string     `gorm:"size:255;not null;unique"`
	HashedPassword []byte     `gorm:"not null"`
	// HasImportedCSV is a one-way onboarding flag: set after the first
	// successful CSV import and never cleared.
	HasImportedCSV bool    `gorm:"default:false;not null"`
	Gastos         []Gasto `gorm:"foreignKey:UserID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	RoleID         *uint   `gorm:"index"`
	Role           Role    `gorm:"foreignKey:RoleID;references:ID"`
}
