package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Gasto represents a single expense record belonging to a user.
// Nota holds the free text that the suggestion engine mines; Concepto is the
// subcategory paired with Categoria.
type Gasto struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"-"`
	UpdatedAt time.Time `json:"-"`
	UserID    uint      `gorm:"index;not null;index:idx_gastos_user_fecha,priority:1" json:"-"`
	// Fecha is a calendar day stored as YYYY-MM-DD so month filters and exact
	// duplicate checks work the same on postgres and sqlite.
	Fecha     string          `gorm:"size:10;not null;index:idx_gastos_user_fecha,priority:2" json:"fecha"`
	Categoria string          `gorm:"size:255;not null;default:''" json:"categoria"`
	Concepto  string          `gorm:"size:255;not null;default:''" json:"concepto"`
	Nota      string          `gorm:"size:512;not null;default:''" json:"nota"`
	Importe   decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"importe"`
	// Source distinguishes manually entered records from CSV imports.
	Source string `gorm:"size:32;not null;default:manual" json:"source"`
}

const (
	SourceManual    = "manual"
	SourceCSVImport = "csv_import"
)
