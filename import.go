package main

import (
	"io"
	"log"
	"net/http"
	"strings"
	"unicode/utf8"

	"gastosapp/models"
	"gastosapp/pkg/csvimport"
	"gastosapp/pkg/suggest"

	"github.com/gin-gonic/gin"
)

// importCSVHandler ingests a bank-export CSV for the authenticated user.
// Only the upload gates are fatal; every per-row problem (bad date, bad
// amount, duplicate, insert failure) is counted and the batch continues.
func importCSVHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"ok": false, "error": "user not found"})
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "No file uploaded"})
		return
	}
	if file.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "No file selected"})
		return
	}
	if !strings.HasSuffix(file.Filename, ".csv") {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "File must be CSV"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Import failed: cannot open file"})
		return
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": "Import failed: cannot read file"})
		return
	}
	if !utf8.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "File encoding not supported. Use UTF-8."})
		return
	}

	transactions := csvimport.ParseTransactions(string(raw))
	if len(transactions) == 0 {
		c.JSON(http.StatusOK, gin.H{
			"ok":         true,
			"imported":   0,
			"skipped":    0,
			"duplicates": 0,
			"message":    "No valid transactions found in CSV",
		})
		return
	}

	engine := suggest.New(db)
	imported, skipped, duplicates := 0, 0, 0

	for _, tx := range transactions {
		var dupes int64
		err := db.Model(&models.Gasto{}).
			Where("user_id = ? AND fecha = ? AND nota = ? AND importe = ?",
				user.ID, tx.Fecha, tx.Concepto, tx.Importe).
			Count(&dupes).Error
		if err != nil {
			log.Printf("import warning: duplicate check failed for row %q: %v", tx.Concepto, err)
			skipped++
			continue
		}
		if dupes > 0 {
			duplicates++
			continue
		}

		// The description doubles as the suggestion fragment; earlier records
		// (including past imports) decide the category.
		categoria, concepto := "", ""
		if pairings, err := engine.ForNote(user.ID, tx.Concepto); err == nil && len(pairings) > 0 {
			categoria = pairings[0].Categoria
			concepto = pairings[0].Concepto
		}

		g := models.Gasto{
			UserID:    user.ID,
			Fecha:     tx.Fecha,
			Categoria: categoria,
			Concepto:  concepto,
			Nota:      tx.Concepto,
			Importe:   tx.Importe,
			Source:    models.SourceCSVImport,
		}
		if err := db.Create(&g).Error; err != nil {
			log.Printf("import warning: insert failed for row %q: %v", tx.Concepto, err)
			skipped++
			continue
		}
		imported++
	}

	// One-way onboarding flag; a failure here must not fail the import.
	if imported > 0 {
		_ = db.Model(&models.User{}).Where("id = ?", user.ID).
			Update("has_imported_csv", true).Error
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":         true,
		"imported":   imported,
		"skipped":    skipped,
		"duplicates": duplicates,
	})
}
