package csvimport

import (
	"encoding/csv"
	"io"
	"strings"

	"github.com/shopspring/decimal"
)

// Transaction is one parsed bank-export row before persistence.
type Transaction struct {
	Fecha    string // normalized YYYY-MM-DD
	Concepto string // description text, verbatim from the file
	Importe  decimal.Decimal
}

// Accepted header names per logical column, in preference order.
// Matching is case-insensitive so "Fecha" and "FECHA" resolve the same.
var (
	dateColumns   = []string{"date", "fecha", "fecha_transaccion", "transaction_date", "datum"}
	descColumns   = []string{"description", "descripcion", "concepto", "concept", "memo", "nota"}
	amountColumns = []string{"amount", "importe", "monto", "cantidad", "value", "valor"}
)

// ParseTransactions reads CSV content (header row first) and returns the rows
// that parse cleanly. Rows with a missing field, an unparseable date or an
// unparseable amount are skipped silently. If any of the three logical columns
// cannot be resolved from the header the result is empty.
func ParseTransactions(content string) []Transaction {
	content = strings.TrimPrefix(content, "\uFEFF") // UTF-8 BOM

	reader := csv.NewReader(strings.NewReader(content))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil
	}

	dateIdx := resolveColumn(header, dateColumns)
	descIdx := resolveColumn(header, descColumns)
	amountIdx := resolveColumn(header, amountColumns)
	if dateIdx < 0 || descIdx < 0 || amountIdx < 0 {
		return nil
	}

	var txs []Transaction
	for {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // malformed row
		}
		tx, ok := parseRow(rec, dateIdx, descIdx, amountIdx)
		if !ok {
			continue
		}
		txs = append(txs, tx)
	}
	return txs
}

// resolveColumn returns the index of the first candidate present in the
// header, or -1.
func resolveColumn(header []string, candidates []string) int {
	lower := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		if _, seen := lower[key]; !seen {
			lower[key] = i
		}
	}
	for _, cand := range candidates {
		if idx, ok := lower[cand]; ok {
			return idx
		}
	}
	return -1
}

func parseRow(rec []string, dateIdx, descIdx, amountIdx int) (Transaction, bool) {
	if dateIdx >= len(rec) || descIdx >= len(rec) || amountIdx >= len(rec) {
		return Transaction{}, false
	}
	fechaRaw := strings.TrimSpace(rec[dateIdx])
	concepto := strings.TrimSpace(rec[descIdx])
	importeRaw := strings.TrimSpace(rec[amountIdx])
	if fechaRaw == "" || concepto == "" || importeRaw == "" {
		return Transaction{}, false
	}

	fecha, ok := ParseDate(fechaRaw)
	if !ok {
		return Transaction{}, false
	}
	importe, err := ParseAmount(importeRaw)
	if err != nil {
		return Transaction{}, false
	}
	return Transaction{Fecha: fecha, Concepto: concepto, Importe: importe}, true
}

// ParseAmount converts a bank-export amount to a decimal. Thousands-separator
// spaces are removed and a decimal comma becomes a period, so "-45,50" and
// "1 234.56" both parse.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, ",", ".")
	return decimal.NewFromString(s)
}
