package suggest

import (
	"strings"
	"unicode/utf8"

	"gorm.io/gorm"
)

// Engine proposes category/concept pairings from a user's own expense notes.
// All queries are scoped by user id; nothing ever crosses users.
type Engine struct {
	db *gorm.DB
}

// New returns an Engine bound to the given database handle.
func New(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// MinFragmentLen is the shortest note fragment worth ranking; anything
// shorter is too noisy to group meaningfully.
const MinFragmentLen = 3

// Pairing is one (categoria, concepto) group supported by matching records.
type Pairing struct {
	Categoria string `json:"categoria"`
	Concepto  string `json:"concepto"`
	N         int    `json:"n"`
	LastID    uint   `json:"-"`
}

// NoteCompletion is one distinct note value matched by prefix, along with
// the category/concept of its most recent supporting record.
type NoteCompletion struct {
	Nota      string `json:"nota"`
	N         int    `json:"n"`
	Categoria string `json:"categoria"`
	Concepto  string `json:"concepto"`
}

// EscapeLike escapes %, _ and the backslash escape character itself so a
// fragment is matched literally inside a LIKE pattern.
func EscapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// ForNote runs the contains-match: pairings whose notes contain fragment as a
// literal substring, ranked by occurrence count then by most recent record.
// Fragments shorter than MinFragmentLen (after trimming) yield no pairings.
func (e *Engine) ForNote(userID uint, fragment string) ([]Pairing, error) {
	fragment = strings.TrimSpace(fragment)
	if utf8.RuneCountInString(fragment) < MinFragmentLen {
		return nil, nil
	}
	like := "%" + EscapeLike(fragment) + "%"

	var pairings []Pairing
	err := e.db.Raw(`
		SELECT
		  categoria,
		  COALESCE(concepto,'') AS concepto,
		  COUNT(*) AS n,
		  MAX(id) AS last_id
		FROM gastos
		WHERE user_id = ?
		  AND COALESCE(nota,'') LIKE ? ESCAPE '\'
		GROUP BY categoria, COALESCE(concepto,'')
		ORDER BY n DESC, last_id DESC
		LIMIT 5
	`, userID, like).Scan(&pairings).Error
	if err != nil {
		return nil, err
	}
	return pairings, nil
}

// NoteCompletions runs the prefix-match used by note autocomplete: distinct
// non-empty notes starting with prefix, ranked by frequency then recency,
// up to 8. Each completion carries the categoria/concepto of that note's most
// recent record so callers can auto-populate a form.
func (e *Engine) NoteCompletions(userID uint, prefix string) ([]NoteCompletion, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return nil, nil
	}
	like := EscapeLike(prefix) + "%"

	var notes []struct {
		Nota   string
		N      int
		LastID uint
	}
	err := e.db.Raw(`
		SELECT
		  nota,
		  MAX(id) AS last_id,
		  COUNT(*) AS n
		FROM gastos
		WHERE user_id = ?
		  AND COALESCE(nota,'') LIKE ? ESCAPE '\'
		  AND TRIM(COALESCE(nota,'')) <> ''
		GROUP BY nota
		ORDER BY n DESC, last_id DESC
		LIMIT 8
	`, userID, like).Scan(&notes).Error
	if err != nil {
		return nil, err
	}

	completions := make([]NoteCompletion, 0, len(notes))
	for _, n := range notes {
		var meta struct {
			Categoria string
			Concepto  string
		}
		err := e.db.Raw(`
			SELECT categoria, COALESCE(concepto,'') AS concepto
			FROM gastos
			WHERE user_id = ? AND nota = ?
			ORDER BY id DESC
			LIMIT 1
		`, userID, n.Nota).Scan(&meta).Error
		if err != nil {
			return nil, err
		}
		completions = append(completions, NoteCompletion{
			Nota:      n.Nota,
			N:         n.N,
			Categoria: meta.Categoria,
			Concepto:  meta.Concepto,
		})
	}
	return completions, nil
}
