package assets

import (
	"strconv"
	"strings"

	"github.com/JakeFAU/catalog-archiver/internal/store"
)

// FileName returns "<id> - <name>.jpg" where name keeps only ASCII letters,
// digits and spaces.
func FileName(rec store.Record) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(rec.ID, 10))
	b.WriteString(" - ")
	for _, r := range rec.Name {
		if r == ' ' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	b.WriteString(".jpg")
	return b.String()
}
