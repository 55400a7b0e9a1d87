package procurement

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/unicode/norm"
)

// cleanText trims s, repairs UTF-8 that was decoded as Windows-1252 on the way
// in ("CompaÃ±Ã­a" -> "Compañía") and returns it in NFC form.
func cleanText(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	if strings.ContainsRune(s, 'Ã') {
		if raw, err := charmap.Windows1252.NewEncoder().String(s); err == nil && utf8.ValidString(raw) {
			s = raw
		}
	}
	return norm.NFC.String(s)
}
