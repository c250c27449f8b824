// Package classify maps single input characters to counting categories.
package classify

import "keytally/internal/model"

// symbolSet is the fixed allow-list of punctuation and symbol glyphs.
const symbolSet = "!\"#$%&'()*+,-./:;<=>?@[\\]^_`{|}~"

// Rune classifies a single character. Ranges are checked in the fixed
// order chinese, english, number, symbol; the first match wins.
// Everything else, whitespace and control characters included, is
// other. Callers are expected to filter non-printable input before
// counting.
func Rune(r rune) model.Category {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF:
		return model.CategoryChinese
	case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		return model.CategoryEnglish
	case r >= '0' && r <= '9':
		return model.CategoryNumber
	case isSymbol(r):
		return model.CategorySymbol
	default:
		return model.CategoryOther
	}
}

func isSymbol(r rune) bool {
	if r < '!' || r > '~' {
		return false
	}
	for _, s := range symbolSet {
		if r == s {
			return true
		}
	}
	return false
}

// Text classifies every rune in text and returns the per-category
// totals. Used for batch analysis and tests.
func Text(text string) model.Counters {
	var c model.Counters
	for _, r := range text {
		c.Add(Rune(r))
	}
	return c
}
