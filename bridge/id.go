package bridge

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// asciiFold builds a fresh accent-stripping transformer. Chained transformers
// carry internal buffers, so a shared instance is not safe for the concurrent
// scrape workers; each call gets its own.
func asciiFold() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// SanitizeID derives the stable bridge id from a region short code and a
// bridge display name: accents folded to ASCII, letters only, capped at 25
// characters. "SCT" + "Carlton St." becomes "SCT_CarltonSt".
//
// Ids are embedded in history file names and client deep links, so the shape
// is part of the external contract.
func SanitizeID(short, name string) string {
	folded, _, err := transform.String(asciiFold(), name)
	if err != nil {
		folded = name
	}
	var b strings.Builder
	for _, r := range folded {
		if r < 128 && unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	letters := b.String()
	if len(letters) > 25 {
		letters = letters[:25]
	}
	return short + "_" + letters
}
