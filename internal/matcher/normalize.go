package matcher

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

var (
	parenGroupRegexp   = regexp.MustCompile(`\([^)]*\)`)
	bracketGroupRegexp = regexp.MustCompile(`\[[^\]]*\]`)
	separatorRegexp    = regexp.MustCompile(`[._-]`)
)

// stopWords are region/version tokens that differ between dump names and
// database titles.
var stopWords = map[string]struct{}{
	"usa":     {},
	"europe":  {},
	"japan":   {},
	"english": {},
	"rev":     {},
	"version": {},
	"disk":    {},
	"disc":    {},
}

// Normalize strips tags, separators and stop words from a file stem or a
// database title. Normalize(Normalize(s)) == Normalize(s).
func Normalize(name string) string {
	cleaned := parenGroupRegexp.ReplaceAllString(name, " ")
	cleaned = bracketGroupRegexp.ReplaceAllString(cleaned, " ")
	cleaned = separatorRegexp.ReplaceAllString(cleaned, " ")

	words := strings.Fields(cleaned)
	kept := words[:0]
	for _, w := range words {
		if _, ok := stopWords[fold(w)]; ok {
			continue
		}
		kept = append(kept, w)
	}
	return strings.Join(kept, " ")
}

// comparable returns the case-folded normalized form used for equality and
// similarity.
func comparable(name string) string {
	return fold(Normalize(name))
}

func fold(s string) string {
	return cases.Fold().String(s)
}
