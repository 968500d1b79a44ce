package search

import (
	"strings"
	"unicode"
)

// stopWords are ignored when checking for verbatim matches.
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true,
}

// terms lowercases text, strips markdown and punctuation from each word
// and drops stop words.
func terms(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || r == '/' || r == '|'
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		w := strings.ToLower(strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		}))
		if w != "" && !stopWords[w] {
			out = append(out, w)
		}
	}
	return out
}

// containsAllQueryWords reports whether every query term appears in text.
func containsAllQueryWords(text, query string) bool {
	want := terms(query)
	if len(want) == 0 {
		return false
	}
	have := make(map[string]bool)
	for _, w := range terms(text) {
		have[w] = true
	}
	for _, w := range want {
		if !have[w] {
			return false
		}
	}
	return true
}
