package service

import (
	"strings"
	"unicode"
)

// defaultStopWords are dropped during query tokenization: generic English
// and German connector words plus domain terms too common to discriminate.
var defaultStopWords = map[string]struct{}{
	// English connectors
	"the": {}, "and": {}, "for": {}, "with": {}, "not": {}, "can": {},
	"cannot": {}, "does": {}, "how": {}, "why": {}, "what": {}, "when": {},
	"where": {}, "who": {}, "this": {}, "that": {}, "from": {}, "into": {},
	"have": {}, "has": {}, "are": {}, "was": {}, "you": {}, "your": {},
	"please": {}, "help": {}, "need": {}, "want": {}, "get": {},
	// German connectors
	"der": {}, "die": {}, "das": {}, "und": {}, "oder": {}, "nicht": {},
	"eine": {}, "ein": {}, "ist": {}, "sind": {}, "mit": {}, "ich": {},
	"mein": {}, "meine": {}, "kann": {}, "wie": {}, "bitte": {},
	// Overly generic domain terms
	"issue": {}, "problem": {}, "error": {}, "question": {}, "ticket": {},
	"computer": {}, "laptop": {}, "system": {}, "work": {}, "working": {},
	"funktioniert": {}, "fehler": {},
}

const minTokenLength = 2

// tokenizeQuery splits a query on whitespace and common punctuation,
// lowercases the tokens, and drops short tokens and stop words.
// The returned tokens are deduplicated, first occurrence wins.
func tokenizeQuery(query string, stopWords map[string]struct{}) []string {
	if stopWords == nil {
		stopWords = defaultStopWords
	}

	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]struct{}, len(fields))
	tokens := make([]string, 0, len(fields))
	for _, field := range fields {
		if len(field) < minTokenLength {
			continue
		}
		if _, stop := stopWords[field]; stop {
			continue
		}
		if _, dup := seen[field]; dup {
			continue
		}
		seen[field] = struct{}{}
		tokens = append(tokens, field)
	}

	return tokens
}
