// Package textx holds the shared tokenizer used by auto-categorization,
// keyword suggestion and search. All three must agree on the rules:
// lowercase, strip edge punctuation, drop tokens shorter than three
// characters and common German/English stopwords.
package textx

import (
	"strings"
	"unicode/utf8"
)

const edgePunct = ".,;:!?()[]{}\"'`<>|/\\+-=_"

// MinTokenLen is the shortest token the engines consider meaningful.
const MinTokenLen = 3

// stopwords covers German and English function words plus typical
// template/boilerplate terms that carry no categorization signal.
var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		// function words / articles / pronouns
		"der", "die", "das", "und", "oder", "ein", "eine", "einer", "einem", "einen",
		"den", "im", "in", "ist", "sind", "war", "waren", "von", "mit", "auf", "für",
		"an", "am", "als", "zu", "zum", "zur", "bei", "aus", "dem",
		"the", "a", "an", "and", "or", "of", "to", "on", "for", "at", "by",
		"this", "that", "these", "those", "it", "its", "be", "was", "were", "are",
		"sie", "ihre", "ihr", "ihren", "ihnen",
		"wir", "uns", "man",
		"diese", "dieser", "dieses", "diesem", "diesen",
		// template/help boilerplate with no topical value
		"beschreibung", "entfernen", "fußzeile", "fusszeile", "beratung",
		"können", "koennen", "dürfen", "duerfen", "vorlage", "vorlagen",
		"anpassen", "seite", "seiten", "kopf", "bearbeiten",
		"muster", "beispiel", "etc", "zb", "z.b.",
		"bitte", "hier", "oben", "unten",
	} {
		stopwords[w] = struct{}{}
	}
}

// IsStopword reports whether the (already lowercased) token is a stopword.
func IsStopword(token string) bool {
	_, ok := stopwords[token]
	return ok
}

// Tokenize splits text into lowercased tokens, trims edge punctuation and
// drops short tokens and stopwords. Returns nil for empty input.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, t := range fields {
		t = strings.Trim(t, edgePunct)
		if utf8.RuneCountInString(t) < MinTokenLen {
			continue
		}
		if IsStopword(t) {
			continue
		}
		tokens = append(tokens, t)
	}
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

// TokenSet returns the distinct tokens of text as a set.
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	if tokens == nil {
		return nil
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}

// NormalizeWhitespace collapses newlines and runs of whitespace into single
// spaces and trims the result. Applied to OCR output before it is encrypted
// and cached.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// ContainsDigit reports whether the token carries any ASCII digit.
// Numeric tokens (amounts, invoice numbers) make poor category keywords.
func ContainsDigit(token string) bool {
	for _, r := range token {
		if r >= '0' && r <= '9' {
			return true
		}
	}
	return false
}
