package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/textx"
)

const (
	titleHitWeight = 3

	// Relevance keeps hit score dominant (100-point steps) over the
	// bounded recency bonus (0-30 points).
	relevanceStep   = 100
	maxRecencyBonus = 30

	snippetBudget  = 200
	snippetContext = 70

	highlightOpen  = "<mark>"
	highlightClose = "</mark>"
)

// SearchResult is one ranked hit.
type SearchResult struct {
	Document *models.Document
	// HitScore is title_hits*3 + body_hits.
	HitScore int
	// Relevance is HitScore*100 plus the recency bonus; results are
	// ordered by it.
	Relevance   int
	LastUpdated time.Time
	Snippet     string
	// BodyUnavailable marks a hit whose OCR cache failed its integrity
	// check; scoring and the snippet used the title only.
	BodyUnavailable bool
}

// SearchService ranks a user's documents against a free-text query.
type SearchService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	env         *cryptox.Envelope
	log         logging.Logger
}

func NewSearchService(db *sql.DB, repomanager repomanager.RepositoryManager,
	env *cryptox.Envelope, log logging.Logger) *SearchService {
	return &SearchService{db: db, repomanager: repomanager, env: env, log: log}
}

// Search tokenizes the query, scores every active document by literal
// substring hit counts in title and decrypted OCR body, and returns hits
// ordered (relevance desc, last_updated desc, id desc). An empty token set
// yields zero results; documents with zero hits never appear.
func (s *SearchService) Search(ctx context.Context, userID int64, query string) ([]*SearchResult, error) {
	terms := textx.Tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}

	candidates, err := s.repomanager.Documents(s.db).ListSearchCandidates(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var results []*SearchResult
	for _, c := range candidates {
		doc := c.Document

		bodyCorrupt := false
		body, err := s.env.DecryptText(doc.OCRText)
		if err != nil {
			// A corrupt OCR cache must not hide the document from
			// title-only matches, but the hit is flagged so callers do
			// not mistake the missing body signal for "no text".
			s.log.Warn(ctx, "failed to decrypt ocr text", "document_id", doc.ID, "error", err)
			body = ""
			bodyCorrupt = true
		}

		title := strings.ToLower(doc.Filename)
		lowerBody := strings.ToLower(body)

		hits := 0
		for _, term := range terms {
			hits += strings.Count(title, term) * titleHitWeight
			hits += strings.Count(lowerBody, term)
		}
		if hits == 0 {
			continue
		}

		results = append(results, &SearchResult{
			Document:        doc,
			HitScore:        hits,
			Relevance:       hits*relevanceStep + recencyBonus(now, c.LastUpdated),
			LastUpdated:     c.LastUpdated,
			Snippet:         buildSnippet(body, doc.Filename, terms, snippetBudget),
			BodyUnavailable: bodyCorrupt,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Relevance != b.Relevance {
			return a.Relevance > b.Relevance
		}
		if !a.LastUpdated.Equal(b.LastUpdated) {
			return a.LastUpdated.After(b.LastUpdated)
		}
		return a.Document.ID > b.Document.ID
	})
	return results, nil
}

// recencyBonus maps document age to 0..30: fresh documents get the full
// bonus, anything 30+ days old gets none.
func recencyBonus(now, lastUpdated time.Time) int {
	ageDays := int(now.Sub(lastUpdated).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}
	if ageDays > maxRecencyBonus {
		ageDays = maxRecencyBonus
	}
	return maxRecencyBonus - ageDays
}

// buildSnippet extracts a bounded window around the first query-term match
// in body (falling back to title when the body has none) and wraps every
// term occurrence in highlight markers. With no terms the text is returned
// truncated and unhighlighted.
func buildSnippet(body, title string, terms []string, budget int) string {
	text := body
	idx, matchLen := firstMatch(body, terms)
	if idx < 0 {
		text = title
		idx, matchLen = firstMatch(title, terms)
	}
	if text == "" {
		return ""
	}
	if idx < 0 {
		return truncateRunes(text, budget)
	}

	start := idx - snippetContext
	if start < 0 {
		start = 0
	}
	end := idx + matchLen + snippetContext
	if end-start > budget {
		end = start + budget
	}
	if end > len(text) {
		end = len(text)
	}
	start = snapRuneStart(text, start)
	end = snapRuneStart(text, end)

	snippet := highlightTerms(text[start:end], terms)
	if start > 0 {
		snippet = "…" + snippet
	}
	if end < len(text) {
		snippet += "…"
	}
	return snippet
}

// firstMatch returns the byte offset and length of the earliest
// case-insensitive occurrence of any term in text, or (-1, 0). Offsets
// refer to text itself, never to a lowercased copy: case pairs like
// 'İ'/'i' or 'Ⱥ'/'ⱥ' change byte length under ToLower, so offsets into a
// lowered string do not address the original.
func firstMatch(text string, terms []string) (int, int) {
	best, bestLen := -1, 0
	for _, term := range terms {
		if i, n := foldIndex(text, term); i >= 0 && (best < 0 || i < best) {
			best, bestLen = i, n
		}
	}
	return best, bestLen
}

// foldIndex locates the first case-insensitive occurrence of term in s,
// returning its byte offset and byte length in s, or (-1, 0).
func foldIndex(s, term string) (int, int) {
	if term == "" {
		return -1, 0
	}
	for i := 0; i < len(s); {
		if n := foldPrefixLen(s[i:], term); n > 0 {
			return i, n
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1, 0
}

// foldPrefixLen reports how many bytes at the start of s spell term under
// simple case folding, or 0 when s does not start with it.
func foldPrefixLen(s, term string) int {
	n := 0
	for _, tr := range term {
		r, size := utf8.DecodeRuneInString(s[n:])
		if size == 0 || unicode.ToLower(r) != unicode.ToLower(tr) {
			return 0
		}
		n += size
	}
	return n
}

// highlightTerms wraps every case-insensitive term occurrence in markers.
func highlightTerms(text string, terms []string) string {
	var b strings.Builder

	pos := 0
	for pos < len(text) {
		idx, matchLen := firstMatch(text[pos:], terms)
		if idx < 0 {
			b.WriteString(text[pos:])
			break
		}
		b.WriteString(text[pos : pos+idx])
		b.WriteString(highlightOpen)
		b.WriteString(text[pos+idx : pos+idx+matchLen])
		b.WriteString(highlightClose)
		pos += idx + matchLen
	}
	return b.String()
}

func truncateRunes(text string, budget int) string {
	if len(text) <= budget {
		return text
	}
	return text[:snapRuneStart(text, budget)] + "…"
}

// snapRuneStart moves a byte offset left until it lands on a rune boundary.
func snapRuneStart(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
