package services

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/docvault/internal/common"
	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/textx"
)

// defaultSuggestionLimit caps the keyword suggestion list.
const defaultSuggestionLimit = 15

// CategoryService manages per-user categories and mines keyword suggestions
// from the OCR corpus of a category's documents.
type CategoryService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	env         *cryptox.Envelope
	log         logging.Logger
}

func NewCategoryService(db *sql.DB, repomanager repomanager.RepositoryManager,
	env *cryptox.Envelope, log logging.Logger) *CategoryService {
	return &CategoryService{db: db, repomanager: repomanager, env: env, log: log}
}

func (s *CategoryService) Create(ctx context.Context, userID int64, name, keywords string) (*models.Category, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty category name", common.ErrorValidation)
	}
	c := &models.Category{UserID: userID, Name: name, Keywords: strings.TrimSpace(keywords)}
	if err := s.repomanager.Categories(s.db).Create(ctx, c); err != nil {
		return nil, err
	}
	s.log.Info(ctx, "category created", "user_id", userID, "category_id", c.ID)
	return c, nil
}

func (s *CategoryService) List(ctx context.Context, userID int64) ([]*models.Category, error) {
	return s.repomanager.Categories(s.db).ListForUser(ctx, userID)
}

func (s *CategoryService) Get(ctx context.Context, userID, catID int64) (*models.Category, error) {
	return s.repomanager.Categories(s.db).GetForUser(ctx, userID, catID)
}

func (s *CategoryService) Rename(ctx context.Context, userID, catID int64, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("%w: empty category name", common.ErrorValidation)
	}
	return s.repomanager.Categories(s.db).Rename(ctx, userID, catID, name)
}

func (s *CategoryService) UpdateKeywords(ctx context.Context, userID, catID int64, keywords string) error {
	return s.repomanager.Categories(s.db).UpdateKeywords(ctx, userID, catID, strings.TrimSpace(keywords))
}

func (s *CategoryService) Delete(ctx context.Context, userID, catID int64) error {
	if err := s.repomanager.Categories(s.db).Delete(ctx, userID, catID); err != nil {
		return err
	}
	s.log.Info(ctx, "category deleted", "user_id", userID, "category_id", catID)
	return nil
}

// SetDocumentCategories replaces the document's category assignments with the
// given set. Both the document and every category must belong to the user.
func (s *CategoryService) SetDocumentCategories(ctx context.Context, userID, docID int64, categoryIDs []int64) error {
	docs := s.repomanager.Documents(s.db)
	if _, err := docs.GetForUser(ctx, userID, docID); err != nil {
		return err
	}
	cats := s.repomanager.Categories(s.db)
	seen := make(map[int64]struct{}, len(categoryIDs))
	ids := make([]int64, 0, len(categoryIDs))
	for _, id := range categoryIDs {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		if _, err := cats.GetForUser(ctx, userID, id); err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return docs.AssignCategories(ctx, docID, ids)
}

// AddDocumentCategory assigns one more category to the document, keeping the
// existing assignments. Already-assigned categories are a no-op.
func (s *CategoryService) AddDocumentCategory(ctx context.Context, userID, docID, categoryID int64) error {
	docs := s.repomanager.Documents(s.db)
	doc, err := docs.GetForUser(ctx, userID, docID)
	if err != nil {
		return err
	}
	if _, err := s.repomanager.Categories(s.db).GetForUser(ctx, userID, categoryID); err != nil {
		return err
	}
	ids := make([]int64, 0, len(doc.Categories)+1)
	for _, c := range doc.Categories {
		if c.ID == categoryID {
			return nil
		}
		ids = append(ids, c.ID)
	}
	ids = append(ids, categoryID)
	return docs.AssignCategories(ctx, docID, ids)
}

// KeywordSuggestion is one mined candidate keyword.
type KeywordSuggestion struct {
	Token     string
	Frequency int
	Score     float64
}

// SuggestKeywords mines candidate keywords from the OCR text of the user's
// active documents assigned to the category. Candidates already in the
// category's keyword list are excluded (case-insensitive). Results are
// ordered (score desc, frequency desc, token asc); limit <= 0 means the
// default of 15.
func (s *CategoryService) SuggestKeywords(ctx context.Context, userID, catID int64, limit int) ([]*KeywordSuggestion, error) {
	if limit <= 0 {
		limit = defaultSuggestionLimit
	}

	cat, err := s.repomanager.Categories(s.db).GetForUser(ctx, userID, catID)
	if err != nil {
		return nil, err
	}
	existing := existingKeywordSet(cat.Keywords)

	docs, err := s.repomanager.Documents(s.db).ListActive(ctx, userID)
	if err != nil {
		return nil, err
	}

	freq := make(map[string]int)
	for _, doc := range docs {
		if !hasCategory(doc, catID) || doc.OCRText == "" {
			continue
		}
		text, err := s.env.DecryptText(doc.OCRText)
		if err != nil {
			return nil, err
		}
		for _, tok := range textx.Tokenize(text) {
			freq[tok]++
		}
	}

	var suggestions []*KeywordSuggestion
	for tok, n := range freq {
		if _, ok := existing[tok]; ok {
			continue
		}
		suggestions = append(suggestions, &KeywordSuggestion{
			Token:     tok,
			Frequency: n,
			Score:     keywordScore(tok, n),
		})
	}

	sort.Slice(suggestions, func(i, j int) bool {
		a, b := suggestions[i], suggestions[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Frequency != b.Frequency {
			return a.Frequency > b.Frequency
		}
		return a.Token < b.Token
	})
	if len(suggestions) > limit {
		suggestions = suggestions[:limit]
	}
	return suggestions, nil
}

// keywordScore ranks a candidate: frequency, a length bonus (long tokens are
// usually domain terms), a penalty for digits (amounts, invoice numbers) and
// for very short tokens.
func keywordScore(token string, frequency int) float64 {
	score := float64(frequency)
	// Length is measured in runes so umlaut-heavy German tokens are not
	// counted longer than they read.
	switch n := utf8.RuneCountInString(token); {
	case n >= 10:
		score += 2
	case n >= 7:
		score += 1
	}
	if textx.ContainsDigit(token) {
		score -= 1.5
	}
	if utf8.RuneCountInString(token) <= 3 {
		score -= 1
	}
	return score
}

func existingKeywordSet(keywords string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, kw := range strings.Split(keywords, ",") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			set[kw] = struct{}{}
		}
	}
	return set
}

func hasCategory(doc *models.Document, catID int64) bool {
	for _, c := range doc.Categories {
		if c.ID == catID {
			return true
		}
	}
	return false
}
