package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dmitrijs2005/docvault/internal/cryptox"
	"github.com/dmitrijs2005/docvault/internal/logging"
	"github.com/dmitrijs2005/docvault/internal/server/models"
	"github.com/dmitrijs2005/docvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/docvault/internal/textx"
)

const (
	exactMatchPoints = 2
	fuzzyMatchPoints = 1
	// fuzzyMinKeywordLen guards the substring rule: short keywords inside
	// longer tokens are noise, longer ones catch German compounds
	// ("vertrag" in "arbeitsvertrag").
	fuzzyMinKeywordLen = 5
	// minCategoryScore is the threshold a category must reach to be
	// assigned at all.
	minCategoryScore = 1
)

// CategorizeService assigns categories to documents by matching category
// keyword glossaries against the document's extracted text.
type CategorizeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	env         *cryptox.Envelope
	log         logging.Logger
}

func NewCategorizeService(db *sql.DB, repomanager repomanager.RepositoryManager,
	env *cryptox.Envelope, log logging.Logger) *CategorizeService {
	return &CategorizeService{db: db, repomanager: repomanager, env: env, log: log}
}

// CategoryScore pairs a category with its match score against a document.
type CategoryScore struct {
	Category *models.Category
	Score    int
}

// Apply scores all of the user's categories against the document's text and
// assigns the single best one when it reaches the threshold. Ties resolve
// to the lowest category id (categories are scored in id order and only a
// strictly greater score displaces the leader).
func (s *CategorizeService) Apply(ctx context.Context, userID, docID int64) error {
	docTokens, err := s.documentTokens(ctx, userID, docID)
	if err != nil {
		return err
	}
	if len(docTokens) == 0 {
		return nil
	}

	scores, err := s.scoreAll(ctx, userID, docTokens)
	if err != nil {
		return err
	}

	var best *CategoryScore
	for _, cs := range scores {
		if best == nil || cs.Score > best.Score {
			best = cs
		}
	}
	if best == nil || best.Score < minCategoryScore {
		return nil
	}

	if err := s.repomanager.Documents(s.db).AssignCategories(ctx, docID, []int64{best.Category.ID}); err != nil {
		return err
	}
	s.log.Info(ctx, "document auto-categorized",
		"document_id", docID, "category_id", best.Category.ID, "score", best.Score)
	return nil
}

// Suggest returns the k highest-scoring categories at or above the
// threshold, score descending, id ascending on ties.
func (s *CategorizeService) Suggest(ctx context.Context, userID, docID int64, k int) ([]*CategoryScore, error) {
	docTokens, err := s.documentTokens(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	if len(docTokens) == 0 {
		return nil, nil
	}

	scores, err := s.scoreAll(ctx, userID, docTokens)
	if err != nil {
		return nil, err
	}

	var eligible []*CategoryScore
	for _, cs := range scores {
		if cs.Score >= minCategoryScore {
			eligible = append(eligible, cs)
		}
	}
	// scores arrive in id order; a stable sort keeps id ascending on ties.
	sort.SliceStable(eligible, func(i, j int) bool {
		return eligible[i].Score > eligible[j].Score
	})
	if k > 0 && len(eligible) > k {
		eligible = eligible[:k]
	}
	return eligible, nil
}

func (s *CategorizeService) documentTokens(ctx context.Context, userID, docID int64) (map[string]struct{}, error) {
	doc, err := s.repomanager.Documents(s.db).GetForUser(ctx, userID, docID)
	if err != nil {
		return nil, err
	}
	text, err := s.env.DecryptText(doc.OCRText)
	if err != nil {
		return nil, err
	}
	return textx.TokenSet(text), nil
}

func (s *CategorizeService) scoreAll(ctx context.Context, userID int64, docTokens map[string]struct{}) ([]*CategoryScore, error) {
	cats, err := s.repomanager.Categories(s.db).ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	var scores []*CategoryScore
	for _, c := range cats {
		if strings.TrimSpace(c.Keywords) == "" {
			continue
		}
		scores = append(scores, &CategoryScore{
			Category: c,
			Score:    scoreKeywords(docTokens, c.Keywords),
		})
	}
	return scores, nil
}

// scoreKeywords scores one comma-joined keyword glossary against a document
// token set: 2 points per exact keyword-token hit, 1 point per fuzzy hit
// where a keyword token of length >= 5 occurs inside a longer document
// token.
func scoreKeywords(docTokens map[string]struct{}, keywords string) int {
	score := 0
	for _, phrase := range strings.Split(keywords, ",") {
		for _, kw := range textx.Tokenize(phrase) {
			if _, ok := docTokens[kw]; ok {
				score += exactMatchPoints
				continue
			}
			if utf8.RuneCountInString(kw) < fuzzyMinKeywordLen {
				continue
			}
			for tok := range docTokens {
				if tok != kw && strings.Contains(tok, kw) {
					score += fuzzyMatchPoints
					break
				}
			}
		}
	}
	return score
}
