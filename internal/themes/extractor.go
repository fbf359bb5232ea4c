// Package themes maps free review text to catalog themes, using the
// sentiment capability's suggestions when available and a deterministic
// keyword matcher otherwise.
package themes

import (
	"context"
	"strings"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/sentiment"
	"github.com/sirupsen/logrus"
)

const DefaultCategory = "GENERAL"

// KeywordTheme is one entry of the deterministic fallback catalog.
type KeywordTheme struct {
	Name     string
	Category string
	Keywords []string
}

// DefaultCatalog mirrors the seed themes of the product: the categories the
// demo data and recommendation templates are built around.
func DefaultCatalog() []KeywordTheme {
	return []KeywordTheme{
		{
			Name:     "Food Quality",
			Category: "FOOD",
			Keywords: []string{"food", "dish", "tasty", "delicious", "bland", "undercooked", "overcooked", "portion", "flavour", "flavor", "stale"},
		},
		{
			Name:     "Service Speed",
			Category: "SERVICE",
			Keywords: []string{"service", "waiter", "waitress", "staff", "slow", "rude", "friendly", "attentive", "waited", "ignored"},
		},
		{
			Name:     "Cleanliness",
			Category: "CLEANLINESS",
			Keywords: []string{"dirty", "clean", "hygiene", "sticky", "spotless", "filthy", "bathroom", "tables"},
		},
		{
			Name:     "Value for Money",
			Category: "VALUE",
			Keywords: []string{"price", "expensive", "overpriced", "cheap", "value", "worth", "bill", "cost"},
		},
		{
			Name:     "Ambiance",
			Category: "AMBIANCE",
			Keywords: []string{"atmosphere", "ambiance", "noisy", "loud", "cozy", "music", "decor", "vibe", "lighting"},
		},
	}
}

type Extractor struct {
	themes   models.ThemeRepository
	tags     models.ReviewThemeTagRepository
	analyzer sentiment.Analyzer
	catalog  []KeywordTheme
	logger   *logrus.Logger
}

func NewExtractor(themes models.ThemeRepository, tags models.ReviewThemeTagRepository, analyzer sentiment.Analyzer, logger *logrus.Logger) *Extractor {
	return &Extractor{
		themes:   themes,
		tags:     tags,
		analyzer: analyzer,
		catalog:  DefaultCatalog(),
		logger:   logger,
	}
}

// ExtractReview tags one review. Extraction is a one-time enrichment: a
// review that already carries tags is skipped, regardless of which run asks.
func (e *Extractor) ExtractReview(ctx context.Context, review *models.Review) ([]models.ReviewThemeTag, error) {
	if len(review.ThemeTags) > 0 {
		e.logger.WithField("review_id", review.ID).Debug("Review already tagged, skipping extraction")
		return nil, nil
	}
	if strings.TrimSpace(review.Content) == "" {
		return nil, nil
	}

	tags := e.fromCapability(ctx, review)
	if len(tags) == 0 {
		tags = e.fromKeywords(review)
	}
	if len(tags) == 0 {
		return nil, nil
	}

	if err := e.tags.CreateBatch(tags); err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"review_id": review.ID,
		"tags":      len(tags),
	}).Debug("Extracted theme tags")

	return tags, nil
}

// fromCapability asks the analyzer for theme suggestions. Capability errors
// degrade to the keyword fallback rather than failing extraction.
func (e *Extractor) fromCapability(ctx context.Context, review *models.Review) []models.ReviewThemeTag {
	if e.analyzer == nil {
		return nil
	}

	resp, err := e.analyzer.Analyze(ctx, review.Content)
	if err != nil {
		e.logger.WithError(err).WithField("review_id", review.ID).
			Warn("Sentiment capability unavailable, falling back to keyword matching")
		return nil
	}

	var tags []models.ReviewThemeTag
	seen := make(map[uint]bool)
	for _, suggestion := range resp.Themes {
		category := suggestion.Category
		if category == "" {
			category = DefaultCategory
		}

		// Unknown themes are auto-created on first sight
		theme, err := e.themes.GetOrCreate(suggestion.Name, category)
		if err != nil {
			e.logger.WithError(err).WithField("theme", suggestion.Name).Warn("Failed to resolve theme")
			continue
		}
		if seen[theme.ID] {
			continue
		}
		seen[theme.ID] = true

		polarity := suggestion.Polarity
		if polarity != "positive" && polarity != "neutral" && polarity != "negative" {
			polarity = polarityFromScore(resp.Score)
		}

		tags = append(tags, models.ReviewThemeTag{
			ReviewID:        review.ID,
			ThemeID:         theme.ID,
			Polarity:        polarity,
			Confidence:      suggestion.Confidence,
			MatchedKeywords: suggestion.Keywords,
		})
	}
	return tags
}

// fromKeywords is the deterministic fallback: match catalog keywords against
// the lowercased content.
func (e *Extractor) fromKeywords(review *models.Review) []models.ReviewThemeTag {
	content := strings.ToLower(review.Content)
	polarity := polarityFromReview(review)

	var tags []models.ReviewThemeTag
	for _, entry := range e.catalog {
		var matched []string
		for _, keyword := range entry.Keywords {
			if strings.Contains(content, keyword) {
				matched = append(matched, keyword)
			}
		}
		if len(matched) == 0 {
			continue
		}

		theme, err := e.themes.GetOrCreate(entry.Name, entry.Category)
		if err != nil {
			e.logger.WithError(err).WithField("theme", entry.Name).Warn("Failed to resolve theme")
			continue
		}

		confidence := float64(len(matched)) / float64(len(entry.Keywords))
		if confidence > 0.9 {
			confidence = 0.9
		}
		// Floor so a single keyword hit still registers
		confidence += 0.1

		tags = append(tags, models.ReviewThemeTag{
			ReviewID:        review.ID,
			ThemeID:         theme.ID,
			Polarity:        polarity,
			Confidence:      confidence,
			MatchedKeywords: matched,
		})
	}
	return tags
}

var negativeWords = []string{"terrible", "awful", "bad", "worst", "disappointing", "slow", "rude", "dirty", "cold", "overpriced", "never again"}
var positiveWords = []string{"great", "amazing", "excellent", "fantastic", "lovely", "best", "friendly", "delicious", "perfect", "wonderful"}

func polarityFromReview(review *models.Review) string {
	content := strings.ToLower(review.Content)
	score := 0
	for _, w := range negativeWords {
		if strings.Contains(content, w) {
			score--
		}
	}
	for _, w := range positiveWords {
		if strings.Contains(content, w) {
			score++
		}
	}
	if score > 0 {
		return "positive"
	}
	if score < 0 {
		return "negative"
	}

	if review.Rating != nil {
		switch {
		case *review.Rating <= 2:
			return "negative"
		case *review.Rating >= 4:
			return "positive"
		}
	}
	return "neutral"
}

func polarityFromScore(score float64) string {
	switch {
	case score > 0.15:
		return "positive"
	case score < -0.15:
		return "negative"
	default:
		return "neutral"
	}
}
