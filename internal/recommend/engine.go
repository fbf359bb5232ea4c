// Package recommend turns aggregated theme scores into severity-ranked,
// deduplicated recommendations.
package recommend

import (
	"fmt"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/sirupsen/logrus"
)

// Severity levels, worst first.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
	SeverityNone     = "none"
)

// SeverityFor buckets a 0-10 theme score. Step function: lower scores mean
// the theme is hurting the branch more.
func SeverityFor(score010 float64) string {
	switch {
	case score010 < 2:
		return SeverityCritical
	case score010 < 4:
		return SeverityHigh
	case score010 < 6:
		return SeverityMedium
	case score010 < 8:
		return SeverityLow
	default:
		return SeverityNone
	}
}

// PriorityFor orders severities for presentation; higher sorts first.
func PriorityFor(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}

// actionTemplates maps a theme category to suggested remediation actions.
var actionTemplates = map[string][]string{
	"FOOD": {
		"Review kitchen prep and holding procedures with the head chef",
		"Run a tasting panel on the most-mentioned dishes",
		"Audit supplier quality for recent deliveries",
	},
	"SERVICE": {
		"Review staffing levels for peak hours",
		"Run a refresher on table service standards",
		"Track time-to-greet and time-to-serve for a week",
	},
	"CLEANLINESS": {
		"Increase cleaning rotation frequency for front of house",
		"Deep-clean restrooms and add an hourly checklist",
		"Inspect tables and menus before every service",
	},
	"VALUE": {
		"Benchmark menu prices against nearby competitors",
		"Review portion sizes on the most-complained items",
		"Introduce a weekday value offering",
	},
	"AMBIANCE": {
		"Review music volume and playlist for dinner service",
		"Assess lighting levels in the main seating area",
		"Gather staff feedback on seating layout pain points",
	},
}

var defaultActions = []string{
	"Review recent feedback mentioning this theme with the branch manager",
	"Identify the three most common complaints and assign owners",
}

// Engine generates recommendations from theme scores.
type Engine struct {
	recs   models.RecommendationRepository
	logger *logrus.Logger
}

func NewEngine(recs models.RecommendationRepository, logger *logrus.Logger) *Engine {
	return &Engine{recs: recs, logger: logger}
}

// Candidate builds the deterministic recommendation for a theme score, or nil
// when the score does not cross the severity threshold.
func (e *Engine) Candidate(run *models.ScoreRun, score models.ThemeScore) *models.Recommendation {
	severity := SeverityFor(score.Score010)
	if PriorityFor(severity) < PriorityFor(SeverityMedium) {
		return nil
	}

	themeName := score.Theme.Name
	if themeName == "" {
		themeName = fmt.Sprintf("theme %d", score.ThemeID)
	}

	actions, ok := actionTemplates[score.Theme.Category]
	if !ok {
		actions = defaultActions
	}

	return &models.Recommendation{
		TenantID:   run.TenantID,
		ThemeID:    score.ThemeID,
		ScoreRunID: run.ID,
		Severity:   severity,
		Priority:   PriorityFor(severity),
		Title:      fmt.Sprintf("Address %s", themeName),
		Description: fmt.Sprintf(
			"%s scored %.1f/10 over %d mentions (%d negative). Guests are flagging this theme as a recurring problem.",
			themeName, score.Score010, score.MentionCount, score.NegativeCount),
		SuggestedActions: actions,
		Status:           models.RecStatusOpen,
	}
}

// GenerateForRun creates recommendations for every theme score crossing the
// severity threshold, skipping themes that already have an OPEN or
// IN_PROGRESS recommendation so repeated runs never duplicate alerts.
func (e *Engine) GenerateForRun(run *models.ScoreRun, scores []models.ThemeScore) ([]models.Recommendation, error) {
	var created []models.Recommendation

	for _, score := range scores {
		candidate := e.Candidate(run, score)
		if candidate == nil {
			continue
		}

		exists, err := e.recs.ExistsActive(run.TenantID, score.ThemeID)
		if err != nil {
			return created, fmt.Errorf("failed to check existing recommendations: %w", err)
		}
		if exists {
			e.logger.WithFields(logrus.Fields{
				"tenant_id": run.TenantID,
				"theme_id":  score.ThemeID,
			}).Debug("Active recommendation exists, skipping")
			continue
		}

		if err := e.recs.Create(candidate); err != nil {
			return created, fmt.Errorf("failed to create recommendation: %w", err)
		}
		created = append(created, *candidate)

		e.logger.WithFields(logrus.Fields{
			"tenant_id": run.TenantID,
			"theme_id":  score.ThemeID,
			"severity":  candidate.Severity,
		}).Info("Created recommendation")
	}

	return created, nil
}
