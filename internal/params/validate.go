package params

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
)

// ValidationError carries every violated constraint, path-qualified.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter validation failed: %s", strings.Join(e.Violations, "; "))
}

type clampBound struct {
	min, max float64
}

// Clamp intervals for numeric leaves. Out-of-range values are pulled back to
// the interval silently (logged, never an error).
var clampBounds = map[string]clampBound{
	"sentiment.blend_weight":    {0, 1},
	"time.half_life_days":       {1, 365},
	"engagement.like_coeff":     {0, 1},
	"engagement.reply_coeff":    {0, 1},
	"engagement.helpful_coeff":  {0, 1},
	"engagement.cap":            {1, 10},
	"confidence.default_weight": {0.1, 2},
	"source.default_multiplier": {0.1, 3},
}

type validator struct {
	logger     *logrus.Logger
	violations []string
}

func (v *validator) violate(path, format string, args ...interface{}) {
	v.violations = append(v.violations, fmt.Sprintf("%s: %s", path, fmt.Sprintf(format, args...)))
}

func (v *validator) clampLeaf(path string, leaf *float64) {
	if leaf == nil {
		return
	}
	bound, ok := clampBounds[path]
	if !ok {
		return
	}
	if math.IsNaN(*leaf) || math.IsInf(*leaf, 0) {
		v.violate(path, "value must be a finite number")
		return
	}
	raw := *leaf
	if raw < bound.min {
		*leaf = bound.min
	} else if raw > bound.max {
		*leaf = bound.max
	}
	if raw != *leaf {
		v.logger.WithFields(logrus.Fields{
			"path":    path,
			"raw":     raw,
			"clamped": *leaf,
		}).Info("Clamped out-of-range parameter value")
	}
}

// ValidateAndClamp checks every leaf of doc, clamping out-of-range numerics in
// place and collecting all remaining violations. The returned error, if any,
// is a *ValidationError listing every constraint violated, not just the first.
func ValidateAndClamp(doc *Document, logger *logrus.Logger) error {
	v := &validator{logger: logger}

	v.clampLeaf("sentiment.blend_weight", doc.Sentiment.BlendWeight)
	v.clampLeaf("time.half_life_days", doc.Time.HalfLifeDays)
	v.clampLeaf("engagement.like_coeff", doc.Engagement.LikeCoeff)
	v.clampLeaf("engagement.reply_coeff", doc.Engagement.ReplyCoeff)
	v.clampLeaf("engagement.helpful_coeff", doc.Engagement.HelpfulCoeff)
	v.clampLeaf("engagement.cap", doc.Engagement.Cap)
	v.clampLeaf("confidence.default_weight", doc.Confidence.DefaultWeight)
	v.clampLeaf("source.default_multiplier", doc.Source.DefaultMultiplier)

	v.validateSourceBand(doc)
	v.validateRules(doc)

	if len(v.violations) > 0 {
		return &ValidationError{Violations: v.violations}
	}
	return nil
}

// validateSourceBand checks the clamp band itself, then clamps every source
// multiplier into it.
func (v *validator) validateSourceBand(doc *Document) {
	min, max := 0.5, 1.5
	if doc.Source.MinMultiplier != nil {
		min = *doc.Source.MinMultiplier
	}
	if doc.Source.MaxMultiplier != nil {
		max = *doc.Source.MaxMultiplier
	}
	if min <= 0 {
		v.violate("source.min_multiplier", "must be positive, got %v", min)
		return
	}
	if min > max {
		v.violate("source.min_multiplier", "must not exceed source.max_multiplier (%v > %v)", min, max)
		return
	}

	for source, weight := range doc.Source.Weights {
		path := "source.weights." + source
		if math.IsNaN(weight) || math.IsInf(weight, 0) {
			v.violate(path, "value must be a finite number")
			continue
		}
		clamped := weight
		if clamped < min {
			clamped = min
		} else if clamped > max {
			clamped = max
		}
		if clamped != weight {
			doc.Source.Weights[source] = clamped
			v.logger.WithFields(logrus.Fields{
				"path":    path,
				"raw":     weight,
				"clamped": clamped,
			}).Info("Clamped source multiplier into configured band")
		}
	}
}

func (v *validator) validateRules(doc *Document) {
	validConditions := map[string]bool{
		CondRatingBelow:   true,
		CondRatingAbove:   true,
		CondSourceEquals:  true,
		CondTextShorter:   true,
		CondTextLonger:    true,
		CondMinEngagement: true,
	}

	seen := make(map[string]bool)
	for i, rule := range doc.Confidence.Rules {
		path := fmt.Sprintf("confidence.rules[%d]", i)
		if rule.ID == "" {
			v.violate(path+".id", "rule ID is required")
		} else if seen[rule.ID] {
			v.violate(path+".id", "duplicate rule ID %q", rule.ID)
		}
		seen[rule.ID] = true

		if !validConditions[rule.Condition.Type] {
			v.violate(path+".condition.type", "unknown condition type %q", rule.Condition.Type)
		}
		if rule.Condition.Type == CondSourceEquals && rule.Condition.SourceType == "" {
			v.violate(path+".condition.source_type", "source_type is required for source_equals")
		}
		if rule.Weight <= 0 || rule.Weight > 2 {
			v.violate(path+".weight", "must be in (0, 2], got %v", rule.Weight)
		}
		if rule.Reason == "" {
			v.violate(path+".reason", "reason code is required")
		}
	}
}
