// Package scoring implements the weighted review-scoring pipeline: the four
// weight calculators, the confidence rule engine, and the score run
// orchestrator.
package scoring

import (
	"math"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/params"
)

// TimeWeight is the recency decay applied to a review's sentiment.
type TimeWeight struct {
	DeltaDays float64 `json:"delta_days"`
	Raw       float64 `json:"raw"`
	Value     float64 `json:"value"`
}

// ComputeTimeWeight returns exp(-lambda * dt) with lambda = ln2 / half-life.
// Future-dated reviews clamp dt to 0, so the result is always in (0, 1].
func ComputeTimeWeight(reviewedAt, asOf time.Time, doc params.Document) TimeWeight {
	halfLife := 30.0
	if doc.Time.HalfLifeDays != nil && *doc.Time.HalfLifeDays > 0 {
		halfLife = *doc.Time.HalfLifeDays
	}

	deltaDays := asOf.Sub(reviewedAt).Hours() / 24
	raw := math.Exp(-math.Ln2 / halfLife * deltaDays)

	value := raw
	if deltaDays < 0 {
		value = 1.0
	}

	return TimeWeight{
		DeltaDays: deltaDays,
		Raw:       raw,
		Value:     value,
	}
}

// SourceWeight is the per-source reliability multiplier.
type SourceWeight struct {
	SourceType  string  `json:"source_type"`
	Raw         float64 `json:"raw"`
	Value       float64 `json:"value"`
	Clamped     bool    `json:"clamped"`
	UsedDefault bool    `json:"used_default"`
}

// ComputeSourceWeight looks the source type up in the configured multiplier
// table. Known multipliers are clamped into the [min, max] band; unknown
// sources fall back to the default multiplier and are flagged for audit.
func ComputeSourceWeight(sourceType string, doc params.Document) SourceWeight {
	min, max := 0.5, 1.5
	if doc.Source.MinMultiplier != nil {
		min = *doc.Source.MinMultiplier
	}
	if doc.Source.MaxMultiplier != nil {
		max = *doc.Source.MaxMultiplier
	}

	raw, known := doc.Source.Weights[sourceType]
	if !known {
		def := 1.0
		if doc.Source.DefaultMultiplier != nil {
			def = *doc.Source.DefaultMultiplier
		}
		return SourceWeight{
			SourceType:  sourceType,
			Raw:         def,
			Value:       def,
			Clamped:     false,
			UsedDefault: true,
		}
	}

	value := raw
	if value < min {
		value = min
	} else if value > max {
		value = max
	}

	return SourceWeight{
		SourceType: sourceType,
		Raw:        raw,
		Value:      value,
		Clamped:    value != raw,
	}
}

// EngagementWeight is the boost from public engagement signals.
type EngagementWeight struct {
	Raw      float64 `json:"raw"`
	Value    float64 `json:"value"`
	Disabled bool    `json:"disabled"`
}

// ComputeEngagementWeight combines like/reply/helpful counts linearly on top
// of a 1.0 baseline and caps the result. Sources with engagement disabled
// (no public engagement signal) always get exactly 1.0.
func ComputeEngagementWeight(likes, replies, helpful int, sourceType string, doc params.Document) EngagementWeight {
	for _, disabled := range doc.Engagement.DisabledSources {
		if disabled == sourceType {
			return EngagementWeight{Raw: 1.0, Value: 1.0, Disabled: true}
		}
	}

	likeCoeff, replyCoeff, helpfulCoeff := 0.0, 0.0, 0.0
	if doc.Engagement.LikeCoeff != nil {
		likeCoeff = *doc.Engagement.LikeCoeff
	}
	if doc.Engagement.ReplyCoeff != nil {
		replyCoeff = *doc.Engagement.ReplyCoeff
	}
	if doc.Engagement.HelpfulCoeff != nil {
		helpfulCoeff = *doc.Engagement.HelpfulCoeff
	}

	cap := 1.5
	if doc.Engagement.Cap != nil {
		cap = *doc.Engagement.Cap
	}

	raw := 1.0 + likeCoeff*float64(likes) + replyCoeff*float64(replies) + helpfulCoeff*float64(helpful)

	value := raw
	if value > cap {
		value = cap
	}

	return EngagementWeight{Raw: raw, Value: value}
}

// ComputeBaseSentiment blends the capability's score with the normalized star
// rating. A review without a rating uses the capability score alone.
func ComputeBaseSentiment(capabilityScore float64, rating *int, doc params.Document) float64 {
	if rating == nil {
		return capabilityScore
	}

	blend := 0.7
	if doc.Sentiment.BlendWeight != nil {
		blend = *doc.Sentiment.BlendWeight
	}

	// Map 1..5 stars onto [-1, 1]
	ratingNorm := (float64(*rating) - 3) / 2

	return blend*capabilityScore + (1-blend)*ratingNorm
}
