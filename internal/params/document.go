// Package params implements the versioned parameter store driving every
// weight formula: typed merge, validation with clamping, structural diff,
// and the DRAFT/ACTIVE/ARCHIVED lifecycle.
package params

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedDocument flags override payloads that cannot be parsed into
// the knob tree, including unknown field names.
var ErrMalformedDocument = errors.New("malformed parameter overrides")

// Condition types for confidence rules
const (
	CondRatingBelow   = "rating_below"
	CondRatingAbove   = "rating_above"
	CondSourceEquals  = "source_equals"
	CondTextShorter   = "text_shorter_than"
	CondTextLonger    = "text_longer_than"
	CondMinEngagement = "min_engagement"
)

// ReasonNoRuleMatch is returned when no confidence rule matches a review.
const ReasonNoRuleMatch = "NO_RULE_MATCH"

// Document is one parameter set's knob tree. Every leaf is optional so the
// same type serves as base, override and merged result; an unset leaf
// inherits the base during merge.
type Document struct {
	Sentiment  SentimentParams  `json:"sentiment"`
	Time       TimeParams       `json:"time"`
	Source     SourceParams     `json:"source"`
	Engagement EngagementParams `json:"engagement"`
	Confidence ConfidenceParams `json:"confidence"`
}

type SentimentParams struct {
	// BlendWeight is the share of the capability's sentiment score in the
	// base sentiment; (1 - BlendWeight) comes from the star rating.
	BlendWeight *float64 `json:"blend_weight,omitempty"`
}

type TimeParams struct {
	HalfLifeDays *float64 `json:"half_life_days,omitempty"`
}

type SourceParams struct {
	Weights           map[string]float64 `json:"weights,omitempty"`
	MinMultiplier     *float64           `json:"min_multiplier,omitempty"`
	MaxMultiplier     *float64           `json:"max_multiplier,omitempty"`
	DefaultMultiplier *float64           `json:"default_multiplier,omitempty"`
}

type EngagementParams struct {
	LikeCoeff       *float64 `json:"like_coeff,omitempty"`
	ReplyCoeff      *float64 `json:"reply_coeff,omitempty"`
	HelpfulCoeff    *float64 `json:"helpful_coeff,omitempty"`
	Cap             *float64 `json:"cap,omitempty"`
	DisabledSources []string `json:"disabled_sources,omitempty"`
}

type ConfidenceParams struct {
	Rules         []Rule   `json:"rules,omitempty"`
	DefaultWeight *float64 `json:"default_weight,omitempty"`
}

// Rule is one ordered confidence rule; the first matching rule wins.
type Rule struct {
	ID        string    `json:"id"`
	Condition Condition `json:"condition"`
	Weight    float64   `json:"weight"`
	Reason    string    `json:"reason"`
}

// Condition is a tagged variant: Type selects which value field applies.
type Condition struct {
	Type       string  `json:"type"`
	Threshold  float64 `json:"threshold,omitempty"`
	SourceType string  `json:"source_type,omitempty"`
}

func f64(v float64) *float64 { return &v }

// Defaults returns the hard-coded base document used when no ACTIVE set
// exists yet.
func Defaults() Document {
	return Document{
		Sentiment: SentimentParams{
			BlendWeight: f64(0.7),
		},
		Time: TimeParams{
			HalfLifeDays: f64(30),
		},
		Source: SourceParams{
			Weights: map[string]float64{
				"google":     1.2,
				"website":    1.0,
				"hellopeter": 0.9,
				"qr_receipt": 1.1,
			},
			MinMultiplier:     f64(0.5),
			MaxMultiplier:     f64(1.5),
			DefaultMultiplier: f64(1.0),
		},
		Engagement: EngagementParams{
			LikeCoeff:       f64(0.02),
			ReplyCoeff:      f64(0.05),
			HelpfulCoeff:    f64(0.03),
			Cap:             f64(1.5),
			DisabledSources: []string{"qr_receipt"},
		},
		Confidence: ConfidenceParams{
			DefaultWeight: f64(1.0),
			Rules: []Rule{
				{
					ID:        "short-text",
					Condition: Condition{Type: CondTextShorter, Threshold: 20},
					Weight:    0.6,
					Reason:    "TEXT_TOO_SHORT",
				},
				{
					ID:        "extreme-rating-no-text",
					Condition: Condition{Type: CondRatingBelow, Threshold: 2},
					Weight:    0.9,
					Reason:    "EXTREME_RATING",
				},
				{
					ID:        "engaged-review",
					Condition: Condition{Type: CondMinEngagement, Threshold: 5},
					Weight:    1.2,
					Reason:    "HIGH_ENGAGEMENT",
				},
			},
		},
	}
}

// Decode parses a raw override tree into a Document. Unknown fields are
// rejected so a typoed knob path fails validation instead of being ignored.
func Decode(raw json.RawMessage) (Document, error) {
	var doc Document
	if len(raw) == 0 {
		return doc, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return doc, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	return doc, nil
}

// Encode serializes a document for persistence.
func Encode(doc Document) (json.RawMessage, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal parameter document: %w", err)
	}
	return data, nil
}
