package params

// Merge deep-merges override onto base, leaf by leaf. An unset override leaf
// inherits the base value; maps merge key-wise; arrays replace wholesale.
func Merge(base, override Document) Document {
	return Document{
		Sentiment:  mergeSentiment(base.Sentiment, override.Sentiment),
		Time:       mergeTime(base.Time, override.Time),
		Source:     mergeSource(base.Source, override.Source),
		Engagement: mergeEngagement(base.Engagement, override.Engagement),
		Confidence: mergeConfidence(base.Confidence, override.Confidence),
	}
}

func pickFloat(base, override *float64) *float64 {
	if override != nil {
		v := *override
		return &v
	}
	if base != nil {
		v := *base
		return &v
	}
	return nil
}

func pickStrings(base, override []string) []string {
	if override != nil {
		out := make([]string, len(override))
		copy(out, override)
		return out
	}
	if base != nil {
		out := make([]string, len(base))
		copy(out, base)
		return out
	}
	return nil
}

func mergeSentiment(base, override SentimentParams) SentimentParams {
	return SentimentParams{
		BlendWeight: pickFloat(base.BlendWeight, override.BlendWeight),
	}
}

func mergeTime(base, override TimeParams) TimeParams {
	return TimeParams{
		HalfLifeDays: pickFloat(base.HalfLifeDays, override.HalfLifeDays),
	}
}

func mergeSource(base, override SourceParams) SourceParams {
	merged := SourceParams{
		MinMultiplier:     pickFloat(base.MinMultiplier, override.MinMultiplier),
		MaxMultiplier:     pickFloat(base.MaxMultiplier, override.MaxMultiplier),
		DefaultMultiplier: pickFloat(base.DefaultMultiplier, override.DefaultMultiplier),
	}

	if base.Weights != nil || override.Weights != nil {
		merged.Weights = make(map[string]float64, len(base.Weights)+len(override.Weights))
		for k, v := range base.Weights {
			merged.Weights[k] = v
		}
		for k, v := range override.Weights {
			merged.Weights[k] = v
		}
	}

	return merged
}

func mergeEngagement(base, override EngagementParams) EngagementParams {
	return EngagementParams{
		LikeCoeff:       pickFloat(base.LikeCoeff, override.LikeCoeff),
		ReplyCoeff:      pickFloat(base.ReplyCoeff, override.ReplyCoeff),
		HelpfulCoeff:    pickFloat(base.HelpfulCoeff, override.HelpfulCoeff),
		Cap:             pickFloat(base.Cap, override.Cap),
		DisabledSources: pickStrings(base.DisabledSources, override.DisabledSources),
	}
}

func mergeConfidence(base, override ConfidenceParams) ConfidenceParams {
	merged := ConfidenceParams{
		DefaultWeight: pickFloat(base.DefaultWeight, override.DefaultWeight),
	}

	// Rule lists are ordered and first-match; an override always replaces the
	// whole list rather than splicing into it.
	rules := base.Rules
	if override.Rules != nil {
		rules = override.Rules
	}
	if rules != nil {
		merged.Rules = make([]Rule, len(rules))
		copy(merged.Rules, rules)
	}

	return merged
}
