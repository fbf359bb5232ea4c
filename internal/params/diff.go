package params

import (
	"reflect"
	"sort"

	"github.com/EdwardLH219/pickd-backend/internal/models"
)

// Diff computes the structural changelog between two documents: one entry per
// leaf whose value changed, path-qualified. Arrays (disabled sources, rule
// lists) are compared by value and reported as a single entry, not diffed
// element-wise.
func Diff(old, new Document) []models.ChangeEntry {
	var changes []models.ChangeEntry

	diffFloat := func(path string, a, b *float64) {
		av, bv := floatValue(a), floatValue(b)
		if av != bv {
			changes = append(changes, models.ChangeEntry{Path: path, OldValue: av, NewValue: bv})
		}
	}

	diffFloat("sentiment.blend_weight", old.Sentiment.BlendWeight, new.Sentiment.BlendWeight)
	diffFloat("time.half_life_days", old.Time.HalfLifeDays, new.Time.HalfLifeDays)
	diffFloat("source.min_multiplier", old.Source.MinMultiplier, new.Source.MinMultiplier)
	diffFloat("source.max_multiplier", old.Source.MaxMultiplier, new.Source.MaxMultiplier)
	diffFloat("source.default_multiplier", old.Source.DefaultMultiplier, new.Source.DefaultMultiplier)

	changes = append(changes, diffWeightTable(old.Source.Weights, new.Source.Weights)...)

	diffFloat("engagement.like_coeff", old.Engagement.LikeCoeff, new.Engagement.LikeCoeff)
	diffFloat("engagement.reply_coeff", old.Engagement.ReplyCoeff, new.Engagement.ReplyCoeff)
	diffFloat("engagement.helpful_coeff", old.Engagement.HelpfulCoeff, new.Engagement.HelpfulCoeff)
	diffFloat("engagement.cap", old.Engagement.Cap, new.Engagement.Cap)

	if !reflect.DeepEqual(old.Engagement.DisabledSources, new.Engagement.DisabledSources) {
		changes = append(changes, models.ChangeEntry{
			Path:     "engagement.disabled_sources",
			OldValue: old.Engagement.DisabledSources,
			NewValue: new.Engagement.DisabledSources,
		})
	}

	diffFloat("confidence.default_weight", old.Confidence.DefaultWeight, new.Confidence.DefaultWeight)

	if !reflect.DeepEqual(old.Confidence.Rules, new.Confidence.Rules) {
		changes = append(changes, models.ChangeEntry{
			Path:     "confidence.rules",
			OldValue: old.Confidence.Rules,
			NewValue: new.Confidence.Rules,
		})
	}

	return changes
}

func floatValue(p *float64) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

func diffWeightTable(old, new map[string]float64) []models.ChangeEntry {
	keys := make(map[string]bool, len(old)+len(new))
	for k := range old {
		keys[k] = true
	}
	for k := range new {
		keys[k] = true
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []models.ChangeEntry
	for _, k := range sorted {
		oldV, oldOK := old[k]
		newV, newOK := new[k]
		if oldOK && newOK && oldV == newV {
			continue
		}
		entry := models.ChangeEntry{Path: "source.weights." + k}
		if oldOK {
			entry.OldValue = oldV
		}
		if newOK {
			entry.NewValue = newV
		}
		changes = append(changes, entry)
	}
	return changes
}
