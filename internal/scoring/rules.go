package scoring

import (
	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
)

// ConfidenceWeight is the outcome of matching a review against the ordered
// rule list, with the reason code kept for audit.
type ConfidenceWeight struct {
	RuleID string  `json:"rule_id,omitempty"`
	Reason string  `json:"reason"`
	Value  float64 `json:"value"`
}

// ComputeConfidenceWeight walks the ordered rule list and returns the first
// matching rule's weight and reason code. When no rule matches, the
// configured default weight is returned with reason NO_RULE_MATCH.
func ComputeConfidenceWeight(review *models.Review, doc params.Document) ConfidenceWeight {
	for _, rule := range doc.Confidence.Rules {
		if matchCondition(rule.Condition, review) {
			return ConfidenceWeight{
				RuleID: rule.ID,
				Reason: rule.Reason,
				Value:  rule.Weight,
			}
		}
	}

	def := 1.0
	if doc.Confidence.DefaultWeight != nil {
		def = *doc.Confidence.DefaultWeight
	}
	return ConfidenceWeight{
		Reason: params.ReasonNoRuleMatch,
		Value:  def,
	}
}

// matchCondition dispatches on the condition's tag. Unknown types never match;
// validation rejects them before a document reaches this point.
func matchCondition(cond params.Condition, review *models.Review) bool {
	switch cond.Type {
	case params.CondRatingBelow:
		return review.Rating != nil && float64(*review.Rating) < cond.Threshold
	case params.CondRatingAbove:
		return review.Rating != nil && float64(*review.Rating) > cond.Threshold
	case params.CondSourceEquals:
		return review.SourceType == cond.SourceType
	case params.CondTextShorter:
		return len(review.Content) < int(cond.Threshold)
	case params.CondTextLonger:
		return len(review.Content) > int(cond.Threshold)
	case params.CondMinEngagement:
		total := review.LikesCount + review.RepliesCount + review.HelpfulCount
		return float64(total) >= cond.Threshold
	default:
		return false
	}
}
