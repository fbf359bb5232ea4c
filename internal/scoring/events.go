package scoring

import "time"

// EventType identifies a progress event on the run's push channel.
type EventType string

const (
	EventStart          EventType = "start"
	EventInfo           EventType = "info"
	EventPhase          EventType = "phase"
	EventProgress       EventType = "progress"
	EventCalculation    EventType = "calculation"
	EventThemeScore     EventType = "theme_score"
	EventPhaseComplete  EventType = "phase_complete"
	EventRecommendation EventType = "recommendation"
	EventComplete       EventType = "complete"
	EventError          EventType = "error"
)

// Pipeline phases, in execution order.
const (
	PhaseExtraction     = "extraction"
	PhaseScoring        = "scoring"
	PhaseReviewPersist  = "review_persistence"
	PhaseAggregation    = "aggregation"
	PhaseThemePersist   = "theme_persistence"
	PhaseRecommendation = "recommendation"
)

// Event is one typed progress message. Consumers may miss events within a
// phase (the producer never blocks on a slow consumer) but complete/error and
// channel close are always terminal.
type Event struct {
	Type      EventType   `json:"type"`
	RunID     string      `json:"run_id"`
	Phase     string      `json:"phase,omitempty"`
	Message   string      `json:"message,omitempty"`
	Current   int         `json:"current,omitempty"`
	Total     int         `json:"total,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// RunResults summarizes a completed run for the complete event.
type RunResults struct {
	ReviewsProcessed int `json:"reviews_processed"`
	ReviewsSkipped   int `json:"reviews_skipped"`
	ThemesProcessed  int `json:"themes_processed"`
	Recommendations  int `json:"recommendations"`
	DurationMs       int `json:"duration_ms"`
}
