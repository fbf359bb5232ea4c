package sentiment

// Request models
type AnalyzeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
	TenantID uint   `json:"tenant_id,omitempty"`
}

// Response models
type AnalyzeResponse struct {
	// Score is the analyzer's sentiment in [-1, 1].
	Score  float64           `json:"score"`
	Themes []ThemeSuggestion `json:"themes,omitempty"`
}

// ThemeSuggestion is an optional theme hint returned alongside the score.
type ThemeSuggestion struct {
	Name       string   `json:"name"`
	Category   string   `json:"category,omitempty"`
	Polarity   string   `json:"polarity"`
	Confidence float64  `json:"confidence"`
	Keywords   []string `json:"keywords,omitempty"`
}
