package models

// GORM models

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// StringArray for PostgreSQL array support
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if len(s) == 0 {
		return "{}", nil
	}
	return fmt.Sprintf("{%s}", strings.Join(s, ",")), nil
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = StringArray{}
		return nil
	}

	switch v := value.(type) {
	case string:
		if v == "{}" {
			*s = StringArray{}
			return nil
		}
		// Remove curly braces and split
		v = strings.Trim(v, "{}")
		if v == "" {
			*s = StringArray{}
			return nil
		}
		*s = StringArray(strings.Split(v, ","))
	case []byte:
		return s.Scan(string(v))
	default:
		return fmt.Errorf("cannot scan %T into StringArray", value)
	}
	return nil
}

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ParameterSet lifecycle statuses
const (
	ParamStatusDraft    = "DRAFT"
	ParamStatusActive   = "ACTIVE"
	ParamStatusArchived = "ARCHIVED"
)

// ScoreRun statuses
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusFailed    = "FAILED"
)

// Recommendation statuses
const (
	RecStatusOpen       = "OPEN"
	RecStatusInProgress = "IN_PROGRESS"
	RecStatusResolved   = "RESOLVED"
	RecStatusDismissed  = "DISMISSED"
)

// Tenant represents one customer account (a branch or venue)
type Tenant struct {
	BaseModel
	Name     string `json:"name" gorm:"not null"`
	Slug     string `json:"slug" gorm:"unique;not null"`
	City     string `json:"city"`
	Category string `json:"category"`
}

// Review is raw ingested feedback, consumed read-only by the scoring pipeline
type Review struct {
	BaseModel
	TenantID     uint      `json:"tenant_id" gorm:"not null;index"`
	SourceType   string    `json:"source_type" gorm:"not null;index"`
	ExternalID   string    `json:"external_id" gorm:"index"`
	Author       string    `json:"author"`
	Content      string    `json:"content" gorm:"type:text"`
	Rating       *int      `json:"rating"`
	LikesCount   int       `json:"likes_count" gorm:"default:0"`
	RepliesCount int       `json:"replies_count" gorm:"default:0"`
	HelpfulCount int       `json:"helpful_count" gorm:"default:0"`
	ReviewedAt   time.Time `json:"reviewed_at" gorm:"not null;index"`

	// Associations
	ThemeTags []ReviewThemeTag `json:"theme_tags" gorm:"foreignKey:ReviewID"`
}

// Theme is a named feedback category reviews can be tagged against
type Theme struct {
	BaseModel
	Name     string      `json:"name" gorm:"unique;not null"`
	Category string      `json:"category" gorm:"default:'GENERAL'"`
	Keywords StringArray `json:"keywords" gorm:"type:text[]"`
}

// ReviewThemeTag links a review to a theme with polarity and confidence
type ReviewThemeTag struct {
	BaseModel
	ReviewID        uint        `json:"review_id" gorm:"not null;uniqueIndex:idx_review_theme"`
	ThemeID         uint        `json:"theme_id" gorm:"not null;uniqueIndex:idx_review_theme"`
	Polarity        string      `json:"polarity" gorm:"not null;check:polarity IN ('positive','neutral','negative')"`
	Confidence      float64     `json:"confidence" gorm:"default:0"`
	MatchedKeywords StringArray `json:"matched_keywords" gorm:"type:text[]"`

	// Associations
	Theme Theme `json:"theme" gorm:"foreignKey:ThemeID"`
}

// ParameterSet is a versioned configuration bundle controlling every weight formula.
// Immutable once activated; at most one ACTIVE set exists at any time.
type ParameterSet struct {
	BaseModel
	Version     int            `json:"version" gorm:"unique;not null"`
	Status      string         `json:"status" gorm:"not null;default:'DRAFT';index;check:status IN ('DRAFT','ACTIVE','ARCHIVED')"`
	Raw         datatypes.JSON `json:"raw" gorm:"type:jsonb;not null"`
	CreatedBy   string         `json:"created_by"`
	ActivatedAt *time.Time     `json:"activated_at"`
	ActivatedBy string         `json:"activated_by"`
}

// ScoreRun is one execution of the scoring pipeline for a tenant/period.
// The pinned parameter set version never changes after the run starts.
type ScoreRun struct {
	ID                  string     `json:"id" gorm:"primaryKey;type:uuid"`
	TenantID            uint       `json:"tenant_id" gorm:"not null;index"`
	PeriodStart         time.Time  `json:"period_start" gorm:"not null"`
	PeriodEnd           time.Time  `json:"period_end" gorm:"not null"`
	Status              string     `json:"status" gorm:"not null;default:'PENDING';index;check:status IN ('PENDING','RUNNING','COMPLETED','FAILED')"`
	ParameterSetVersion int        `json:"parameter_set_version" gorm:"not null"`
	ReviewsProcessed    int        `json:"reviews_processed" gorm:"default:0"`
	ThemesProcessed     int        `json:"themes_processed" gorm:"default:0"`
	StartedAt           time.Time  `json:"started_at"`
	CompletedAt         *time.Time `json:"completed_at"`
	DurationMs          int        `json:"duration_ms" gorm:"default:0"`
	ErrorMessage        string     `json:"error_message"`
	CreatedAt           time.Time  `json:"created_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

// ReviewScore is one scored review within a run.
// Upserted on (review_id, score_run_id); re-running overwrites, never duplicates.
type ReviewScore struct {
	BaseModel
	ReviewID         uint           `json:"review_id" gorm:"not null;uniqueIndex:idx_review_run"`
	ScoreRunID       string         `json:"score_run_id" gorm:"not null;type:uuid;uniqueIndex:idx_review_run;index"`
	BaseSentiment    float64        `json:"base_sentiment"`
	TimeWeight       float64        `json:"time_weight"`
	SourceWeight     float64        `json:"source_weight"`
	EngagementWeight float64        `json:"engagement_weight"`
	ConfidenceWeight float64        `json:"confidence_weight"`
	WeightedImpact   float64        `json:"weighted_impact"`
	Components       datatypes.JSON `json:"components" gorm:"type:jsonb"`
}

// ThemeScore is the per-theme aggregate for a run.
// Upserted on (theme_id, score_run_id).
type ThemeScore struct {
	BaseModel
	ThemeID       uint           `json:"theme_id" gorm:"not null;uniqueIndex:idx_theme_run"`
	ScoreRunID    string         `json:"score_run_id" gorm:"not null;type:uuid;uniqueIndex:idx_theme_run;index"`
	TenantID      uint           `json:"tenant_id" gorm:"not null;index"`
	Sentiment     float64        `json:"sentiment"`
	Score010      float64        `json:"score_0_10"`
	MentionCount  int            `json:"mention_count" gorm:"default:0"`
	PositiveCount int            `json:"positive_count" gorm:"default:0"`
	NeutralCount  int            `json:"neutral_count" gorm:"default:0"`
	NegativeCount int            `json:"negative_count" gorm:"default:0"`
	Severity      string         `json:"severity"`
	Trend         string         `json:"trend"`
	Components    datatypes.JSON `json:"components" gorm:"type:jsonb"`

	// Associations
	Theme Theme `json:"theme" gorm:"foreignKey:ThemeID"`
}

// Recommendation is a severity-ranked alert derived from a theme score
type Recommendation struct {
	BaseModel
	TenantID         uint        `json:"tenant_id" gorm:"not null;index:idx_rec_tenant_theme"`
	ThemeID          uint        `json:"theme_id" gorm:"not null;index:idx_rec_tenant_theme"`
	ScoreRunID       string      `json:"score_run_id" gorm:"type:uuid"`
	Severity         string      `json:"severity" gorm:"not null"`
	Priority         int         `json:"priority" gorm:"default:0"`
	Title            string      `json:"title" gorm:"not null"`
	Description      string      `json:"description" gorm:"type:text"`
	SuggestedActions StringArray `json:"suggested_actions" gorm:"type:text[]"`
	Status           string      `json:"status" gorm:"not null;default:'OPEN';index;check:status IN ('OPEN','IN_PROGRESS','RESOLVED','DISMISSED')"`

	// Associations
	Theme Theme `json:"theme" gorm:"foreignKey:ThemeID"`
}

// Database interfaces for repository pattern
type ReviewRepository interface {
	Create(review *Review) error
	GetByID(id uint) (*Review, error)
	GetForPeriod(tenantID uint, start, end time.Time) ([]Review, error)
	GetUntaggedForPeriod(tenantID uint, start, end time.Time) ([]Review, error)
}

type ThemeRepository interface {
	Create(theme *Theme) error
	GetByName(name string) (*Theme, error)
	GetOrCreate(name, category string) (*Theme, error)
	GetAll() ([]Theme, error)
}

type ReviewThemeTagRepository interface {
	CreateBatch(tags []ReviewThemeTag) error
	GetByReviewIDs(reviewIDs []uint) ([]ReviewThemeTag, error)
}

type ParameterSetRepository interface {
	Create(set *ParameterSet) error
	Update(set *ParameterSet) error
	Delete(id uint) error
	GetByID(id uint) (*ParameterSet, error)
	GetByVersion(version int) (*ParameterSet, error)
	GetActive() (*ParameterSet, error)
	NextVersion() (int, error)
	List(limit int) ([]ParameterSet, error)
	// Activate archives the current ACTIVE set (if any) and marks id ACTIVE,
	// in one transaction.
	Activate(id uint, actor string, at time.Time) error
}

type ScoreRunRepository interface {
	Create(run *ScoreRun) error
	Update(run *ScoreRun) error
	GetByID(id string) (*ScoreRun, error)
	ListByTenant(tenantID uint, status string, page, pageSize int) ([]ScoreRun, int64, error)
	HasRunning(tenantID uint) (bool, error)
	PreviousCompleted(tenantID uint, before time.Time) (*ScoreRun, error)
	ListByParameterVersion(version int, limit int) ([]ScoreRun, error)
}

type ReviewScoreRepository interface {
	Upsert(score *ReviewScore) error
	GetByRun(runID string) ([]ReviewScore, error)
	CountByRun(runID string) (int64, error)
}

type ThemeScoreRepository interface {
	Upsert(score *ThemeScore) error
	GetByRun(runID string) ([]ThemeScore, error)
	CountByRun(runID string) (int64, error)
}

type RecommendationRepository interface {
	Create(rec *Recommendation) error
	GetByID(id uint) (*Recommendation, error)
	// ExistsActive reports whether an OPEN or IN_PROGRESS recommendation
	// already exists for the (tenant, theme) pair.
	ExistsActive(tenantID, themeID uint) (bool, error)
	ListByTenant(tenantID uint) ([]Recommendation, error)
	UpdateStatus(id uint, status string) error
}

// TableName methods for custom table names
func (Tenant) TableName() string         { return "tenants" }
func (Review) TableName() string         { return "reviews" }
func (Theme) TableName() string          { return "themes" }
func (ReviewThemeTag) TableName() string { return "review_theme_tags" }
func (ParameterSet) TableName() string   { return "parameter_sets" }
func (ScoreRun) TableName() string       { return "score_runs" }
func (ReviewScore) TableName() string    { return "review_scores" }
func (ThemeScore) TableName() string     { return "theme_scores" }
func (Recommendation) TableName() string { return "recommendations" }

// Model validation methods
func (r *Review) Validate() error {
	if r.TenantID == 0 {
		return fmt.Errorf("tenant ID is required")
	}
	if r.SourceType == "" {
		return fmt.Errorf("source type is required")
	}
	if r.Rating != nil && (*r.Rating < 1 || *r.Rating > 5) {
		return fmt.Errorf("rating must be between 1 and 5")
	}
	return nil
}

func (p *ParameterSet) Validate() error {
	validStatuses := map[string]bool{
		ParamStatusDraft:    true,
		ParamStatusActive:   true,
		ParamStatusArchived: true,
	}
	if !validStatuses[p.Status] {
		return fmt.Errorf("invalid parameter set status: %s", p.Status)
	}
	if p.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	return nil
}

func (sr *ScoreRun) Validate() error {
	if sr.TenantID == 0 {
		return fmt.Errorf("tenant ID is required")
	}
	if !sr.PeriodEnd.After(sr.PeriodStart) {
		return fmt.Errorf("period end must be after period start")
	}
	validStatuses := map[string]bool{
		RunStatusPending:   true,
		RunStatusRunning:   true,
		RunStatusCompleted: true,
		RunStatusFailed:    true,
	}
	if !validStatuses[sr.Status] {
		return fmt.Errorf("invalid run status: %s", sr.Status)
	}
	return nil
}

func (rec *Recommendation) Validate() error {
	if rec.TenantID == 0 || rec.ThemeID == 0 {
		return fmt.Errorf("tenant ID and theme ID are required")
	}
	validStatuses := map[string]bool{
		RecStatusOpen:       true,
		RecStatusInProgress: true,
		RecStatusResolved:   true,
		RecStatusDismissed:  true,
	}
	if !validStatuses[rec.Status] {
		return fmt.Errorf("invalid recommendation status: %s", rec.Status)
	}
	return nil
}

// GORM hooks
func (r *Review) BeforeCreate(tx *gorm.DB) error {
	return r.Validate()
}

func (p *ParameterSet) BeforeCreate(tx *gorm.DB) error {
	return p.Validate()
}

func (p *ParameterSet) BeforeUpdate(tx *gorm.DB) error {
	return p.Validate()
}

func (sr *ScoreRun) BeforeCreate(tx *gorm.DB) error {
	return sr.Validate()
}

func (rec *Recommendation) BeforeCreate(tx *gorm.DB) error {
	return rec.Validate()
}
