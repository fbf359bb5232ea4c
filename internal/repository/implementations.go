package repository

import (
	"fmt"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ReviewRepositoryImpl implements ReviewRepository
type ReviewRepositoryImpl struct {
	db *gorm.DB
}

func NewReviewRepository(db *gorm.DB) models.ReviewRepository {
	return &ReviewRepositoryImpl{db: db}
}

func (r *ReviewRepositoryImpl) Create(review *models.Review) error {
	return r.db.Create(review).Error
}

func (r *ReviewRepositoryImpl) GetByID(id uint) (*models.Review, error) {
	var review models.Review
	err := r.db.Preload("ThemeTags").First(&review, id).Error
	if err != nil {
		return nil, err
	}
	return &review, nil
}

func (r *ReviewRepositoryImpl) GetForPeriod(tenantID uint, start, end time.Time) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.Where("tenant_id = ? AND reviewed_at >= ? AND reviewed_at < ?", tenantID, start, end).
		Preload("ThemeTags").
		Order("reviewed_at").
		Find(&reviews).Error
	return reviews, err
}

func (r *ReviewRepositoryImpl) GetUntaggedForPeriod(tenantID uint, start, end time.Time) ([]models.Review, error) {
	var reviews []models.Review
	err := r.db.Where("tenant_id = ? AND reviewed_at >= ? AND reviewed_at < ?", tenantID, start, end).
		Where("NOT EXISTS (SELECT 1 FROM review_theme_tags WHERE review_theme_tags.review_id = reviews.id)").
		Order("reviewed_at").
		Find(&reviews).Error
	return reviews, err
}

// ThemeRepositoryImpl implements ThemeRepository
type ThemeRepositoryImpl struct {
	db *gorm.DB
}

func NewThemeRepository(db *gorm.DB) models.ThemeRepository {
	return &ThemeRepositoryImpl{db: db}
}

func (r *ThemeRepositoryImpl) Create(theme *models.Theme) error {
	return r.db.Create(theme).Error
}

func (r *ThemeRepositoryImpl) GetByName(name string) (*models.Theme, error) {
	var theme models.Theme
	err := r.db.Where("name = ?", name).First(&theme).Error
	if err != nil {
		return nil, err
	}
	return &theme, nil
}

func (r *ThemeRepositoryImpl) GetOrCreate(name, category string) (*models.Theme, error) {
	theme, err := r.GetByName(name)
	if err == nil {
		return theme, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	created := &models.Theme{Name: name, Category: category}
	if err := r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(created).Error; err != nil {
		return nil, err
	}
	// Re-read so a concurrent insert still yields the canonical row
	return r.GetByName(name)
}

func (r *ThemeRepositoryImpl) GetAll() ([]models.Theme, error) {
	var themes []models.Theme
	err := r.db.Order("name").Find(&themes).Error
	return themes, err
}

// ReviewThemeTagRepositoryImpl implements ReviewThemeTagRepository
type ReviewThemeTagRepositoryImpl struct {
	db *gorm.DB
}

func NewReviewThemeTagRepository(db *gorm.DB) models.ReviewThemeTagRepository {
	return &ReviewThemeTagRepositoryImpl{db: db}
}

func (r *ReviewThemeTagRepositoryImpl) CreateBatch(tags []models.ReviewThemeTag) error {
	if len(tags) == 0 {
		return nil
	}
	// One polarity per (review, theme); a duplicate extraction is a no-op
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "review_id"}, {Name: "theme_id"}},
		DoNothing: true,
	}).Create(&tags).Error
}

func (r *ReviewThemeTagRepositoryImpl) GetByReviewIDs(reviewIDs []uint) ([]models.ReviewThemeTag, error) {
	var tags []models.ReviewThemeTag
	if len(reviewIDs) == 0 {
		return tags, nil
	}
	err := r.db.Where("review_id IN ?", reviewIDs).
		Preload("Theme").
		Find(&tags).Error
	return tags, err
}

// ParameterSetRepositoryImpl implements ParameterSetRepository
type ParameterSetRepositoryImpl struct {
	db *gorm.DB
}

func NewParameterSetRepository(db *gorm.DB) models.ParameterSetRepository {
	return &ParameterSetRepositoryImpl{db: db}
}

func (r *ParameterSetRepositoryImpl) Create(set *models.ParameterSet) error {
	return r.db.Create(set).Error
}

func (r *ParameterSetRepositoryImpl) Update(set *models.ParameterSet) error {
	return r.db.Save(set).Error
}

func (r *ParameterSetRepositoryImpl) Delete(id uint) error {
	return r.db.Delete(&models.ParameterSet{}, id).Error
}

func (r *ParameterSetRepositoryImpl) GetByID(id uint) (*models.ParameterSet, error) {
	var set models.ParameterSet
	err := r.db.First(&set, id).Error
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (r *ParameterSetRepositoryImpl) GetByVersion(version int) (*models.ParameterSet, error) {
	var set models.ParameterSet
	err := r.db.Where("version = ?", version).First(&set).Error
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (r *ParameterSetRepositoryImpl) GetActive() (*models.ParameterSet, error) {
	var set models.ParameterSet
	err := r.db.Where("status = ?", models.ParamStatusActive).First(&set).Error
	if err != nil {
		return nil, err
	}
	return &set, nil
}

func (r *ParameterSetRepositoryImpl) NextVersion() (int, error) {
	var max int
	err := r.db.Model(&models.ParameterSet{}).
		Select("COALESCE(MAX(version), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *ParameterSetRepositoryImpl) List(limit int) ([]models.ParameterSet, error) {
	var sets []models.ParameterSet
	err := r.db.Order("version DESC").Limit(limit).Find(&sets).Error
	return sets, err
}

func (r *ParameterSetRepositoryImpl) Activate(id uint, actor string, at time.Time) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		// Archive the current ACTIVE set, if any
		if err := tx.Model(&models.ParameterSet{}).
			Where("status = ? AND id <> ?", models.ParamStatusActive, id).
			Update("status", models.ParamStatusArchived).Error; err != nil {
			return err
		}

		result := tx.Model(&models.ParameterSet{}).
			Where("id = ?", id).
			Updates(map[string]interface{}{
				"status":       models.ParamStatusActive,
				"activated_at": at,
				"activated_by": actor,
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("parameter set %d not found", id)
		}
		return nil
	})
}

// ScoreRunRepositoryImpl implements ScoreRunRepository
type ScoreRunRepositoryImpl struct {
	db *gorm.DB
}

func NewScoreRunRepository(db *gorm.DB) models.ScoreRunRepository {
	return &ScoreRunRepositoryImpl{db: db}
}

func (r *ScoreRunRepositoryImpl) Create(run *models.ScoreRun) error {
	return r.db.Create(run).Error
}

func (r *ScoreRunRepositoryImpl) Update(run *models.ScoreRun) error {
	return r.db.Save(run).Error
}

func (r *ScoreRunRepositoryImpl) GetByID(id string) (*models.ScoreRun, error) {
	var run models.ScoreRun
	err := r.db.Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ScoreRunRepositoryImpl) ListByTenant(tenantID uint, status string, page, pageSize int) ([]models.ScoreRun, int64, error) {
	query := r.db.Model(&models.ScoreRun{}).Where("tenant_id = ?", tenantID)
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []models.ScoreRun
	err := query.Order("started_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runs).Error
	return runs, total, err
}

func (r *ScoreRunRepositoryImpl) HasRunning(tenantID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.ScoreRun{}).
		Where("tenant_id = ? AND status = ?", tenantID, models.RunStatusRunning).
		Count(&count).Error
	return count > 0, err
}

func (r *ScoreRunRepositoryImpl) PreviousCompleted(tenantID uint, before time.Time) (*models.ScoreRun, error) {
	var run models.ScoreRun
	err := r.db.Where("tenant_id = ? AND status = ? AND started_at < ?",
		tenantID, models.RunStatusCompleted, before).
		Order("started_at DESC").
		First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *ScoreRunRepositoryImpl) ListByParameterVersion(version int, limit int) ([]models.ScoreRun, error) {
	var runs []models.ScoreRun
	err := r.db.Where("parameter_set_version = ?", version).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// ReviewScoreRepositoryImpl implements ReviewScoreRepository
type ReviewScoreRepositoryImpl struct {
	db *gorm.DB
}

func NewReviewScoreRepository(db *gorm.DB) models.ReviewScoreRepository {
	return &ReviewScoreRepositoryImpl{db: db}
}

func (r *ReviewScoreRepositoryImpl) Upsert(score *models.ReviewScore) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "review_id"}, {Name: "score_run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"base_sentiment", "time_weight", "source_weight",
			"engagement_weight", "confidence_weight", "weighted_impact",
			"components", "updated_at",
		}),
	}).Create(score).Error
}

func (r *ReviewScoreRepositoryImpl) GetByRun(runID string) ([]models.ReviewScore, error) {
	var scores []models.ReviewScore
	err := r.db.Where("score_run_id = ?", runID).Find(&scores).Error
	return scores, err
}

func (r *ReviewScoreRepositoryImpl) CountByRun(runID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.ReviewScore{}).
		Where("score_run_id = ?", runID).
		Count(&count).Error
	return count, err
}

// ThemeScoreRepositoryImpl implements ThemeScoreRepository
type ThemeScoreRepositoryImpl struct {
	db *gorm.DB
}

func NewThemeScoreRepository(db *gorm.DB) models.ThemeScoreRepository {
	return &ThemeScoreRepositoryImpl{db: db}
}

func (r *ThemeScoreRepositoryImpl) Upsert(score *models.ThemeScore) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "theme_id"}, {Name: "score_run_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sentiment", "score010", "mention_count", "positive_count",
			"neutral_count", "negative_count", "severity", "trend",
			"components", "updated_at",
		}),
	}).Create(score).Error
}

func (r *ThemeScoreRepositoryImpl) GetByRun(runID string) ([]models.ThemeScore, error) {
	var scores []models.ThemeScore
	err := r.db.Where("score_run_id = ?", runID).
		Preload("Theme").
		Order("score010").
		Find(&scores).Error
	return scores, err
}

func (r *ThemeScoreRepositoryImpl) CountByRun(runID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.ThemeScore{}).
		Where("score_run_id = ?", runID).
		Count(&count).Error
	return count, err
}

// RecommendationRepositoryImpl implements RecommendationRepository
type RecommendationRepositoryImpl struct {
	db *gorm.DB
}

func NewRecommendationRepository(db *gorm.DB) models.RecommendationRepository {
	return &RecommendationRepositoryImpl{db: db}
}

func (r *RecommendationRepositoryImpl) Create(rec *models.Recommendation) error {
	return r.db.Create(rec).Error
}

func (r *RecommendationRepositoryImpl) GetByID(id uint) (*models.Recommendation, error) {
	var rec models.Recommendation
	err := r.db.Preload("Theme").First(&rec, id).Error
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *RecommendationRepositoryImpl) ExistsActive(tenantID, themeID uint) (bool, error) {
	var count int64
	err := r.db.Model(&models.Recommendation{}).
		Where("tenant_id = ? AND theme_id = ? AND status IN ?",
			tenantID, themeID, []string{models.RecStatusOpen, models.RecStatusInProgress}).
		Count(&count).Error
	return count > 0, err
}

func (r *RecommendationRepositoryImpl) ListByTenant(tenantID uint) ([]models.Recommendation, error) {
	var recs []models.Recommendation
	err := r.db.Where("tenant_id = ?", tenantID).
		Preload("Theme").
		Order("priority DESC, created_at DESC").
		Find(&recs).Error
	return recs, err
}

func (r *RecommendationRepositoryImpl) UpdateStatus(id uint, status string) error {
	result := r.db.Model(&models.Recommendation{}).
		Where("id = ?", id).
		Update("status", status)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RepositoryManager bundles all repositories
type RepositoryManager struct {
	Review         models.ReviewRepository
	Theme          models.ThemeRepository
	ReviewThemeTag models.ReviewThemeTagRepository
	ParameterSet   models.ParameterSetRepository
	ScoreRun       models.ScoreRunRepository
	ReviewScore    models.ReviewScoreRepository
	ThemeScore     models.ThemeScoreRepository
	Recommendation models.RecommendationRepository
}

func NewRepositoryManager(db *gorm.DB) *RepositoryManager {
	return &RepositoryManager{
		Review:         NewReviewRepository(db),
		Theme:          NewThemeRepository(db),
		ReviewThemeTag: NewReviewThemeTagRepository(db),
		ParameterSet:   NewParameterSetRepository(db),
		ScoreRun:       NewScoreRunRepository(db),
		ReviewScore:    NewReviewScoreRepository(db),
		ThemeScore:     NewThemeScoreRepository(db),
		Recommendation: NewRecommendationRepository(db),
	}
}
