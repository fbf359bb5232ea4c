package scoring

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/internal/recommend"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/internal/sentiment"
	"github.com/EdwardLH219/pickd-backend/internal/themes"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// In-memory repository fakes. The repository interfaces exist so the
// pipeline can be exercised without Postgres.

type fakeTagRepo struct {
	mu   sync.Mutex
	tags []models.ReviewThemeTag
}

func (f *fakeTagRepo) CreateBatch(tags []models.ReviewThemeTag) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range tags {
		exists := false
		for _, have := range f.tags {
			if have.ReviewID == tag.ReviewID && have.ThemeID == tag.ThemeID {
				exists = true
				break
			}
		}
		if !exists {
			f.tags = append(f.tags, tag)
		}
	}
	return nil
}

func (f *fakeTagRepo) GetByReviewIDs(reviewIDs []uint) ([]models.ReviewThemeTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := make(map[uint]bool, len(reviewIDs))
	for _, id := range reviewIDs {
		want[id] = true
	}
	var out []models.ReviewThemeTag
	for _, tag := range f.tags {
		if want[tag.ReviewID] {
			out = append(out, tag)
		}
	}
	return out, nil
}

func (f *fakeTagRepo) tagged(reviewID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tag := range f.tags {
		if tag.ReviewID == reviewID {
			return true
		}
	}
	return false
}

type fakeReviewRepo struct {
	mu      sync.Mutex
	nextID  uint
	reviews []models.Review
	tags    *fakeTagRepo
}

func (f *fakeReviewRepo) Create(review *models.Review) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	review.ID = f.nextID
	f.reviews = append(f.reviews, *review)
	return nil
}

func (f *fakeReviewRepo) GetByID(id uint) (*models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.reviews {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeReviewRepo) GetForPeriod(tenantID uint, start, end time.Time) ([]models.Review, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Review
	for _, r := range f.reviews {
		if r.TenantID == tenantID && !r.ReviewedAt.Before(start) && r.ReviewedAt.Before(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeReviewRepo) GetUntaggedForPeriod(tenantID uint, start, end time.Time) ([]models.Review, error) {
	all, err := f.GetForPeriod(tenantID, start, end)
	if err != nil {
		return nil, err
	}
	var out []models.Review
	for _, r := range all {
		if !f.tags.tagged(r.ID) {
			out = append(out, r)
		}
	}
	return out, nil
}

type fakeThemeRepo struct {
	mu     sync.Mutex
	nextID uint
	themes []models.Theme
}

func (f *fakeThemeRepo) Create(theme *models.Theme) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	theme.ID = f.nextID
	f.themes = append(f.themes, *theme)
	return nil
}

func (f *fakeThemeRepo) GetByName(name string) (*models.Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, th := range f.themes {
		if th.Name == name {
			out := th
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeThemeRepo) GetOrCreate(name, category string) (*models.Theme, error) {
	if th, err := f.GetByName(name); err == nil {
		return th, nil
	}
	th := &models.Theme{Name: name, Category: category}
	if err := f.Create(th); err != nil {
		return nil, err
	}
	return th, nil
}

func (f *fakeThemeRepo) GetAll() ([]models.Theme, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Theme, len(f.themes))
	copy(out, f.themes)
	return out, nil
}

func (f *fakeThemeRepo) byID(id uint) models.Theme {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, th := range f.themes {
		if th.ID == id {
			return th
		}
	}
	return models.Theme{}
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]models.ScoreRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[string]models.ScoreRun)}
}

func (f *fakeRunRepo) Create(run *models.ScoreRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRunRepo) Update(run *models.ScoreRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = *run
	return nil
}

func (f *fakeRunRepo) GetByID(id string) (*models.ScoreRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &run, nil
}

func (f *fakeRunRepo) ListByTenant(tenantID uint, status string, page, pageSize int) ([]models.ScoreRun, int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScoreRun
	for _, run := range f.runs {
		if run.TenantID == tenantID && (status == "" || run.Status == status) {
			out = append(out, run)
		}
	}
	return out, int64(len(out)), nil
}

func (f *fakeRunRepo) HasRunning(tenantID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, run := range f.runs {
		if run.TenantID == tenantID && run.Status == models.RunStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRunRepo) PreviousCompleted(tenantID uint, before time.Time) (*models.ScoreRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *models.ScoreRun
	for _, run := range f.runs {
		run := run
		if run.TenantID != tenantID || run.Status != models.RunStatusCompleted || !run.StartedAt.Before(before) {
			continue
		}
		if best == nil || run.StartedAt.After(best.StartedAt) {
			best = &run
		}
	}
	if best == nil {
		return nil, gorm.ErrRecordNotFound
	}
	return best, nil
}

func (f *fakeRunRepo) ListByParameterVersion(version int, limit int) ([]models.ScoreRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ScoreRun
	for _, run := range f.runs {
		if run.ParameterSetVersion == version {
			out = append(out, run)
		}
	}
	return out, nil
}

type reviewScoreKey struct {
	reviewID uint
	runID    string
}

type fakeReviewScoreRepo struct {
	mu     sync.Mutex
	scores map[reviewScoreKey]models.ReviewScore
}

func newFakeReviewScoreRepo() *fakeReviewScoreRepo {
	return &fakeReviewScoreRepo{scores: make(map[reviewScoreKey]models.ReviewScore)}
}

func (f *fakeReviewScoreRepo) Upsert(score *models.ReviewScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[reviewScoreKey{score.ReviewID, score.ScoreRunID}] = *score
	return nil
}

func (f *fakeReviewScoreRepo) GetByRun(runID string) ([]models.ReviewScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReviewScore
	for key, score := range f.scores {
		if key.runID == runID {
			out = append(out, score)
		}
	}
	return out, nil
}

func (f *fakeReviewScoreRepo) CountByRun(runID string) (int64, error) {
	scores, _ := f.GetByRun(runID)
	return int64(len(scores)), nil
}

type themeScoreKey struct {
	themeID uint
	runID   string
}

type fakeThemeScoreRepo struct {
	mu     sync.Mutex
	scores map[themeScoreKey]models.ThemeScore
	themes *fakeThemeRepo
}

func newFakeThemeScoreRepo(themes *fakeThemeRepo) *fakeThemeScoreRepo {
	return &fakeThemeScoreRepo{scores: make(map[themeScoreKey]models.ThemeScore), themes: themes}
}

func (f *fakeThemeScoreRepo) Upsert(score *models.ThemeScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores[themeScoreKey{score.ThemeID, score.ScoreRunID}] = *score
	return nil
}

func (f *fakeThemeScoreRepo) GetByRun(runID string) ([]models.ThemeScore, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ThemeScore
	for key, score := range f.scores {
		if key.runID == runID {
			score.Theme = f.themes.byID(score.ThemeID)
			out = append(out, score)
		}
	}
	return out, nil
}

func (f *fakeThemeScoreRepo) CountByRun(runID string) (int64, error) {
	scores, _ := f.GetByRun(runID)
	return int64(len(scores)), nil
}

type fakeRecRepo struct {
	mu     sync.Mutex
	nextID uint
	recs   []models.Recommendation
}

func (f *fakeRecRepo) Create(rec *models.Recommendation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = f.nextID
	f.recs = append(f.recs, *rec)
	return nil
}

func (f *fakeRecRepo) GetByID(id uint) (*models.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.recs {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRecRepo) ExistsActive(tenantID, themeID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.recs {
		if rec.TenantID == tenantID && rec.ThemeID == themeID &&
			(rec.Status == models.RecStatusOpen || rec.Status == models.RecStatusInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeRecRepo) ListByTenant(tenantID uint) ([]models.Recommendation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Recommendation
	for _, rec := range f.recs {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (f *fakeRecRepo) UpdateStatus(id uint, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.recs {
		if f.recs[i].ID == id {
			f.recs[i].Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type fakeParamRepo struct {
	sets []*models.ParameterSet
}

func (f *fakeParamRepo) Create(set *models.ParameterSet) error { return nil }
func (f *fakeParamRepo) Update(set *models.ParameterSet) error { return nil }
func (f *fakeParamRepo) Delete(id uint) error { return nil }
func (f *fakeParamRepo) List(limit int) ([]models.ParameterSet, error) { return nil, nil }
func (f *fakeParamRepo) Activate(id uint, actor string, at time.Time) error { return nil }

func (f *fakeParamRepo) NextVersion() (int, error) {
	next := 1
	for _, set := range f.sets {
		if set.Version >= next {
			next = set.Version + 1
		}
	}
	return next, nil
}

func (f *fakeParamRepo) GetByID(id uint) (*models.ParameterSet, error) {
	for _, set := range f.sets {
		if set.ID == id {
			return set, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeParamRepo) GetByVersion(version int) (*models.ParameterSet, error) {
	for _, set := range f.sets {
		if set.Version == version {
			return set, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeParamRepo) GetActive() (*models.ParameterSet, error) {
	for _, set := range f.sets {
		if set.Status == models.ParamStatusActive {
			return set, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

// fakeAnalyzer returns a canned sentiment score per review text. With gate
// set, Analyze blocks until the gate closes or the context ends.
type fakeAnalyzer struct {
	mu     sync.Mutex
	scores map[string]float64
	gate   chan struct{}
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, text string) (*sentiment.AnalyzeResponse, error) {
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	score := f.scores[text]
	f.mu.Unlock()
	return &sentiment.AnalyzeResponse{Score: score}, nil
}

type pipelineFixture struct {
	pipeline  *Pipeline
	reviews   *fakeReviewRepo
	tags      *fakeTagRepo
	themes    *fakeThemeRepo
	runs      *fakeRunRepo
	rscores   *fakeReviewScoreRepo
	tscores   *fakeThemeScoreRepo
	recs      *fakeRecRepo
	paramRepo *fakeParamRepo
	analyzer  *fakeAnalyzer

	repos     *repository.RepositoryManager
	store     *params.Store
	extractor *themes.Extractor
	engine    *recommend.Engine
	logger    *logrus.Logger

	periodStart time.Time
	periodEnd   time.Time
	pinVersion  int
}

// neutralDocument makes every weight 1.0 (up to a vanishing time decay) so
// weighted impacts equal the analyzer's scores.
func neutralDocument() params.Document {
	return params.Document{
		Time: params.TimeParams{HalfLifeDays: f64(1e12)},
		Source: params.SourceParams{
			Weights:           map[string]float64{"website": 1.0},
			MinMultiplier:     f64(0.5),
			MaxMultiplier:     f64(1.5),
			DefaultMultiplier: f64(1.0),
		},
		Engagement: params.EngagementParams{
			LikeCoeff:    f64(0),
			ReplyCoeff:   f64(0),
			HelpfulCoeff: f64(0),
			Cap:          f64(1.5),
		},
		Confidence: params.ConfidenceParams{DefaultWeight: f64(1.0)},
	}
}

func newPipelineFixture(t *testing.T) *pipelineFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	tags := &fakeTagRepo{}
	f := &pipelineFixture{
		tags:     tags,
		reviews:  &fakeReviewRepo{tags: tags},
		themes:   &fakeThemeRepo{},
		runs:     newFakeRunRepo(),
		rscores:  newFakeReviewScoreRepo(),
		recs:     &fakeRecRepo{},
		analyzer: &fakeAnalyzer{scores: make(map[string]float64)},
	}
	f.tscores = newFakeThemeScoreRepo(f.themes)

	raw, err := params.Encode(neutralDocument())
	require.NoError(t, err)
	set := &models.ParameterSet{Version: 1, Status: models.ParamStatusActive, Raw: datatypes.JSON(raw)}
	set.ID = 1
	f.paramRepo = &fakeParamRepo{sets: []*models.ParameterSet{set}}

	f.repos = &repository.RepositoryManager{
		Review:         f.reviews,
		Theme:          f.themes,
		ReviewThemeTag: f.tags,
		ParameterSet:   f.paramRepo,
		ScoreRun:       f.runs,
		ReviewScore:    f.rscores,
		ThemeScore:     f.tscores,
		Recommendation: f.recs,
	}

	f.logger = logger
	f.store = params.NewStore(f.paramRepo, f.runs, nil, logger)
	f.extractor = themes.NewExtractor(f.themes, f.tags, f.analyzer, logger)
	f.engine = recommend.NewEngine(f.recs, logger)

	f.pipeline = NewPipeline(f.repos, f.store, f.analyzer, f.extractor, f.engine, logger, 2, 512)

	now := time.Now().UTC()
	f.periodStart = now.AddDate(0, 0, -7)
	f.periodEnd = now.Add(time.Hour)
	f.pinVersion = 1

	return f
}

// addReview seeds a pre-tagged review whose neutral-document weighted impact
// equals score.
func (f *pipelineFixture) addReview(t *testing.T, tenantID, themeID uint, score float64) *models.Review {
	t.Helper()

	content := fmt.Sprintf("seeded review %d for theme %d", len(f.reviews.reviews)+1, themeID)
	review := &models.Review{
		TenantID:   tenantID,
		SourceType: "website",
		Content:    content,
		ReviewedAt: time.Now().UTC().Add(-time.Hour),
	}
	require.NoError(t, f.reviews.Create(review))
	require.NoError(t, f.tags.CreateBatch([]models.ReviewThemeTag{
		{ReviewID: review.ID, ThemeID: themeID, Polarity: "neutral", Confidence: 1},
	}))

	f.analyzer.mu.Lock()
	f.analyzer.scores[content] = score
	f.analyzer.mu.Unlock()

	return review
}

// addParameterSet registers another stored version.
func (f *pipelineFixture) addParameterSet(t *testing.T, version int, doc params.Document) {
	t.Helper()

	raw, err := params.Encode(doc)
	require.NoError(t, err)
	set := &models.ParameterSet{Version: version, Status: models.ParamStatusDraft, Raw: datatypes.JSON(raw)}
	set.ID = uint(version)
	f.paramRepo.sets = append(f.paramRepo.sets, set)
}

func (f *pipelineFixture) trigger(t *testing.T, tenantID uint) (*models.ScoreRun, []Event) {
	t.Helper()
	return f.triggerOpts(t, tenantID, RunOptions{ParameterVersion: &f.pinVersion})
}

func (f *pipelineFixture) triggerOpts(t *testing.T, tenantID uint, opts RunOptions) (*models.ScoreRun, []Event) {
	t.Helper()

	run, events, err := f.pipeline.Trigger(context.Background(), tenantID, f.periodStart, f.periodEnd, opts)
	require.NoError(t, err)

	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	return run, collected
}

func TestPipeline_Run(t *testing.T) {
	f := newPipelineFixture(t)

	goodTheme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	badTheme, err := f.themes.GetOrCreate("Cleanliness", "CLEANLINESS")
	require.NoError(t, err)

	for _, score := range []float64{0.6, 0.4, 0.5, -0.3, -0.2} {
		f.addReview(t, 1, goodTheme.ID, score)
	}
	for _, score := range []float64{-0.8, -0.6} {
		f.addReview(t, 1, badTheme.ID, score)
	}

	run, events := f.trigger(t, 1)

	stored, err := f.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, 7, stored.ReviewsProcessed)
	assert.Equal(t, 2, stored.ThemesProcessed)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, 1, stored.ParameterSetVersion)

	themeScores, err := f.tscores.GetByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, themeScores, 2)

	byTheme := make(map[uint]models.ThemeScore)
	for _, ts := range themeScores {
		byTheme[ts.ThemeID] = ts
	}

	// 0.6+0.4+0.5-0.3-0.2 over |0.6|+|0.4|+|0.5|+|-0.3|+|-0.2| = 1.0/2.0
	good := byTheme[goodTheme.ID]
	assert.InDelta(t, 0.5, good.Sentiment, 1e-6)
	assert.InDelta(t, 7.5, good.Score010, 1e-6)
	assert.Equal(t, 5, good.MentionCount)
	assert.Equal(t, 3, good.PositiveCount)
	assert.Equal(t, 2, good.NegativeCount)
	assert.Equal(t, recommend.SeverityLow, good.Severity)
	assert.Equal(t, "new", good.Trend)

	bad := byTheme[badTheme.ID]
	assert.InDelta(t, -1.0, bad.Sentiment, 1e-6)
	assert.InDelta(t, 0.0, bad.Score010, 1e-6)
	assert.Equal(t, recommend.SeverityCritical, bad.Severity)

	// Only the critical theme crosses the recommendation threshold
	recs, err := f.recs.ListByTenant(1)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, badTheme.ID, recs[0].ThemeID)
	assert.Equal(t, recommend.SeverityCritical, recs[0].Severity)
	assert.Equal(t, "Address Cleanliness", recs[0].Title)
	assert.NotEmpty(t, recs[0].SuggestedActions)

	count, err := f.rscores.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)

	require.NotEmpty(t, events)
	assert.Equal(t, EventStart, events[0].Type)
	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type)
	results, ok := last.Payload.(*RunResults)
	require.True(t, ok)
	assert.Equal(t, 7, results.ReviewsProcessed)
	assert.Equal(t, 0, results.ReviewsSkipped)
	assert.Equal(t, 2, results.ThemesProcessed)
	assert.Equal(t, 1, results.Recommendations)
}

func TestPipeline_Rerun(t *testing.T) {
	f := newPipelineFixture(t)

	theme, err := f.themes.GetOrCreate("Food Quality", "FOOD")
	require.NoError(t, err)
	for _, score := range []float64{-0.8, -0.7, -0.9} {
		f.addReview(t, 1, theme.ID, score)
	}

	run1, _ := f.trigger(t, 1)
	time.Sleep(5 * time.Millisecond)
	run2, _ := f.trigger(t, 1)

	assert.NotEqual(t, run1.ID, run2.ID)

	// Same data, so the second run repeats the score and the trend is flat
	first, err := f.tscores.GetByRun(run1.ID)
	require.NoError(t, err)
	second, err := f.tscores.GetByRun(run2.ID)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.InDelta(t, first[0].Score010, second[0].Score010, 1e-6)
	assert.Equal(t, "new", first[0].Trend)
	assert.Equal(t, "flat", second[0].Trend)

	// The first run's OPEN recommendation suppresses a duplicate
	recs, err := f.recs.ListByTenant(1)
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestPipeline_ConcurrentTriggerConflicts(t *testing.T) {
	f := newPipelineFixture(t)

	theme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	f.addReview(t, 1, theme.ID, 0.5)

	gate := make(chan struct{})
	f.analyzer.gate = gate

	opts := RunOptions{ParameterVersion: &f.pinVersion}
	run, events, err := f.pipeline.Trigger(context.Background(), 1, f.periodStart, f.periodEnd, opts)
	require.NoError(t, err)

	// While the first run is still scoring, a second trigger is rejected
	_, _, err = f.pipeline.Trigger(context.Background(), 1, f.periodStart, f.periodEnd, opts)
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(gate)
	for range events {
	}

	stored, err := f.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)

	// With the first run finished the tenant is free again
	f.analyzer.gate = nil
	_, events2, err := f.pipeline.Trigger(context.Background(), 1, f.periodStart, f.periodEnd, opts)
	require.NoError(t, err)
	for range events2 {
	}
}

func TestPipeline_CancellationFailsRun(t *testing.T) {
	f := newPipelineFixture(t)

	theme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		f.addReview(t, 1, theme.ID, 0.5)
	}

	f.analyzer.gate = make(chan struct{}) // never closed; only cancellation releases Analyze

	ctx, cancel := context.WithCancel(context.Background())
	run, events, err := f.pipeline.Trigger(ctx, 1, f.periodStart, f.periodEnd, RunOptions{ParameterVersion: &f.pinVersion})
	require.NoError(t, err)

	cancel()

	var last Event
	for ev := range events {
		last = ev
	}
	assert.Equal(t, EventError, last.Type)

	stored, err := f.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	assert.Equal(t, "run cancelled", stored.ErrorMessage)
}

func TestPipeline_SkipsUnscorableReviews(t *testing.T) {
	f := newPipelineFixture(t)

	theme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	f.addReview(t, 1, theme.ID, 0.5)
	f.addReview(t, 1, theme.ID, 0.3)

	// A review without text cannot be scored; the run continues without it
	empty := &models.Review{TenantID: 1, SourceType: "website", ReviewedAt: time.Now().UTC().Add(-time.Hour)}
	require.NoError(t, f.reviews.Create(empty))
	require.NoError(t, f.tags.CreateBatch([]models.ReviewThemeTag{
		{ReviewID: empty.ID, ThemeID: theme.ID, Polarity: "neutral", Confidence: 1},
	}))

	run, events := f.trigger(t, 1)

	stored, err := f.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, 2, stored.ReviewsProcessed)

	count, err := f.rscores.CountByRun(run.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type)
	results, ok := last.Payload.(*RunResults)
	require.True(t, ok)
	assert.Equal(t, 1, results.ReviewsSkipped)

	// The empty review never contributed to the aggregate
	scores, err := f.tscores.GetByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.Equal(t, 2, scores[0].MentionCount)
}

func TestPipeline_RejectsInvalidPeriod(t *testing.T) {
	f := newPipelineFixture(t)

	_, _, err := f.pipeline.Trigger(context.Background(), 1, f.periodEnd, f.periodStart, RunOptions{ParameterVersion: &f.pinVersion})
	assert.Error(t, err)
}

func TestPipeline_TriggerReturnsRunSnapshot(t *testing.T) {
	f := newPipelineFixture(t)

	theme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		f.addReview(t, 1, theme.ID, 0.5)
	}

	run, events, err := f.pipeline.Trigger(context.Background(), 1, f.periodStart, f.periodEnd, RunOptions{ParameterVersion: &f.pinVersion})
	require.NoError(t, err)

	// The caller's copy stays readable while the run executes
	for i := 0; i < 200; i++ {
		_ = run.Status
		_ = run.ReviewsProcessed
	}
	for range events {
	}

	// Terminal state lands in the repository, not in the caller's copy
	assert.Equal(t, models.RunStatusRunning, run.Status)
	assert.Nil(t, run.CompletedAt)

	stored, err := f.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Equal(t, 20, stored.ReviewsProcessed)
}

func TestPipeline_RuleSetVersionOverride(t *testing.T) {
	f := newPipelineFixture(t)

	ruleDoc := neutralDocument()
	ruleDoc.Confidence.Rules = []params.Rule{{
		ID:        "halve-website",
		Condition: params.Condition{Type: params.CondSourceEquals, SourceType: "website"},
		Weight:    0.5,
		Reason:    "WEBSITE_HALVED",
	}}
	f.addParameterSet(t, 2, ruleDoc)

	theme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	f.addReview(t, 1, theme.ID, 0.8)

	ruleVersion := 2
	run, _ := f.triggerOpts(t, 1, RunOptions{ParameterVersion: &f.pinVersion, RuleSetVersion: &ruleVersion})

	// The run still pins the base set; only the confidence section rides
	// the overriding version
	stored, err := f.runs.GetByID(run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.ParameterSetVersion)

	scores, err := f.rscores.GetByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	assert.InDelta(t, 0.5, scores[0].ConfidenceWeight, 1e-6)
	assert.InDelta(t, 0.4, scores[0].WeightedImpact, 1e-3)
}

func TestPipeline_UnknownRuleSetVersion(t *testing.T) {
	f := newPipelineFixture(t)

	ruleVersion := 42
	_, _, err := f.pipeline.Trigger(context.Background(), 1, f.periodStart, f.periodEnd,
		RunOptions{ParameterVersion: &f.pinVersion, RuleSetVersion: &ruleVersion})
	assert.ErrorIs(t, err, params.ErrNotFound)
}

func TestPipeline_ComputeDerivedDisabled(t *testing.T) {
	f := newPipelineFixture(t)

	theme, err := f.themes.GetOrCreate("Cleanliness", "CLEANLINESS")
	require.NoError(t, err)
	for _, score := range []float64{-0.8, -0.9} {
		f.addReview(t, 1, theme.ID, score)
	}

	f.trigger(t, 1)
	time.Sleep(5 * time.Millisecond)

	run, events := f.triggerOpts(t, 1, RunOptions{ParameterVersion: &f.pinVersion, SkipDerived: true})

	scores, err := f.tscores.GetByRun(run.ID)
	require.NoError(t, err)
	require.Len(t, scores, 1)
	// Identical data would read "flat"; without the derived layer the
	// prior run is never consulted
	assert.Equal(t, "new", scores[0].Trend)
	assert.Equal(t, recommend.SeverityCritical, scores[0].Severity)

	for _, ev := range events {
		assert.NotEqual(t, PhaseRecommendation, ev.Phase)
	}
	last := events[len(events)-1]
	require.Equal(t, EventComplete, last.Type)
	results, ok := last.Payload.(*RunResults)
	require.True(t, ok)
	assert.Equal(t, 0, results.Recommendations)
}

func TestPipeline_TerminalEventWithSlowConsumer(t *testing.T) {
	f := newPipelineFixture(t)
	small := NewPipeline(f.repos, f.store, f.analyzer, f.extractor, f.engine, f.logger, 2, 2)

	theme, err := f.themes.GetOrCreate("Service Speed", "SERVICE")
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		f.addReview(t, 1, theme.ID, 0.5)
	}

	run, events, err := small.Trigger(context.Background(), 1, f.periodStart, f.periodEnd, RunOptions{ParameterVersion: &f.pinVersion})
	require.NoError(t, err)

	// Nobody reads until the run is over
	require.Eventually(t, func() bool {
		stored, err := f.runs.GetByID(run.ID)
		return err == nil && stored.Status == models.RunStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	// Interior events were dropped, but the terminal event still arrives
	// before the close
	var collected []Event
	for ev := range events {
		collected = append(collected, ev)
	}
	require.NotEmpty(t, collected)
	assert.Equal(t, EventComplete, collected[len(collected)-1].Type)
}
