package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/database"
	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/internal/recommend"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/internal/scoring"
	"github.com/EdwardLH219/pickd-backend/internal/sentiment"
	"github.com/EdwardLH219/pickd-backend/internal/themes"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// In-memory repository stubs so the handlers can be exercised with httptest
// and no Postgres.

type stubParamRepo struct {
	mu     sync.Mutex
	nextID uint
	sets   map[uint]*models.ParameterSet
}

func newStubParamRepo() *stubParamRepo {
	return &stubParamRepo{sets: make(map[uint]*models.ParameterSet)}
}

func (m *stubParamRepo) Create(set *models.ParameterSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	set.ID = m.nextID
	stored := *set
	m.sets[set.ID] = &stored
	return nil
}

func (m *stubParamRepo) Update(set *models.ParameterSet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[set.ID]; !ok {
		return gorm.ErrRecordNotFound
	}
	stored := *set
	m.sets[set.ID] = &stored
	return nil
}

func (m *stubParamRepo) Delete(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sets[id]; !ok {
		return gorm.ErrRecordNotFound
	}
	delete(m.sets, id)
	return nil
}

func (m *stubParamRepo) GetByID(id uint) (*models.ParameterSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set, ok := m.sets[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	out := *set
	return &out, nil
}

func (m *stubParamRepo) GetByVersion(version int) (*models.ParameterSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.sets {
		if set.Version == version {
			out := *set
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *stubParamRepo) GetActive() (*models.ParameterSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, set := range m.sets {
		if set.Status == models.ParamStatusActive {
			out := *set
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *stubParamRepo) NextVersion() (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, set := range m.sets {
		if set.Version > max {
			max = set.Version
		}
	}
	return max + 1, nil
}

func (m *stubParamRepo) List(limit int) ([]models.ParameterSet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ParameterSet
	for _, set := range m.sets {
		out = append(out, *set)
	}
	return out, nil
}

func (m *stubParamRepo) Activate(id uint, actor string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	target, ok := m.sets[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	for _, set := range m.sets {
		if set.Status == models.ParamStatusActive && set.ID != id {
			set.Status = models.ParamStatusArchived
		}
	}
	target.Status = models.ParamStatusActive
	target.ActivatedAt = &at
	target.ActivatedBy = actor
	return nil
}

type stubRunRepo struct {
	mu   sync.Mutex
	runs map[string]models.ScoreRun
}

func newStubRunRepo() *stubRunRepo {
	return &stubRunRepo{runs: make(map[string]models.ScoreRun)}
}

func (m *stubRunRepo) Create(run *models.ScoreRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *stubRunRepo) Update(run *models.ScoreRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[run.ID] = *run
	return nil
}

func (m *stubRunRepo) GetByID(id string) (*models.ScoreRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &run, nil
}

func (m *stubRunRepo) ListByTenant(tenantID uint, status string, page, pageSize int) ([]models.ScoreRun, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScoreRun
	for _, run := range m.runs {
		if run.TenantID == tenantID && (status == "" || run.Status == status) {
			out = append(out, run)
		}
	}
	return out, int64(len(out)), nil
}

func (m *stubRunRepo) HasRunning(tenantID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, run := range m.runs {
		if run.TenantID == tenantID && run.Status == models.RunStatusRunning {
			return true, nil
		}
	}
	return false, nil
}

func (m *stubRunRepo) PreviousCompleted(tenantID uint, before time.Time) (*models.ScoreRun, error) {
	return nil, gorm.ErrRecordNotFound
}

func (m *stubRunRepo) ListByParameterVersion(version int, limit int) ([]models.ScoreRun, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ScoreRun
	for _, run := range m.runs {
		if run.ParameterSetVersion == version {
			out = append(out, run)
		}
	}
	return out, nil
}

type stubReviewRepo struct{}

func (stubReviewRepo) Create(review *models.Review) error { return nil }
func (stubReviewRepo) GetByID(id uint) (*models.Review, error) {
	return nil, gorm.ErrRecordNotFound
}
func (stubReviewRepo) GetForPeriod(tenantID uint, start, end time.Time) ([]models.Review, error) {
	return nil, nil
}
func (stubReviewRepo) GetUntaggedForPeriod(tenantID uint, start, end time.Time) ([]models.Review, error) {
	return nil, nil
}

type stubThemeRepo struct{}

func (stubThemeRepo) Create(theme *models.Theme) error { return nil }
func (stubThemeRepo) GetByName(name string) (*models.Theme, error) {
	return nil, gorm.ErrRecordNotFound
}
func (stubThemeRepo) GetOrCreate(name, category string) (*models.Theme, error) {
	return &models.Theme{Name: name, Category: category}, nil
}
func (stubThemeRepo) GetAll() ([]models.Theme, error) { return nil, nil }

type stubTagRepo struct{}

func (stubTagRepo) CreateBatch(tags []models.ReviewThemeTag) error { return nil }
func (stubTagRepo) GetByReviewIDs(reviewIDs []uint) ([]models.ReviewThemeTag, error) {
	return nil, nil
}

type stubReviewScoreRepo struct{}

func (stubReviewScoreRepo) Upsert(score *models.ReviewScore) error { return nil }
func (stubReviewScoreRepo) GetByRun(runID string) ([]models.ReviewScore, error) {
	return nil, nil
}
func (stubReviewScoreRepo) CountByRun(runID string) (int64, error) { return 0, nil }

type stubThemeScoreRepo struct {
	mu     sync.Mutex
	scores map[string][]models.ThemeScore
}

func newStubThemeScoreRepo() *stubThemeScoreRepo {
	return &stubThemeScoreRepo{scores: make(map[string][]models.ThemeScore)}
}

func (m *stubThemeScoreRepo) Upsert(score *models.ThemeScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scores[score.ScoreRunID] = append(m.scores[score.ScoreRunID], *score)
	return nil
}

func (m *stubThemeScoreRepo) GetByRun(runID string) ([]models.ThemeScore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scores[runID], nil
}

func (m *stubThemeScoreRepo) CountByRun(runID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.scores[runID])), nil
}

type stubRecRepo struct {
	mu     sync.Mutex
	nextID uint
	recs   []models.Recommendation
}

func (m *stubRecRepo) Create(rec *models.Recommendation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	rec.ID = m.nextID
	m.recs = append(m.recs, *rec)
	return nil
}

func (m *stubRecRepo) GetByID(id uint) (*models.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.ID == id {
			out := rec
			return &out, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (m *stubRecRepo) ExistsActive(tenantID, themeID uint) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rec := range m.recs {
		if rec.TenantID == tenantID && rec.ThemeID == themeID &&
			(rec.Status == models.RecStatusOpen || rec.Status == models.RecStatusInProgress) {
			return true, nil
		}
	}
	return false, nil
}

func (m *stubRecRepo) ListByTenant(tenantID uint) ([]models.Recommendation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Recommendation
	for _, rec := range m.recs {
		if rec.TenantID == tenantID {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *stubRecRepo) UpdateStatus(id uint, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.recs {
		if m.recs[i].ID == id {
			m.recs[i].Status = status
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

type stubAnalyzer struct{}

func (stubAnalyzer) Analyze(ctx context.Context, text string) (*sentiment.AnalyzeResponse, error) {
	return &sentiment.AnalyzeResponse{Score: 0.5}, nil
}

// apiEnvelope mirrors the wire shape of utils.APIResponse with the payload
// left raw for per-test decoding.
type apiEnvelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
	Errors  []string        `json:"errors"`
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// deadCache is a real cache over an unreachable Redis; the store treats
// cache errors as misses.
func deadCache(logger *logrus.Logger) *database.Cache {
	return database.NewCache(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1"}), logger)
}

func performJSON(r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

// scoringFixture wires a real pipeline over the stubs.
type scoringFixture struct {
	router  *gin.Engine
	runs    *stubRunRepo
	tscores *stubThemeScoreRepo
	params  *stubParamRepo
}

func newScoringFixture(t *testing.T) *scoringFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := testLogger()

	paramRepo := newStubParamRepo()
	raw, err := params.Encode(params.Defaults())
	require.NoError(t, err)
	require.NoError(t, paramRepo.Create(&models.ParameterSet{
		Version: 1,
		Status:  models.ParamStatusActive,
		Raw:     datatypes.JSON(raw),
	}))

	f := &scoringFixture{
		runs:    newStubRunRepo(),
		tscores: newStubThemeScoreRepo(),
		params:  paramRepo,
	}

	repos := &repository.RepositoryManager{
		Review:         stubReviewRepo{},
		Theme:          stubThemeRepo{},
		ReviewThemeTag: stubTagRepo{},
		ParameterSet:   paramRepo,
		ScoreRun:       f.runs,
		ReviewScore:    stubReviewScoreRepo{},
		ThemeScore:     f.tscores,
		Recommendation: &stubRecRepo{},
	}

	analyzer := stubAnalyzer{}
	store := params.NewStore(paramRepo, f.runs, deadCache(logger), logger)
	extractor := themes.NewExtractor(stubThemeRepo{}, stubTagRepo{}, analyzer, logger)
	engine := recommend.NewEngine(&stubRecRepo{}, logger)
	pipeline := scoring.NewPipeline(repos, store, analyzer, extractor, engine, logger, 2, 64)

	h := NewScoringHandler(pipeline, repos, logger, context.Background())

	router := gin.New()
	router.POST("/api/v1/tenants/:tenantID/score-runs", h.HandleTriggerRun)
	router.GET("/api/v1/tenants/:tenantID/score-runs", h.HandleListRuns)
	router.GET("/api/v1/score-runs/:id", h.HandleGetRun)

	f.router = router
	return f
}
