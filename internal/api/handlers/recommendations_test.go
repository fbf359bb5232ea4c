package handlers

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRecommendationRouter(t *testing.T) (*gin.Engine, *stubRecRepo) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	recs := &stubRecRepo{}
	repos := &repository.RepositoryManager{Recommendation: recs}
	h := NewRecommendationHandler(repos, testLogger())

	router := gin.New()
	router.GET("/api/v1/tenants/:tenantID/recommendations", h.HandleList)
	router.PATCH("/api/v1/recommendations/:id/status", h.HandleUpdateStatus)
	return router, recs
}

func TestRecommendationHandler_List(t *testing.T) {
	router, recs := newRecommendationRouter(t)

	require.NoError(t, recs.Create(&models.Recommendation{
		TenantID: 1, ThemeID: 2, Severity: "critical", Title: "Address Cleanliness", Status: models.RecStatusOpen,
	}))
	require.NoError(t, recs.Create(&models.Recommendation{
		TenantID: 9, ThemeID: 2, Severity: "high", Title: "Improve Service", Status: models.RecStatusOpen,
	}))

	w := performJSON(router, "GET", "/api/v1/tenants/1/recommendations", nil)
	require.Equal(t, http.StatusOK, w.Code)

	env := decodeEnvelope(t, w)
	var out []models.Recommendation
	require.NoError(t, json.Unmarshal(env.Data, &out))
	require.Len(t, out, 1)
	assert.Equal(t, "Address Cleanliness", out[0].Title)

	w = performJSON(router, "GET", "/api/v1/tenants/abc/recommendations", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecommendationHandler_UpdateStatus(t *testing.T) {
	router, recs := newRecommendationRouter(t)

	require.NoError(t, recs.Create(&models.Recommendation{
		TenantID: 1, ThemeID: 2, Severity: "critical", Title: "Address Cleanliness", Status: models.RecStatusOpen,
	}))

	w := performJSON(router, "PATCH", "/api/v1/recommendations/1/status", map[string]interface{}{
		"status": "resolved",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := recs.GetByID(1)
	require.NoError(t, err)
	assert.Equal(t, models.RecStatusResolved, stored.Status)
}

func TestRecommendationHandler_UpdateStatusErrors(t *testing.T) {
	router, recs := newRecommendationRouter(t)

	require.NoError(t, recs.Create(&models.Recommendation{
		TenantID: 1, ThemeID: 2, Severity: "high", Title: "Improve Service", Status: models.RecStatusOpen,
	}))

	w := performJSON(router, "PATCH", "/api/v1/recommendations/1/status", map[string]interface{}{
		"status": "SHELVED",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performJSON(router, "PATCH", "/api/v1/recommendations/1/status", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = performJSON(router, "PATCH", "/api/v1/recommendations/99/status", map[string]interface{}{
		"status": "RESOLVED",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}
