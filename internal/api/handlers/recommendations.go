package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var validRecommendationStatuses = map[string]bool{
	models.RecStatusOpen:       true,
	models.RecStatusInProgress: true,
	models.RecStatusResolved:   true,
	models.RecStatusDismissed:  true,
}

type RecommendationHandler struct {
	repoManager *repository.RepositoryManager
	logger      *logrus.Logger
}

func NewRecommendationHandler(repoManager *repository.RepositoryManager, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{repoManager: repoManager, logger: logger}
}

// HandleList returns a tenant's recommendations ranked by priority.
func (h *RecommendationHandler) HandleList(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("tenantID"), 10, 32)
	if err != nil || id == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid tenant ID", err)
		return
	}

	recs, err := h.repoManager.Recommendation.ListByTenant(uint(id))
	if err != nil {
		h.logger.WithError(err).Error("Failed to list recommendations")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list recommendations", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Recommendations retrieved", recs)
}

// HandleUpdateStatus moves a recommendation through its lifecycle
// (OPEN, IN_PROGRESS, RESOLVED, DISMISSED).
func (h *RecommendationHandler) HandleUpdateStatus(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid recommendation ID", err)
		return
	}

	var req models.UpdateRecommendationStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	status := strings.ToUpper(req.Status)
	if !validRecommendationStatuses[status] {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid recommendation status", nil)
		return
	}

	if _, err := h.repoManager.Recommendation.GetByID(uint(id)); err == gorm.ErrRecordNotFound {
		utils.ErrorResponse(c, http.StatusNotFound, "Recommendation not found", nil)
		return
	} else if err != nil {
		h.logger.WithError(err).Error("Failed to load recommendation")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load recommendation", err)
		return
	}

	if err := h.repoManager.Recommendation.UpdateStatus(uint(id), status); err != nil {
		h.logger.WithError(err).Error("Failed to update recommendation status")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to update recommendation status", err)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"recommendation_id": id,
		"status":            status,
	}).Info("Recommendation status updated")

	utils.SuccessResponse(c, http.StatusOK, "Recommendation status updated", gin.H{"id": id, "status": status})
}
