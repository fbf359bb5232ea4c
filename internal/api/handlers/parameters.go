package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type ParameterHandler struct {
	store  *params.Store
	logger *logrus.Logger
}

func NewParameterHandler(store *params.Store, logger *logrus.Logger) *ParameterHandler {
	return &ParameterHandler{store: store, logger: logger}
}

// HandleCreate creates a DRAFT parameter set from a base version (or the
// ACTIVE set) plus overrides, returning the merged document and changelog.
func (h *ParameterHandler) HandleCreate(c *gin.Context) {
	var req models.CreateParameterSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	set, changelog, err := h.store.Create(c.Request.Context(), req.BaseVersion, req.Overrides, req.CreatedBy)
	if err != nil {
		h.respondStoreError(c, err, "Failed to create parameter set")
		return
	}

	utils.SuccessResponse(c, http.StatusCreated, "Parameter set created", models.ParameterSetResponse{
		Set:       set,
		Changelog: changelog,
	})
}

// HandleUpdate re-merges new overrides onto a DRAFT set's document.
func (h *ParameterHandler) HandleUpdate(c *gin.Context) {
	id, ok := h.setID(c)
	if !ok {
		return
	}

	var req models.UpdateParameterSetRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	set, changelog, err := h.store.Update(c.Request.Context(), id, req.Overrides)
	if err != nil {
		h.respondStoreError(c, err, "Failed to update parameter set")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Parameter set updated", models.ParameterSetResponse{
		Set:       set,
		Changelog: changelog,
	})
}

// HandleActivate promotes a DRAFT set to ACTIVE, archiving the previous
// ACTIVE set, and returns the previous-vs-new changelog.
func (h *ParameterHandler) HandleActivate(c *gin.Context) {
	id, ok := h.setID(c)
	if !ok {
		return
	}

	var req models.ActivateParameterSetRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	set, changelog, err := h.store.Activate(c.Request.Context(), id, req.Actor)
	if err != nil {
		h.respondStoreError(c, err, "Failed to activate parameter set")
		return
	}

	h.logger.WithFields(logrus.Fields{
		"version": set.Version,
		"actor":   req.Actor,
	}).Info("Parameter set activated via API")

	utils.SuccessResponse(c, http.StatusOK, "Parameter set activated", models.ParameterSetResponse{
		Set:       set,
		Changelog: changelog,
	})
}

// HandleDelete removes a DRAFT set.
func (h *ParameterHandler) HandleDelete(c *gin.Context) {
	id, ok := h.setID(c)
	if !ok {
		return
	}

	if err := h.store.Delete(c.Request.Context(), id); err != nil {
		h.respondStoreError(c, err, "Failed to delete parameter set")
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Parameter set deleted", nil)
}

// HandleGet returns one set, optionally with the last N runs pinned to it
// (?runs=N).
func (h *ParameterHandler) HandleGet(c *gin.Context) {
	id, ok := h.setID(c)
	if !ok {
		return
	}

	runCount, _ := strconv.Atoi(c.DefaultQuery("runs", "0"))
	if runCount < 0 {
		runCount = 0
	}
	if runCount > 50 {
		runCount = 50
	}

	set, runs, err := h.store.GetWithRuns(c.Request.Context(), id, runCount)
	if err != nil {
		h.respondStoreError(c, err, "Failed to load parameter set")
		return
	}

	resp := models.ParameterSetResponse{Set: set}
	if runCount > 0 {
		resp.Runs = runs
	}
	utils.SuccessResponse(c, http.StatusOK, "Parameter set retrieved", resp)
}

// HandleList returns the most recent sets.
func (h *ParameterHandler) HandleList(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if limit < 1 || limit > 100 {
		limit = 20
	}

	sets, err := h.store.List(limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list parameter sets")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list parameter sets", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Parameter sets retrieved", sets)
}

func (h *ParameterHandler) setID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil || id == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid parameter set ID", err)
		return 0, false
	}
	return uint(id), true
}

func (h *ParameterHandler) respondStoreError(c *gin.Context, err error, fallback string) {
	var verr *params.ValidationError
	switch {
	case errors.As(err, &verr):
		utils.ValidationErrorResponse(c, http.StatusUnprocessableEntity, "Parameter validation failed", verr.Violations)
	case errors.Is(err, params.ErrMalformedDocument):
		utils.ErrorResponse(c, http.StatusBadRequest, "Malformed parameter overrides", err)
	case errors.Is(err, params.ErrNotFound):
		utils.ErrorResponse(c, http.StatusNotFound, "Parameter set not found", nil)
	case errors.Is(err, params.ErrImmutableVersion):
		utils.ErrorResponse(c, http.StatusConflict, "Only DRAFT parameter sets can be modified", err)
	case errors.Is(err, params.ErrAlreadyActive):
		utils.ErrorResponse(c, http.StatusConflict, "Parameter set is already active", err)
	case errors.Is(err, params.ErrArchivedSet):
		utils.ErrorResponse(c, http.StatusConflict, "Archived parameter sets cannot be activated", err)
	default:
		h.logger.WithError(err).Error(fallback)
		utils.ErrorResponse(c, http.StatusInternalServerError, fallback, err)
	}
}
