package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/internal/scoring"
	"github.com/EdwardLH219/pickd-backend/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

type ScoringHandler struct {
	pipeline    *scoring.Pipeline
	repoManager *repository.RepositoryManager
	logger      *logrus.Logger

	// runCtx outlives any single request; a streaming client walking away
	// must not cancel the run it is watching.
	runCtx context.Context
}

func NewScoringHandler(
	pipeline *scoring.Pipeline,
	repoManager *repository.RepositoryManager,
	logger *logrus.Logger,
	runCtx context.Context,
) *ScoringHandler {
	return &ScoringHandler{
		pipeline:    pipeline,
		repoManager: repoManager,
		logger:      logger,
		runCtx:      runCtx,
	}
}

// HandleTriggerRun starts a score run for a tenant. With stream requested the
// run's progress events are relayed as SSE; otherwise the run executes in the
// background and the response is 202 with the run ID.
func (h *ScoringHandler) HandleTriggerRun(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	var req models.TriggerRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid request format", err)
		return
	}

	periodStart, err := time.Parse(time.RFC3339, req.PeriodStart)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "period_start must be RFC3339", err)
		return
	}
	periodEnd, err := time.Parse(time.RFC3339, req.PeriodEnd)
	if err != nil {
		utils.ErrorResponse(c, http.StatusBadRequest, "period_end must be RFC3339", err)
		return
	}
	if !periodEnd.After(periodStart) {
		utils.ErrorResponse(c, http.StatusBadRequest, "period_end must be after period_start", nil)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"period_start": req.PeriodStart,
		"period_end":   req.PeriodEnd,
	}).Info("Score run requested")

	opts := scoring.RunOptions{
		ParameterVersion: req.ParameterSetVersion,
		RuleSetVersion:   req.RuleSetVersion,
		SkipDerived:      req.ComputeDerived != nil && !*req.ComputeDerived,
	}
	run, events, err := h.pipeline.Trigger(h.runCtx, tenantID, periodStart, periodEnd, opts)
	if err != nil {
		switch {
		case errors.Is(err, scoring.ErrRunInProgress):
			utils.ErrorResponse(c, http.StatusConflict, "A score run is already in progress for this tenant", err)
		case errors.Is(err, params.ErrNotFound):
			utils.ErrorResponse(c, http.StatusNotFound, "Pinned parameter set version does not exist", err)
		default:
			h.logger.WithError(err).Error("Failed to trigger score run")
			utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to trigger score run", err)
		}
		return
	}

	if req.Stream || strings.Contains(c.GetHeader("Accept"), "text/event-stream") {
		h.streamEvents(c, run, events)
		return
	}

	// Fire-and-poll mode: consume the events so the run never stalls
	go func() {
		for range events {
		}
	}()

	utils.SuccessResponse(c, http.StatusAccepted, "Score run started", models.TriggerRunResponse{
		RunID:               run.ID,
		Status:              run.Status,
		ParameterSetVersion: run.ParameterSetVersion,
	})
}

// streamEvents relays run events as SSE until the run reaches a terminal
// state. A disconnected client stops the relay only; the run keeps going.
func (h *ScoringHandler) streamEvents(c *gin.Context, run *models.ScoreRun, events <-chan scoring.Event) {
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	clientGone := c.Request.Context().Done()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, open := <-events:
			if !open {
				return false
			}
			c.SSEvent(string(ev.Type), ev)
			return true
		case <-clientGone:
			h.logger.WithField("run_id", run.ID).Info("SSE client disconnected, run continues")
			go func() {
				for range events {
				}
			}()
			return false
		}
	})
}

// HandleListRuns returns a tenant's runs, newest first, optionally filtered
// by status.
func (h *ScoringHandler) HandleListRuns(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	status := strings.ToUpper(c.Query("status"))
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	runs, total, err := h.repoManager.ScoreRun.ListByTenant(tenantID, status, page, pageSize)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list score runs")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to list score runs", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Score runs retrieved", models.ListRunsResponse{
		Runs:     runs,
		Total:    total,
		Page:     page,
		PageSize: pageSize,
	})
}

// HandleGetRun returns a single run with its theme scores.
func (h *ScoringHandler) HandleGetRun(c *gin.Context) {
	runID := c.Param("id")
	if !utils.ValidRunID(runID) {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid run ID", nil)
		return
	}

	run, err := h.repoManager.ScoreRun.GetByID(runID)
	if err == gorm.ErrRecordNotFound {
		utils.ErrorResponse(c, http.StatusNotFound, "Score run not found", nil)
		return
	}
	if err != nil {
		h.logger.WithError(err).Error("Failed to load score run")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load score run", err)
		return
	}

	themeScores, err := h.repoManager.ThemeScore.GetByRun(runID)
	if err != nil {
		h.logger.WithError(err).Error("Failed to load theme scores")
		utils.ErrorResponse(c, http.StatusInternalServerError, "Failed to load theme scores", err)
		return
	}

	utils.SuccessResponse(c, http.StatusOK, "Score run retrieved", gin.H{
		"run":          run,
		"theme_scores": themeScores,
	})
}

func (h *ScoringHandler) tenantID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("tenantID"), 10, 32)
	if err != nil || id == 0 {
		utils.ErrorResponse(c, http.StatusBadRequest, "Invalid tenant ID", err)
		return 0, false
	}
	return uint(id), true
}
