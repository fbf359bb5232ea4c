package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/EdwardLH219/pickd-backend/internal/params"
	"github.com/EdwardLH219/pickd-backend/internal/recommend"
	"github.com/EdwardLH219/pickd-backend/internal/repository"
	"github.com/EdwardLH219/pickd-backend/internal/sentiment"
	"github.com/EdwardLH219/pickd-backend/internal/themes"
	"github.com/EdwardLH219/pickd-backend/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ErrRunInProgress signals that a trigger collided with a RUNNING run for the
// same tenant. Requests are rejected, never queued.
var ErrRunInProgress = errors.New("RUN_IN_PROGRESS: a score run is already running for this tenant")

var errCancelled = errors.New("run cancelled")

// Pipeline executes score runs: one largely sequential unit of work per
// tenant, with per-review scoring fanned out across workers.
type Pipeline struct {
	repos     *repository.RepositoryManager
	store     *params.Store
	analyzer  sentiment.Analyzer
	extractor *themes.Extractor
	engine    *recommend.Engine
	logger    *logrus.Logger
	workers   int
	eventBuf  int

	mu      sync.Mutex
	running map[uint]bool

	emitMu sync.Mutex
}

// RunOptions carries a trigger request's optional knobs.
type RunOptions struct {
	// ParameterVersion pins the run to a specific parameter set instead of
	// the ACTIVE one.
	ParameterVersion *int
	// RuleSetVersion overlays the confidence rule section from another
	// parameter set version onto the resolved document. The run still
	// records the base set's version.
	RuleSetVersion *int
	// SkipDerived drops the derived improvement layer: the trend comparison
	// against the prior run and recommendation generation.
	SkipDerived bool
}

func NewPipeline(
	repos *repository.RepositoryManager,
	store *params.Store,
	analyzer sentiment.Analyzer,
	extractor *themes.Extractor,
	engine *recommend.Engine,
	logger *logrus.Logger,
	workers, eventBuf int,
) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if eventBuf < 1 {
		eventBuf = 64
	}
	return &Pipeline{
		repos:     repos,
		store:     store,
		analyzer:  analyzer,
		extractor: extractor,
		engine:    engine,
		logger:    logger,
		workers:   workers,
		eventBuf:  eventBuf,
		running:   make(map[uint]bool),
	}
}

// Trigger starts a score run for a tenant/period. The run executes on its own
// goroutine; the returned channel streams progress events and is closed
// exactly once, on terminal state. ctx should outlive the triggering request:
// a consumer walking away from the channel does not stop the run.
//
// The returned ScoreRun is a snapshot of the RUNNING state. The live record
// is mutated only by the run's own goroutine; callers read progress through
// the event channel or the repository.
func (p *Pipeline) Trigger(ctx context.Context, tenantID uint, periodStart, periodEnd time.Time, opts RunOptions) (*models.ScoreRun, <-chan Event, error) {
	if !periodEnd.After(periodStart) {
		return nil, nil, fmt.Errorf("period end must be after period start")
	}

	if err := p.acquire(tenantID); err != nil {
		return nil, nil, err
	}

	set, doc, err := p.resolveParameters(ctx, opts)
	if err != nil {
		p.release(tenantID)
		return nil, nil, err
	}

	run := &models.ScoreRun{
		ID:                  utils.NewRunID(),
		TenantID:            tenantID,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Status:              models.RunStatusPending,
		ParameterSetVersion: set.Version,
	}
	if err := p.repos.ScoreRun.Create(run); err != nil {
		p.release(tenantID)
		return nil, nil, fmt.Errorf("failed to create score run: %w", err)
	}

	run.Status = models.RunStatusRunning
	run.StartedAt = time.Now().UTC()
	if err := p.repos.ScoreRun.Update(run); err != nil {
		p.release(tenantID)
		return nil, nil, fmt.Errorf("failed to start score run: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":    run.ID,
		"tenant_id": tenantID,
		"version":   set.Version,
	}).Info("Score run started")

	events := make(chan Event, p.eventBuf)
	snapshot := *run
	go p.execute(ctx, run, doc, opts, events)

	return &snapshot, events, nil
}

func (p *Pipeline) acquire(tenantID uint) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running[tenantID] {
		return ErrRunInProgress
	}

	// A RUNNING row can also exist from another instance
	active, err := p.repos.ScoreRun.HasRunning(tenantID)
	if err != nil {
		return fmt.Errorf("failed to check for running runs: %w", err)
	}
	if active {
		return ErrRunInProgress
	}

	p.running[tenantID] = true
	return nil
}

func (p *Pipeline) release(tenantID uint) {
	p.mu.Lock()
	delete(p.running, tenantID)
	p.mu.Unlock()
}

// resolveParameters pins the run's parameter set: an explicit version when
// the caller asked for one, the ACTIVE set otherwise. A rule-set override
// swaps in another version's confidence section. The resulting document
// never changes for the run's lifetime.
func (p *Pipeline) resolveParameters(ctx context.Context, opts RunOptions) (*models.ParameterSet, params.Document, error) {
	var (
		set *models.ParameterSet
		doc params.Document
		err error
	)
	if opts.ParameterVersion != nil {
		set, doc, err = p.store.ByVersion(*opts.ParameterVersion)
	} else {
		set, doc, err = p.store.Active(ctx)
	}
	if err != nil {
		return nil, params.Document{}, err
	}

	if opts.RuleSetVersion != nil && *opts.RuleSetVersion != set.Version {
		_, ruleDoc, err := p.store.ByVersion(*opts.RuleSetVersion)
		if err != nil {
			return nil, params.Document{}, err
		}
		doc.Confidence = ruleDoc.Confidence
	}

	return set, doc, nil
}

type scoredReview struct {
	review models.Review
	score  models.ReviewScore
	impact float64
}

func (p *Pipeline) execute(ctx context.Context, run *models.ScoreRun, doc params.Document, opts RunOptions, events chan<- Event) {
	defer p.release(run.TenantID)
	defer close(events)

	p.emit(events, Event{Type: EventStart, RunID: run.ID, Message: "score run started"})

	results, err := p.runPhases(ctx, run, doc, opts, events)
	if err != nil {
		p.fail(run, err)
		p.emitTerminal(events, Event{Type: EventError, RunID: run.ID, Message: err.Error()})
		return
	}

	// Recommendation generation is post-completion and isolated: scoring
	// already succeeded, so a failure here degrades the result instead of
	// failing the run.
	if !opts.SkipDerived {
		recCount, recErr := p.generateRecommendations(run, events)
		results.Recommendations = recCount
		if recErr != nil {
			p.logger.WithError(recErr).WithField("run_id", run.ID).
				Error("Recommendation generation failed, reporting degraded result")
			p.emit(events, Event{Type: EventInfo, RunID: run.ID,
				Message: fmt.Sprintf("recommendation generation degraded: %v", recErr)})
		}
	}

	p.emitTerminal(events, Event{Type: EventComplete, RunID: run.ID, Payload: results})
}

func (p *Pipeline) runPhases(ctx context.Context, run *models.ScoreRun, doc params.Document, opts RunOptions, events chan<- Event) (*RunResults, error) {
	// Phase 1: extraction
	if err := p.phaseExtraction(ctx, run, events); err != nil {
		return nil, err
	}

	// Phase 2: per-review scoring
	scored, skipped, err := p.phaseScoring(ctx, run, doc, events)
	if err != nil {
		return nil, err
	}

	// Phase 3: review score persistence
	if err := p.phaseReviewPersist(ctx, run, scored, events); err != nil {
		return nil, err
	}

	// Phase 4: theme aggregation
	themeScores, err := p.phaseAggregation(ctx, run, scored, opts, events)
	if err != nil {
		return nil, err
	}

	// Phase 5: theme score persistence; the run is COMPLETED only after this
	// succeeds
	if err := p.phaseThemePersist(ctx, run, themeScores, events); err != nil {
		return nil, err
	}

	run.Status = models.RunStatusCompleted
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.DurationMs = int(now.Sub(run.StartedAt).Milliseconds())
	run.ReviewsProcessed = len(scored)
	run.ThemesProcessed = len(themeScores)
	if err := p.repos.ScoreRun.Update(run); err != nil {
		return nil, fmt.Errorf("failed to complete score run: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"run_id":      run.ID,
		"reviews":     len(scored),
		"themes":      len(themeScores),
		"skipped":     skipped,
		"duration_ms": run.DurationMs,
	}).Info("Score run completed")

	return &RunResults{
		ReviewsProcessed: len(scored),
		ReviewsSkipped:   skipped,
		ThemesProcessed:  len(themeScores),
		DurationMs:       run.DurationMs,
	}, nil
}

func (p *Pipeline) phaseExtraction(ctx context.Context, run *models.ScoreRun, events chan<- Event) error {
	p.emit(events, Event{Type: EventPhase, RunID: run.ID, Phase: PhaseExtraction})

	untagged, err := p.repos.Review.GetUntaggedForPeriod(run.TenantID, run.PeriodStart, run.PeriodEnd)
	if err != nil {
		return fmt.Errorf("extraction: failed to load reviews: %w", err)
	}

	for i := range untagged {
		if ctx.Err() != nil {
			return errCancelled
		}
		if _, err := p.extractor.ExtractReview(ctx, &untagged[i]); err != nil {
			// Extraction failure for one review is non-fatal
			p.logger.WithError(err).WithField("review_id", untagged[i].ID).
				Warn("Theme extraction failed for review")
			p.emit(events, Event{Type: EventInfo, RunID: run.ID, Phase: PhaseExtraction,
				Message: fmt.Sprintf("extraction failed for review %d", untagged[i].ID)})
		}
		p.emit(events, Event{Type: EventProgress, RunID: run.ID, Phase: PhaseExtraction,
			Current: i + 1, Total: len(untagged)})
	}

	p.emit(events, Event{Type: EventPhaseComplete, RunID: run.ID, Phase: PhaseExtraction,
		Total: len(untagged)})
	return nil
}

func (p *Pipeline) phaseScoring(ctx context.Context, run *models.ScoreRun, doc params.Document, events chan<- Event) ([]scoredReview, int, error) {
	p.emit(events, Event{Type: EventPhase, RunID: run.ID, Phase: PhaseScoring})

	reviews, err := p.repos.Review.GetForPeriod(run.TenantID, run.PeriodStart, run.PeriodEnd)
	if err != nil {
		return nil, 0, fmt.Errorf("scoring: failed to load reviews: %w", err)
	}

	asOf := run.StartedAt

	// Individual review computations are independent; fan out across workers
	// into an append-only buffer. All must finish before persistence begins.
	var (
		bufMu   sync.Mutex
		scored  []scoredReview
		skipped int
		done    int
	)

	jobs := make(chan models.Review)
	var wg sync.WaitGroup

	for w := 0; w < p.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for review := range jobs {
				if ctx.Err() != nil {
					continue
				}
				result, err := p.scoreReview(ctx, run, review, doc, asOf)

				bufMu.Lock()
				done++
				current := done
				if err != nil {
					skipped++
				} else {
					scored = append(scored, *result)
				}
				bufMu.Unlock()

				if err != nil {
					p.logger.WithError(err).WithFields(logrus.Fields{
						"run_id":    run.ID,
						"review_id": review.ID,
					}).Warn("Review skipped")
					p.emit(events, Event{Type: EventInfo, RunID: run.ID, Phase: PhaseScoring,
						Message: fmt.Sprintf("review %d skipped: %v", review.ID, err)})
				} else {
					p.emit(events, Event{Type: EventCalculation, RunID: run.ID, Phase: PhaseScoring,
						Payload: result.score})
				}

				p.emit(events, Event{Type: EventProgress, RunID: run.ID, Phase: PhaseScoring,
					Current: current, Total: len(reviews)})
			}
		}()
	}

	for _, review := range reviews {
		jobs <- review
	}
	close(jobs)
	wg.Wait()

	if ctx.Err() != nil {
		return nil, 0, errCancelled
	}

	p.emit(events, Event{Type: EventPhaseComplete, RunID: run.ID, Phase: PhaseScoring,
		Total: len(reviews)})
	return scored, skipped, nil
}

// scoreReview computes one review's weighted impact:
// W_r = S_r * W_time * W_source * W_engagement * W_confidence
func (p *Pipeline) scoreReview(ctx context.Context, run *models.ScoreRun, review models.Review, doc params.Document, asOf time.Time) (*scoredReview, error) {
	if review.Content == "" {
		return nil, fmt.Errorf("review has no content")
	}

	analysis, err := p.analyzer.Analyze(ctx, review.Content)
	if err != nil {
		return nil, fmt.Errorf("sentiment capability failed: %w", err)
	}

	base := ComputeBaseSentiment(analysis.Score, review.Rating, doc)
	timeW := ComputeTimeWeight(review.ReviewedAt, asOf, doc)
	sourceW := ComputeSourceWeight(review.SourceType, doc)
	engagementW := ComputeEngagementWeight(review.LikesCount, review.RepliesCount, review.HelpfulCount, review.SourceType, doc)
	confidenceW := ComputeConfidenceWeight(&review, doc)

	impact := base * timeW.Value * sourceW.Value * engagementW.Value * confidenceW.Value

	p.logger.WithFields(logrus.Fields{
		"run_id":         run.ID,
		"review_id":      review.ID,
		"base":           base,
		"time_raw":       timeW.Raw,
		"time":           timeW.Value,
		"source_raw":     sourceW.Raw,
		"source":         sourceW.Value,
		"engagement_raw": engagementW.Raw,
		"engagement":     engagementW.Value,
		"confidence":     confidenceW.Value,
		"impact":         impact,
	}).Debug("Review scored")

	components, err := json.Marshal(map[string]interface{}{
		"capability_score": analysis.Score,
		"rating":           review.Rating,
		"time":             timeW,
		"source":           sourceW,
		"engagement":       engagementW,
		"confidence":       confidenceW,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal components: %w", err)
	}

	return &scoredReview{
		review: review,
		impact: impact,
		score: models.ReviewScore{
			ReviewID:         review.ID,
			ScoreRunID:       run.ID,
			BaseSentiment:    base,
			TimeWeight:       timeW.Value,
			SourceWeight:     sourceW.Value,
			EngagementWeight: engagementW.Value,
			ConfidenceWeight: confidenceW.Value,
			WeightedImpact:   impact,
			Components:       components,
		},
	}, nil
}

func (p *Pipeline) phaseReviewPersist(ctx context.Context, run *models.ScoreRun, scored []scoredReview, events chan<- Event) error {
	p.emit(events, Event{Type: EventPhase, RunID: run.ID, Phase: PhaseReviewPersist})

	for i := range scored {
		if ctx.Err() != nil {
			return errCancelled
		}
		if err := p.repos.ReviewScore.Upsert(&scored[i].score); err != nil {
			return fmt.Errorf("failed to persist review score: %w", err)
		}
		p.emit(events, Event{Type: EventProgress, RunID: run.ID, Phase: PhaseReviewPersist,
			Current: i + 1, Total: len(scored)})
	}

	p.emit(events, Event{Type: EventPhaseComplete, RunID: run.ID, Phase: PhaseReviewPersist,
		Total: len(scored)})
	return nil
}

type themeAccumulator struct {
	themeID  uint
	sum      float64
	absSum   float64
	mentions int
	positive int
	neutral  int
	negative int
}

func (p *Pipeline) phaseAggregation(ctx context.Context, run *models.ScoreRun, scored []scoredReview, opts RunOptions, events chan<- Event) ([]models.ThemeScore, error) {
	p.emit(events, Event{Type: EventPhase, RunID: run.ID, Phase: PhaseAggregation})

	if ctx.Err() != nil {
		return nil, errCancelled
	}

	impactByReview := make(map[uint]float64, len(scored))
	reviewIDs := make([]uint, 0, len(scored))
	for _, s := range scored {
		impactByReview[s.review.ID] = s.impact
		reviewIDs = append(reviewIDs, s.review.ID)
	}

	tags, err := p.repos.ReviewThemeTag.GetByReviewIDs(reviewIDs)
	if err != nil {
		return nil, fmt.Errorf("aggregation: failed to load theme tags: %w", err)
	}

	accs := make(map[uint]*themeAccumulator)
	for _, tag := range tags {
		impact, ok := impactByReview[tag.ReviewID]
		if !ok {
			continue
		}
		acc := accs[tag.ThemeID]
		if acc == nil {
			acc = &themeAccumulator{themeID: tag.ThemeID}
			accs[tag.ThemeID] = acc
		}
		acc.mentions++
		acc.sum += impact
		if impact < 0 {
			acc.absSum -= impact
		} else {
			acc.absSum += impact
		}
		switch {
		case impact > 0:
			acc.positive++
		case impact < 0:
			acc.negative++
		default:
			acc.neutral++
		}
	}

	priorScores := map[uint]float64{}
	if !opts.SkipDerived {
		priorScores = p.priorScores(run)
	}

	var themeScores []models.ThemeScore
	for _, acc := range accs {
		sentiment := 0.0
		if acc.absSum > 0 {
			sentiment = acc.sum / acc.absSum
		}
		score010 := 5 * (sentiment + 1)

		trend := "new"
		if prior, ok := priorScores[acc.themeID]; ok {
			switch {
			case score010 > prior+0.25:
				trend = "up"
			case score010 < prior-0.25:
				trend = "down"
			default:
				trend = "flat"
			}
		}

		components, err := json.Marshal(map[string]interface{}{
			"weighted_sum": acc.sum,
			"abs_sum":      acc.absSum,
			"prior_score":  priorScores[acc.themeID],
		})
		if err != nil {
			return nil, fmt.Errorf("failed to marshal theme components: %w", err)
		}

		themeScores = append(themeScores, models.ThemeScore{
			ThemeID:       acc.themeID,
			ScoreRunID:    run.ID,
			TenantID:      run.TenantID,
			Sentiment:     sentiment,
			Score010:      score010,
			MentionCount:  acc.mentions,
			PositiveCount: acc.positive,
			NeutralCount:  acc.neutral,
			NegativeCount: acc.negative,
			Severity:      recommend.SeverityFor(score010),
			Trend:         trend,
			Components:    components,
		})
	}

	p.emit(events, Event{Type: EventPhaseComplete, RunID: run.ID, Phase: PhaseAggregation,
		Total: len(themeScores)})
	return themeScores, nil
}

// priorScores loads the previous completed run's theme scores for the trend
// comparison. A missing prior run just means every theme is "new".
func (p *Pipeline) priorScores(run *models.ScoreRun) map[uint]float64 {
	prior := make(map[uint]float64)

	prev, err := p.repos.ScoreRun.PreviousCompleted(run.TenantID, run.StartedAt)
	if err != nil {
		return prior
	}

	scores, err := p.repos.ThemeScore.GetByRun(prev.ID)
	if err != nil {
		p.logger.WithError(err).WithField("run_id", prev.ID).Warn("Failed to load prior theme scores")
		return prior
	}

	for _, s := range scores {
		prior[s.ThemeID] = s.Score010
	}
	return prior
}

func (p *Pipeline) phaseThemePersist(ctx context.Context, run *models.ScoreRun, themeScores []models.ThemeScore, events chan<- Event) error {
	p.emit(events, Event{Type: EventPhase, RunID: run.ID, Phase: PhaseThemePersist})

	for i := range themeScores {
		if ctx.Err() != nil {
			return errCancelled
		}
		if err := p.repos.ThemeScore.Upsert(&themeScores[i]); err != nil {
			return fmt.Errorf("failed to persist theme score: %w", err)
		}
		p.emit(events, Event{Type: EventThemeScore, RunID: run.ID, Phase: PhaseThemePersist,
			Payload: themeScores[i]})
	}

	p.emit(events, Event{Type: EventPhaseComplete, RunID: run.ID, Phase: PhaseThemePersist,
		Total: len(themeScores)})
	return nil
}

func (p *Pipeline) generateRecommendations(run *models.ScoreRun, events chan<- Event) (int, error) {
	p.emit(events, Event{Type: EventPhase, RunID: run.ID, Phase: PhaseRecommendation})

	// Re-read so theme associations are loaded for the templates
	scores, err := p.repos.ThemeScore.GetByRun(run.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to load theme scores: %w", err)
	}

	recs, err := p.engine.GenerateForRun(run, scores)
	for _, rec := range recs {
		p.emit(events, Event{Type: EventRecommendation, RunID: run.ID, Phase: PhaseRecommendation,
			Payload: rec})
	}
	if err != nil {
		return len(recs), err
	}

	p.emit(events, Event{Type: EventPhaseComplete, RunID: run.ID, Phase: PhaseRecommendation,
		Total: len(recs)})
	return len(recs), nil
}

func (p *Pipeline) fail(run *models.ScoreRun, cause error) {
	run.Status = models.RunStatusFailed
	run.ErrorMessage = cause.Error()
	now := time.Now().UTC()
	run.CompletedAt = &now
	run.DurationMs = int(now.Sub(run.StartedAt).Milliseconds())

	if err := p.repos.ScoreRun.Update(run); err != nil {
		p.logger.WithError(err).WithField("run_id", run.ID).Error("Failed to mark run FAILED")
	}

	p.logger.WithError(cause).WithField("run_id", run.ID).Error("Score run failed")
}

// emit never blocks: a slow consumer loses interior events, never the
// channel close. One buffer slot stays free so the terminal complete/error
// event always fits; emitMu makes the occupancy check atomic across the
// scoring workers.
func (p *Pipeline) emit(events chan<- Event, ev Event) {
	ev.Timestamp = time.Now().UTC()
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	if len(events) >= cap(events)-1 {
		p.logger.WithFields(logrus.Fields{
			"type":   ev.Type,
			"run_id": ev.RunID,
		}).Debug("Progress consumer behind, dropping event")
		return
	}
	events <- ev
}

// emitTerminal sends the run's terminal event into the reserved slot. emit
// never fills the buffer past cap-1, so the send cannot block.
func (p *Pipeline) emitTerminal(events chan<- Event, ev Event) {
	ev.Timestamp = time.Now().UTC()
	p.emitMu.Lock()
	defer p.emitMu.Unlock()
	select {
	case events <- ev:
	default:
		p.logger.WithFields(logrus.Fields{
			"type":   ev.Type,
			"run_id": ev.RunID,
		}).Error("Terminal event dropped, buffer unexpectedly full")
	}
}
