package params

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/EdwardLH219/pickd-backend/internal/database"
	"github.com/EdwardLH219/pickd-backend/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Lifecycle conflict errors. Handlers map these to 409 responses.
var (
	ErrImmutableVersion = errors.New("IMMUTABLE_VERSION: only DRAFT parameter sets can be modified")
	ErrAlreadyActive    = errors.New("parameter set is already ACTIVE")
	ErrArchivedSet      = errors.New("cannot activate an ARCHIVED parameter set")
	ErrNotFound         = errors.New("parameter set not found")
)

const activeCacheTTL = 10 * time.Minute

// Store manages the parameter set catalog.
type Store struct {
	repo   models.ParameterSetRepository
	runs   models.ScoreRunRepository
	cache  *database.Cache
	logger *logrus.Logger

	mu sync.Mutex // serializes version assignment and lifecycle transitions
}

func NewStore(repo models.ParameterSetRepository, runs models.ScoreRunRepository, cache *database.Cache, logger *logrus.Logger) *Store {
	return &Store{
		repo:   repo,
		runs:   runs,
		cache:  cache,
		logger: logger,
	}
}

// Create merges overrides onto a base (explicit version, the ACTIVE set, or
// the hard-coded defaults), validates and clamps, persists as DRAFT, and
// returns the new set with the base-vs-merged changelog.
func (s *Store) Create(ctx context.Context, baseVersion *int, overrides json.RawMessage, createdBy string) (*models.ParameterSet, []models.ChangeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base, err := s.baseDocument(baseVersion)
	if err != nil {
		return nil, nil, err
	}

	override, err := Decode(overrides)
	if err != nil {
		return nil, nil, err
	}

	merged := Merge(base, override)
	if err := ValidateAndClamp(&merged, s.logger); err != nil {
		return nil, nil, err
	}

	raw, err := Encode(merged)
	if err != nil {
		return nil, nil, err
	}

	version, err := s.repo.NextVersion()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to allocate version: %w", err)
	}

	set := &models.ParameterSet{
		Version:   version,
		Status:    models.ParamStatusDraft,
		Raw:       datatypes.JSON(raw),
		CreatedBy: createdBy,
	}
	if err := s.repo.Create(set); err != nil {
		return nil, nil, fmt.Errorf("failed to persist parameter set: %w", err)
	}

	changelog := Diff(base, merged)

	s.logger.WithFields(logrus.Fields{
		"version": version,
		"changes": len(changelog),
		"creator": createdBy,
	}).Info("Created DRAFT parameter set")

	return set, changelog, nil
}

// Update re-merges overrides onto a DRAFT set's own prior state. Any other
// status fails with IMMUTABLE_VERSION.
func (s *Store) Update(ctx context.Context, id uint, overrides json.RawMessage) (*models.ParameterSet, []models.ChangeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	if set.Status != models.ParamStatusDraft {
		return nil, nil, ErrImmutableVersion
	}

	prior, err := Decode(json.RawMessage(set.Raw))
	if err != nil {
		return nil, nil, fmt.Errorf("stored document is unreadable: %w", err)
	}

	override, err := Decode(overrides)
	if err != nil {
		return nil, nil, err
	}

	merged := Merge(prior, override)
	if err := ValidateAndClamp(&merged, s.logger); err != nil {
		return nil, nil, err
	}

	raw, err := Encode(merged)
	if err != nil {
		return nil, nil, err
	}

	set.Raw = datatypes.JSON(raw)
	if err := s.repo.Update(set); err != nil {
		return nil, nil, fmt.Errorf("failed to update parameter set: %w", err)
	}

	changelog := Diff(prior, merged)

	s.logger.WithFields(logrus.Fields{
		"version": set.Version,
		"changes": len(changelog),
	}).Info("Updated DRAFT parameter set")

	return set, changelog, nil
}

// Activate atomically archives the current ACTIVE set and marks the target
// ACTIVE, returning the previous-vs-new changelog for audit.
func (s *Store) Activate(ctx context.Context, id uint, actor string) (*models.ParameterSet, []models.ChangeEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}
	switch set.Status {
	case models.ParamStatusActive:
		return nil, nil, ErrAlreadyActive
	case models.ParamStatusArchived:
		return nil, nil, ErrArchivedSet
	}

	previous := Defaults()
	if prev, err := s.repo.GetActive(); err == nil {
		if doc, derr := Decode(json.RawMessage(prev.Raw)); derr == nil {
			previous = doc
		}
	} else if err != gorm.ErrRecordNotFound {
		return nil, nil, fmt.Errorf("failed to look up active set: %w", err)
	}

	now := time.Now().UTC()
	if err := s.repo.Activate(id, actor, now); err != nil {
		return nil, nil, fmt.Errorf("failed to activate parameter set: %w", err)
	}

	// The trigger path reads the active set through the cache; drop the stale
	// entry so the next run pins the new version.
	if err := s.cache.InvalidateActiveParameterSet(ctx); err != nil {
		s.logger.WithError(err).Warn("Failed to invalidate active parameter set cache")
	}

	activated, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}

	current, err := Decode(json.RawMessage(activated.Raw))
	if err != nil {
		return nil, nil, fmt.Errorf("stored document is unreadable: %w", err)
	}

	changelog := Diff(previous, current)

	s.logger.WithFields(logrus.Fields{
		"version": activated.Version,
		"actor":   actor,
		"changes": len(changelog),
	}).Info("Activated parameter set")

	return activated, changelog, nil
}

// Delete removes a DRAFT set. ACTIVE and ARCHIVED sets are immutable.
func (s *Store) Delete(ctx context.Context, id uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set, err := s.get(id)
	if err != nil {
		return err
	}
	if set.Status != models.ParamStatusDraft {
		return ErrImmutableVersion
	}

	if err := s.repo.Delete(id); err != nil {
		return fmt.Errorf("failed to delete parameter set: %w", err)
	}

	s.logger.WithField("version", set.Version).Info("Deleted DRAFT parameter set")
	return nil
}

// Active returns the currently-ACTIVE set through the read-through cache.
// When no set was ever activated, a synthetic defaults-backed set with
// version 0 is returned.
func (s *Store) Active(ctx context.Context) (*models.ParameterSet, Document, error) {
	if cached, err := s.cache.GetCachedActiveParameterSet(ctx); err == nil {
		doc, derr := Decode(json.RawMessage(cached.Raw))
		if derr == nil {
			return cached, doc, nil
		}
	}

	set, err := s.repo.GetActive()
	if err == gorm.ErrRecordNotFound {
		defaults := Defaults()
		raw, eerr := Encode(defaults)
		if eerr != nil {
			return nil, Document{}, eerr
		}
		return &models.ParameterSet{Version: 0, Status: models.ParamStatusActive, Raw: datatypes.JSON(raw)}, defaults, nil
	}
	if err != nil {
		return nil, Document{}, fmt.Errorf("failed to look up active set: %w", err)
	}

	doc, err := Decode(json.RawMessage(set.Raw))
	if err != nil {
		return nil, Document{}, fmt.Errorf("stored document is unreadable: %w", err)
	}

	if cerr := s.cache.CacheActiveParameterSet(ctx, set, activeCacheTTL); cerr != nil {
		s.logger.WithError(cerr).Warn("Failed to cache active parameter set")
	}

	return set, doc, nil
}

// ByVersion resolves a pinned version to its document.
func (s *Store) ByVersion(version int) (*models.ParameterSet, Document, error) {
	if version == 0 {
		defaults := Defaults()
		raw, err := Encode(defaults)
		if err != nil {
			return nil, Document{}, err
		}
		return &models.ParameterSet{Version: 0, Raw: datatypes.JSON(raw)}, defaults, nil
	}

	set, err := s.repo.GetByVersion(version)
	if err == gorm.ErrRecordNotFound {
		return nil, Document{}, ErrNotFound
	}
	if err != nil {
		return nil, Document{}, err
	}

	doc, err := Decode(json.RawMessage(set.Raw))
	if err != nil {
		return nil, Document{}, fmt.Errorf("stored document is unreadable: %w", err)
	}
	return set, doc, nil
}

// GetWithRuns returns a set plus the last n runs pinned to its version.
func (s *Store) GetWithRuns(ctx context.Context, id uint, n int) (*models.ParameterSet, []models.ScoreRun, error) {
	set, err := s.get(id)
	if err != nil {
		return nil, nil, err
	}

	runs, err := s.runs.ListByParameterVersion(set.Version, n)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list runs for version %d: %w", set.Version, err)
	}
	return set, runs, nil
}

// List returns the most recent sets in the catalog.
func (s *Store) List(limit int) ([]models.ParameterSet, error) {
	return s.repo.List(limit)
}

func (s *Store) get(id uint) (*models.ParameterSet, error) {
	set, err := s.repo.GetByID(id)
	if err == gorm.ErrRecordNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return set, nil
}

func (s *Store) baseDocument(baseVersion *int) (Document, error) {
	if baseVersion != nil {
		_, doc, err := s.ByVersion(*baseVersion)
		return doc, err
	}

	active, err := s.repo.GetActive()
	if err == gorm.ErrRecordNotFound {
		return Defaults(), nil
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to look up active set: %w", err)
	}
	return Decode(json.RawMessage(active.Raw))
}
