package cases

import (
	"context"
	"errors"
	"time"

	"github.com/caseway/caseway/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Store tracks each case's lifecycle status, timestamps, and remote
// job linkage. All mutations are point updates keyed by id; the store
// is the single source of truth between orchestration cycles.
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	if db == nil {
		panic("case store requires a database")
	}
	return &Store{db: db}
}

// Create inserts a new case for the given source path with status
// submitted. Paths are unique; re-observing a known path returns the
// existing case untouched.
func (s *Store) Create(ctx context.Context, sourcePath string, meta datatypes.JSONMap) (*models.Case, error) {
	now := time.Now().UTC()
	c := &models.Case{
		SourcePath:      sourcePath,
		Status:          models.CaseStatusSubmitted,
		Progress:        0,
		Meta:            meta,
		StatusChangedAt: now,
		CreatedAt:       now,
	}

	err := s.db.WithContext(ctx).
		Where("source_path = ?", sourcePath).
		FirstOrCreate(c).Error
	if err != nil {
		return nil, err
	}

	return c, nil
}

// Get retrieves a case by id.
func (s *Store) Get(ctx context.Context, id uint) (*models.Case, error) {
	c := &models.Case{}
	err := s.db.WithContext(ctx).First(c, "id = ?", id).Error
	if err != nil {
		return nil, err
	}
	return c, nil
}

// FindBySourcePath retrieves a case by its source path, or nil when
// the path has never been observed.
func (s *Store) FindBySourcePath(ctx context.Context, sourcePath string) (*models.Case, error) {
	c := &models.Case{}
	err := s.db.WithContext(ctx).First(c, "source_path = ?", sourcePath).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// GetByStatus returns all cases with the given status, oldest first,
// to keep scheduling first-come-first-served.
func (s *Store) GetByStatus(ctx context.Context, status models.CaseStatus) ([]models.Case, error) {
	var out []models.Case

	err := s.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}

	return out, nil
}

// ListRequest filters and bounds a case listing.
type ListRequest struct {
	Status string
	Limit  int
	Offset int
}

// List returns cases for the reporting surface, newest first.
func (s *Store) List(ctx context.Context, req ListRequest) ([]models.Case, error) {
	var (
		out []models.Case
		q   = s.db.WithContext(ctx)
	)

	if req.Status != "" {
		q = q.Where("status = ?", req.Status)
	}
	if req.Limit > 0 {
		q = q.Limit(req.Limit)
	}
	if req.Offset > 0 {
		q = q.Offset(req.Offset)
	}

	if err := q.Order("id DESC").Find(&out).Error; err != nil {
		return nil, err
	}

	return out, nil
}

// SetStatus transitions a case to the given status and stamps
// status_changed_at, which drives timeout detection.
func (s *Store) SetStatus(ctx context.Context, id uint, status models.CaseStatus) error {
	return s.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":            status,
			"status_changed_at": time.Now().UTC(),
		}).Error
}

// SetResource records the resource a case is bound to.
func (s *Store) SetResource(ctx context.Context, id uint, name string) error {
	return s.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ?", id).
		Update("resource_name", name).Error
}

// SetRemoteLink persists the remote job handle for a case.
func (s *Store) SetRemoteLink(ctx context.Context, id uint, handle string) error {
	return s.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ?", id).
		Update("remote_job_id", handle).Error
}

// SetProgress updates the advisory progress value.
func (s *Store) SetProgress(ctx context.Context, id uint, progress int) error {
	return s.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ?", id).
		Update("progress", progress).Error
}

// MarkTerminal transitions a case to completed or failed, stamping
// completed_at. A completed case always reports full progress.
func (s *Store) MarkTerminal(ctx context.Context, id uint, status models.CaseStatus) error {
	if !status.Terminal() {
		return errors.New("mark terminal requires a terminal status")
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":            status,
		"status_changed_at": now,
		"completed_at":      now,
	}
	if status == models.CaseStatusCompleted {
		updates["progress"] = 100
	}

	return s.db.WithContext(ctx).
		Model(&models.Case{}).
		Where("id = ?", id).
		Updates(updates).Error
}

// CountByStatus returns the number of cases per status.
func (s *Store) CountByStatus(ctx context.Context) (map[models.CaseStatus]int64, error) {
	type row struct {
		Status models.CaseStatus
		Count  int64
	}

	var rows []row
	err := s.db.WithContext(ctx).
		Model(&models.Case{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.CaseStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}

	return counts, nil
}
