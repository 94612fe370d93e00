package ledger

import (
	"context"
	"errors"

	"github.com/caseway/caseway/internal/metrics"
	"github.com/caseway/caseway/internal/models"
	"github.com/mattn/go-sqlite3"
	"gorm.io/gorm"
)

// Ledger tracks the fixed pool of execution resources and their
// binding to at most one case each. All mutations go through single
// conditional updates so that concurrent claimers, including a
// restarting instance overlapping a shutting-down one, cannot both
// win the same resource.
type Ledger struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Ledger {
	if db == nil {
		panic("resource ledger requires a database")
	}
	return &Ledger{db: db}
}

// Ensure guarantees a resource row exists for the given name. A newly
// created row starts available; an existing row is left untouched.
func (l *Ledger) Ensure(ctx context.Context, name string) error {
	resource := models.Resource{
		Name:   name,
		Status: models.ResourceStatusAvailable,
	}

	return l.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(&resource).Error
}

// ClaimAnyFor atomically claims one available resource for the case
// and returns its name, or "" when the pool is exhausted. Candidates
// are tried in lexicographic order so behavior stays reproducible
// under concurrent callers. The claim predicate and the write are a
// single conditional update; losing the race to another claimer is
// not an error, the next candidate is tried.
func (l *Ledger) ClaimAnyFor(ctx context.Context, caseID uint) (string, error) {
	var claimed string

	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var candidates []models.Resource
		err := tx.
			Where("status = ?", models.ResourceStatusAvailable).
			Order("name ASC").
			Find(&candidates).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		for _, candidate := range candidates {
			result := tx.Model(&models.Resource{}).
				Where(
					"name = ? AND status = ?",
					candidate.Name,
					models.ResourceStatusAvailable,
				).
				Updates(map[string]interface{}{
					"status":           models.ResourceStatusAssigned,
					"assigned_case_id": caseID,
				})
			if result.Error != nil {
				if isContentionErr(result.Error) {
					metrics.ClaimContentionTotal.Inc()
				}
				return result.Error
			}
			if result.RowsAffected == 0 {
				// Another claimer won the race.
				metrics.ClaimContentionTotal.Inc()
				continue
			}

			claimed = candidate.Name
			break
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	return claimed, nil
}

// FindByCase returns the name of the resource bound to the case, or
// "" when none is. Recovery uses this so a retried submission never
// claims a second resource for a case that already holds one.
func (l *Ledger) FindByCase(ctx context.Context, caseID uint) (string, error) {
	var resource models.Resource

	err := l.db.WithContext(ctx).
		Where("assigned_case_id = ?", caseID).
		First(&resource).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	return resource.Name, nil
}

// Release returns the resource bound to the case to the available
// pool and clears the binding. Calling it for a case with no bound
// resource is a harmless no-op.
func (l *Ledger) Release(ctx context.Context, caseID uint) error {
	return l.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("assigned_case_id = ?", caseID).
		Updates(map[string]interface{}{
			"status":           models.ResourceStatusAvailable,
			"assigned_case_id": nil,
		}).Error
}

// Quarantine marks the resource bound to the case as quarantined,
// retaining the binding. A quarantined resource is excluded from the
// claimable pool until a later confirmed kill releases it.
func (l *Ledger) Quarantine(ctx context.Context, caseID uint) error {
	result := l.db.WithContext(ctx).
		Model(&models.Resource{}).
		Where("assigned_case_id = ?", caseID).
		Update("status", models.ResourceStatusQuarantined)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected > 0 {
		metrics.QuarantinesTotal.Inc()
	}

	return nil
}

// ListQuarantined returns all quarantined resources, lexicographically.
func (l *Ledger) ListQuarantined(ctx context.Context) ([]models.Resource, error) {
	var resources []models.Resource

	err := l.db.WithContext(ctx).
		Where("status = ?", models.ResourceStatusQuarantined).
		Order("name ASC").
		Find(&resources).Error
	if err != nil {
		return nil, err
	}

	return resources, nil
}

// List returns every resource in the pool, lexicographically.
func (l *Ledger) List(ctx context.Context) ([]models.Resource, error) {
	var resources []models.Resource

	err := l.db.WithContext(ctx).
		Order("name ASC").
		Find(&resources).Error
	if err != nil {
		return nil, err
	}

	return resources, nil
}

// CountByStatus returns the number of resources per status.
func (l *Ledger) CountByStatus(ctx context.Context) (map[models.ResourceStatus]int64, error) {
	type row struct {
		Status models.ResourceStatus
		Count  int64
	}

	var rows []row
	err := l.db.WithContext(ctx).
		Model(&models.Resource{}).
		Select("status, count(*) as count").
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[models.ResourceStatus]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.Count
	}

	return counts, nil
}

func isContentionErr(err error) bool {
	if err == nil {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
