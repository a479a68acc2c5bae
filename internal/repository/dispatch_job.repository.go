package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrJobNotFound      = errors.New("dispatch job not found")
	ErrJobStateConflict = errors.New("dispatch job is not in the expected state")
)

type DispatchJobRepository struct {
	*pg.DB
}

func NewDispatchJobRepository(db *pg.DB) *DispatchJobRepository {
	return &DispatchJobRepository{db}
}

func (r *DispatchJobRepository) Create(ctx context.Context, job *model.DispatchJob) (*model.DispatchJob, error) {
	entity, err := toDispatchJobEntity(job)
	if err != nil {
		return nil, err
	}
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toDispatchJobModel(entity)
}

func (r *DispatchJobRepository) GetByID(ctx context.Context, id string) (*model.DispatchJob, error) {
	var entity DispatchJobEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrJobNotFound
		}
		return nil, err
	}
	return toDispatchJobModel(&entity)
}

// MarkStarted stamps started_at the first time a processor picks the job up.
func (r *DispatchJobRepository) MarkStarted(ctx context.Context, id string, at time.Time) error {
	return r.Write(ctx).Model(&DispatchJobEntity{}).
		Where("id = ? AND started_at IS NULL", id).
		Update("started_at", at).Error
}

// Finish moves a sending job into a terminal state. It fails with
// ErrJobStateConflict if the job already finished, which keeps a redelivered
// queue message from overwriting the first outcome.
func (r *DispatchJobRepository) Finish(ctx context.Context, id string, state model.JobState, sent, failed int, reason string, at time.Time) error {
	res := r.Write(ctx).Model(&DispatchJobEntity{}).
		Where("id = ? AND state = ?", id, string(model.JobStateSending)).
		Updates(map[string]interface{}{
			"state":        string(state),
			"sent_count":   sent,
			"failed_count": failed,
			"reason":       reason,
			"completed_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrJobStateConflict
	}
	return nil
}

func (r *DispatchJobRepository) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*model.DispatchJob, int64, error) {
	q := r.Read(ctx).Model(&DispatchJobEntity{}).Where("tenant_id = ?", tenantID)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	var entities []*DispatchJobEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	jobs := make([]*model.DispatchJob, 0, len(entities))
	for _, e := range entities {
		job, err := toDispatchJobModel(e)
		if err != nil {
			return nil, 0, err
		}
		jobs = append(jobs, job)
	}
	return jobs, total, nil
}
