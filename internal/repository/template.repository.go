package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTemplateNotFound = errors.New("template not found")
	ErrTemplateInactive = errors.New("template is not active")
)

type TemplateRepository struct {
	*pg.DB
}

func NewTemplateRepository(db *pg.DB) *TemplateRepository {
	return &TemplateRepository{db}
}

func (r *TemplateRepository) Create(ctx context.Context, t *model.Template) (*model.Template, error) {
	entity := toTemplateEntity(t)
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toTemplateModel(entity), nil
}

// Update rewrites the editable columns. usage_count is left alone so a
// concurrent IncrementUsage is never lost.
func (r *TemplateRepository) Update(ctx context.Context, t *model.Template) (*model.Template, error) {
	entity := toTemplateEntity(t)
	res := r.Write(ctx).Model(&TemplateEntity{}).
		Where("id = ? AND tenant_id = ?", t.ID, t.TenantID).
		Select("name", "channel", "category", "subject", "body", "variables", "is_active", "updated_at").
		Updates(entity)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ErrTemplateNotFound
	}
	return r.GetByID(ctx, t.TenantID, t.ID)
}

func (r *TemplateRepository) GetByID(ctx context.Context, tenantID string, id int64) (*model.Template, error) {
	var entity TemplateEntity
	err := r.Read(ctx).Where("id = ? AND tenant_id = ?", id, tenantID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTemplateNotFound
		}
		return nil, err
	}
	return toTemplateModel(&entity), nil
}

// GetActive returns the template only when it is active.
func (r *TemplateRepository) GetActive(ctx context.Context, tenantID string, id int64) (*model.Template, error) {
	t, err := r.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, ErrTemplateInactive
	}
	return t, nil
}

func (r *TemplateRepository) List(ctx context.Context, tenantID string, channel *model.Channel) ([]*model.Template, error) {
	q := r.Read(ctx).Model(&TemplateEntity{}).Where("tenant_id = ?", tenantID)
	if channel != nil {
		q = q.Where("channel = ?", string(*channel))
	}
	var entities []*TemplateEntity
	if err := q.Order("name ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toTemplateModels(entities), nil
}

func (r *TemplateRepository) IncrementUsage(ctx context.Context, id int64) error {
	res := r.Write(ctx).Model(&TemplateEntity{}).
		Where("id = ?", id).
		UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrTemplateNotFound
	}
	return nil
}
