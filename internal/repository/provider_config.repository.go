package repository

import (
	"context"
	"errors"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrProviderConfigNotFound = errors.New("provider config not found")
	ErrNoActiveProvider       = errors.New("no active provider for channel")
)

type ProviderConfigRepository struct {
	*pg.DB
}

func NewProviderConfigRepository(db *pg.DB) *ProviderConfigRepository {
	return &ProviderConfigRepository{db}
}

// Create stores cfg inactive; Activate is the only way to switch providers.
func (r *ProviderConfigRepository) Create(ctx context.Context, cfg *model.ProviderConfig) (*model.ProviderConfig, error) {
	entity := toProviderConfigEntity(cfg)
	entity.IsActive = false
	if err := r.Write(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toProviderConfigModel(entity), nil
}

func (r *ProviderConfigRepository) GetByID(ctx context.Context, id int64) (*model.ProviderConfig, error) {
	var entity ProviderConfigEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrProviderConfigNotFound
		}
		return nil, err
	}
	return toProviderConfigModel(&entity), nil
}

func (r *ProviderConfigRepository) GetActive(ctx context.Context, channel model.Channel) (*model.ProviderConfig, error) {
	var entity ProviderConfigEntity
	err := r.Read(ctx).
		Where("channel = ? AND is_active = ?", string(channel), true).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveProvider
		}
		return nil, err
	}
	return toProviderConfigModel(&entity), nil
}

func (r *ProviderConfigRepository) List(ctx context.Context, channel *model.Channel) ([]*model.ProviderConfig, error) {
	q := r.Read(ctx).Model(&ProviderConfigEntity{})
	if channel != nil {
		q = q.Where("channel = ?", string(*channel))
	}
	var entities []*ProviderConfigEntity
	if err := q.Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toProviderConfigModels(entities), nil
}

// Activate makes id the single active provider of its channel. Deactivating
// the previous one and activating the new one happen in one transaction.
func (r *ProviderConfigRepository) Activate(ctx context.Context, id int64) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		cfg, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		err = r.Write(ctx).Model(&ProviderConfigEntity{}).
			Where("channel = ? AND is_active = ? AND id <> ?", string(cfg.Channel), true, id).
			Update("is_active", false).Error
		if err != nil {
			return err
		}
		return r.Write(ctx).Model(&ProviderConfigEntity{}).
			Where("id = ?", id).
			Update("is_active", true).Error
	})
}

// Deactivate leaves the channel without a provider; sends are then refused
// with ProviderInactive.
func (r *ProviderConfigRepository) Deactivate(ctx context.Context, id int64) error {
	res := r.Write(ctx).Model(&ProviderConfigEntity{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrProviderConfigNotFound
	}
	return nil
}
