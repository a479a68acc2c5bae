package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrChannelConfigNotFound = errors.New("tenant channel config not found")
	ErrChannelDisabled       = errors.New("channel is disabled for tenant")
	ErrCategoryForbidden     = errors.New("category is not permitted for tenant")
	ErrQuotaExceeded         = errors.New("monthly quota exceeded")
	ErrInvalidCount          = errors.New("reservation count must be positive")
)

type TenantChannelRepository struct {
	*pg.DB
}

func NewTenantChannelRepository(db *pg.DB) *TenantChannelRepository {
	return &TenantChannelRepository{db}
}

func (r *TenantChannelRepository) Get(ctx context.Context, tenantID string, channel model.Channel) (*model.TenantChannelConfig, error) {
	var entity TenantChannelEntity
	err := r.Read(ctx).
		Where("tenant_id = ? AND channel = ?", tenantID, string(channel)).
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChannelConfigNotFound
		}
		return nil, err
	}
	return toTenantChannelModel(&entity), nil
}

// Upsert writes the administrator-owned columns. The usage counter and
// period are only touched on insert.
func (r *TenantChannelRepository) Upsert(ctx context.Context, cfg *model.TenantChannelConfig) (*model.TenantChannelConfig, error) {
	entity := toTenantChannelEntity(cfg)
	err := r.Write(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "tenant_id"}, {Name: "channel"}},
		DoUpdates: clause.AssignmentColumns([]string{"enabled", "monthly_limit", "permissions", "updated_at"}),
	}).Create(entity).Error
	if err != nil {
		return nil, err
	}
	return r.Get(ctx, cfg.TenantID, cfg.Channel)
}

// Reserve atomically adds count to the tenant's monthly usage if, and only
// if, the channel is enabled, the category is permitted and the new total
// stays within the limit. The check and the increment are one conditional
// UPDATE, so concurrent jobs for the same tenant cannot both pass against a
// stale counter. A counter from an earlier period is reset first.
func (r *TenantChannelRepository) Reserve(ctx context.Context, tenantID string, channel model.Channel, category model.Category, count int64, period string, at time.Time) error {
	if count <= 0 {
		return ErrInvalidCount
	}

	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		err := r.Write(ctx).Model(&TenantChannelEntity{}).
			Where("tenant_id = ? AND channel = ? AND usage_period <> ?", tenantID, string(channel), period).
			Updates(map[string]interface{}{
				"used_this_month": 0,
				"usage_period":    period,
				"updated_at":      at,
			}).Error
		if err != nil {
			return err
		}

		res := r.Write(ctx).Model(&TenantChannelEntity{}).
			Where("tenant_id = ? AND channel = ?", tenantID, string(channel)).
			Where("enabled = ?", true).
			Where("(permissions & ?) <> 0", int64(category.Bit())).
			Where("used_this_month + ? <= monthly_limit", count).
			Updates(map[string]interface{}{
				"used_this_month": gorm.Expr("used_this_month + ?", count),
				"last_sent_at":    at,
				"updated_at":      at,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			return nil
		}
		return r.reserveFailureReason(ctx, tenantID, channel, category)
	})
}

// reserveFailureReason reads the row to explain a rejected reservation.
// Checks run in the order callers see them: channel, category, quota.
func (r *TenantChannelRepository) reserveFailureReason(ctx context.Context, tenantID string, channel model.Channel, category model.Category) error {
	cfg, err := r.Get(ctx, tenantID, channel)
	if err != nil {
		return err
	}
	switch {
	case !cfg.Enabled:
		return ErrChannelDisabled
	case !cfg.Permissions.Has(category):
		return ErrCategoryForbidden
	default:
		return ErrQuotaExceeded
	}
}

// Release gives back count units reserved in period, for a reservation whose
// job could not be persisted. It never drives the counter below zero and is
// a no-op once the period has rolled over.
func (r *TenantChannelRepository) Release(ctx context.Context, tenantID string, channel model.Channel, count int64, period string) error {
	if count <= 0 {
		return ErrInvalidCount
	}
	return r.Write(ctx).Model(&TenantChannelEntity{}).
		Where("tenant_id = ? AND channel = ? AND usage_period = ?", tenantID, string(channel), period).
		Where("used_this_month >= ?", count).
		Update("used_this_month", gorm.Expr("used_this_month - ?", count)).Error
}
