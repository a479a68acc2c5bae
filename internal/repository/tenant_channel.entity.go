package repository

import (
	"time"

	"github.com/nimasrn/school-notify/internal/model"
)

type TenantChannelEntity struct {
	ID            int64      `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	TenantID      string     `db:"tenant_id"       gorm:"column:tenant_id;not null;uniqueIndex:uq_tenant_channel"`
	Channel       string     `db:"channel"         gorm:"column:channel;not null;uniqueIndex:uq_tenant_channel"`
	Enabled       bool       `db:"enabled"         gorm:"column:enabled;not null;default:false"`
	MonthlyLimit  int64      `db:"monthly_limit"   gorm:"column:monthly_limit;not null;default:0"`
	Permissions   int64      `db:"permissions"     gorm:"column:permissions;not null;default:0"`
	UsedThisMonth int64      `db:"used_this_month" gorm:"column:used_this_month;not null;default:0"`
	UsagePeriod   string     `db:"usage_period"    gorm:"column:usage_period;not null;default:''"`
	LastSentAt    *time.Time `db:"last_sent_at"    gorm:"column:last_sent_at"`
	UpdatedAt     time.Time  `db:"updated_at"      gorm:"column:updated_at;autoUpdateTime"`
}

func (TenantChannelEntity) TableName() string {
	return "tenant_channel_configs"
}

func toTenantChannelEntity(m *model.TenantChannelConfig) *TenantChannelEntity {
	if m == nil {
		return nil
	}
	return &TenantChannelEntity{
		ID:            m.ID,
		TenantID:      m.TenantID,
		Channel:       string(m.Channel),
		Enabled:       m.Enabled,
		MonthlyLimit:  m.MonthlyLimit,
		Permissions:   int64(m.Permissions),
		UsedThisMonth: m.UsedThisMonth,
		UsagePeriod:   m.UsagePeriod,
		LastSentAt:    m.LastSentAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toTenantChannelModel(e *TenantChannelEntity) *model.TenantChannelConfig {
	if e == nil {
		return nil
	}
	return &model.TenantChannelConfig{
		ID:            e.ID,
		TenantID:      e.TenantID,
		Channel:       model.Channel(e.Channel),
		Enabled:       e.Enabled,
		MonthlyLimit:  e.MonthlyLimit,
		Permissions:   model.Permissions(e.Permissions),
		UsedThisMonth: e.UsedThisMonth,
		UsagePeriod:   e.UsagePeriod,
		LastSentAt:    e.LastSentAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
