package repository

import (
	"time"

	"github.com/lib/pq"
	"github.com/nimasrn/school-notify/internal/model"
)

type TemplateEntity struct {
	ID         int64          `db:"id"          gorm:"primaryKey;autoIncrement;column:id"`
	TenantID   string         `db:"tenant_id"   gorm:"column:tenant_id;not null;index:idx_templates_tenant"`
	Name       string         `db:"name"        gorm:"column:name;not null"`
	Channel    string         `db:"channel"     gorm:"column:channel;not null;index:idx_templates_tenant"`
	Category   string         `db:"category"    gorm:"column:category;not null"`
	Subject    string         `db:"subject"     gorm:"column:subject;not null;default:''"`
	Body       string         `db:"body"        gorm:"column:body;not null"`
	Variables  pq.StringArray `db:"variables"   gorm:"column:variables;type:text"`
	IsActive   bool           `db:"is_active"   gorm:"column:is_active;not null;default:true"`
	UsageCount int64          `db:"usage_count" gorm:"column:usage_count;not null;default:0"`
	CreatedAt  time.Time      `db:"created_at"  gorm:"column:created_at;autoCreateTime"`
	UpdatedAt  time.Time      `db:"updated_at"  gorm:"column:updated_at;autoUpdateTime"`
}

func (TemplateEntity) TableName() string {
	return "templates"
}

func toTemplateEntity(m *model.Template) *TemplateEntity {
	if m == nil {
		return nil
	}
	return &TemplateEntity{
		ID:         m.ID,
		TenantID:   m.TenantID,
		Name:       m.Name,
		Channel:    string(m.Channel),
		Category:   string(m.Category),
		Subject:    m.Subject,
		Body:       m.Body,
		Variables:  pq.StringArray(m.Variables),
		IsActive:   m.IsActive,
		UsageCount: m.UsageCount,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}
}

func toTemplateModel(e *TemplateEntity) *model.Template {
	if e == nil {
		return nil
	}
	vars := []string(e.Variables)
	if vars == nil {
		vars = []string{}
	}
	return &model.Template{
		ID:         e.ID,
		TenantID:   e.TenantID,
		Name:       e.Name,
		Channel:    model.Channel(e.Channel),
		Category:   model.Category(e.Category),
		Subject:    e.Subject,
		Body:       e.Body,
		Variables:  vars,
		IsActive:   e.IsActive,
		UsageCount: e.UsageCount,
		CreatedAt:  e.CreatedAt,
		UpdatedAt:  e.UpdatedAt,
	}
}

func toTemplateModels(entities []*TemplateEntity) []*model.Template {
	models := make([]*model.Template, len(entities))
	for i, e := range entities {
		models[i] = toTemplateModel(e)
	}
	return models
}
