package repository

import (
	"encoding/json"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
)

type DispatchJobEntity struct {
	ID               string     `db:"id"                gorm:"primaryKey;column:id"`
	TenantID         string     `db:"tenant_id"         gorm:"column:tenant_id;not null;index"`
	Channel          string     `db:"channel"           gorm:"column:channel;not null"`
	Category         string     `db:"category"          gorm:"column:category;not null"`
	TemplateID       *int64     `db:"template_id"       gorm:"column:template_id"`
	Subject          string     `db:"subject"           gorm:"column:subject;not null;default:''"`
	Body             string     `db:"body"              gorm:"column:body;not null"`
	Variables        string     `db:"variables"         gorm:"column:variables;not null;default:'{}'"`
	Audience         string     `db:"audience"          gorm:"column:audience"`
	State            string     `db:"state"             gorm:"column:state;not null;index"`
	Reason           string     `db:"reason"            gorm:"column:reason;not null;default:''"`
	ProviderKind     string     `db:"provider_kind"     gorm:"column:provider_kind;not null;default:''"`
	ProviderSnapshot string     `db:"provider_snapshot" gorm:"column:provider_snapshot"`
	TotalRecipients  int        `db:"total_recipients"  gorm:"column:total_recipients;not null;default:0"`
	SentCount        int        `db:"sent_count"        gorm:"column:sent_count;not null;default:0"`
	FailedCount      int        `db:"failed_count"      gorm:"column:failed_count;not null;default:0"`
	EstimatedCost    float64    `db:"estimated_cost"    gorm:"column:estimated_cost;not null;default:0"`
	RequestedBy      string     `db:"requested_by"      gorm:"column:requested_by;not null;default:''"`
	CreatedAt        time.Time  `db:"created_at"        gorm:"column:created_at"`
	StartedAt        *time.Time `db:"started_at"        gorm:"column:started_at"`
	CompletedAt      *time.Time `db:"completed_at"      gorm:"column:completed_at"`
}

func (DispatchJobEntity) TableName() string {
	return "dispatch_jobs"
}

func toDispatchJobEntity(m *model.DispatchJob) (*DispatchJobEntity, error) {
	if m == nil {
		return nil, nil
	}
	vars, err := json.Marshal(nonNilMap(m.Variables))
	if err != nil {
		return nil, err
	}
	e := &DispatchJobEntity{
		ID:              m.ID,
		TenantID:        m.TenantID,
		Channel:         string(m.Channel),
		Category:        string(m.Category),
		TemplateID:      m.TemplateID,
		Subject:         m.Subject,
		Body:            m.Body,
		Variables:       string(vars),
		State:           string(m.State),
		Reason:          m.Reason,
		ProviderKind:    string(m.ProviderKind),
		TotalRecipients: m.TotalRecipients,
		SentCount:       m.SentCount,
		FailedCount:     m.FailedCount,
		EstimatedCost:   m.EstimatedCost,
		RequestedBy:     m.RequestedBy,
		CreatedAt:       m.CreatedAt,
		StartedAt:       m.StartedAt,
		CompletedAt:     m.CompletedAt,
	}
	if !m.Audience.IsZero() {
		b, err := json.Marshal(m.Audience)
		if err != nil {
			return nil, err
		}
		e.Audience = string(b)
	}
	if m.ProviderSnapshot != nil {
		b, err := json.Marshal(m.ProviderSnapshot)
		if err != nil {
			return nil, err
		}
		e.ProviderSnapshot = string(b)
	}
	return e, nil
}

func toDispatchJobModel(e *DispatchJobEntity) (*model.DispatchJob, error) {
	if e == nil {
		return nil, nil
	}
	m := &model.DispatchJob{
		ID:              e.ID,
		TenantID:        e.TenantID,
		Channel:         model.Channel(e.Channel),
		Category:        model.Category(e.Category),
		TemplateID:      e.TemplateID,
		Subject:         e.Subject,
		Body:            e.Body,
		State:           model.JobState(e.State),
		Reason:          e.Reason,
		ProviderKind:    model.ProviderKind(e.ProviderKind),
		TotalRecipients: e.TotalRecipients,
		SentCount:       e.SentCount,
		FailedCount:     e.FailedCount,
		EstimatedCost:   e.EstimatedCost,
		RequestedBy:     e.RequestedBy,
		CreatedAt:       e.CreatedAt,
		StartedAt:       e.StartedAt,
		CompletedAt:     e.CompletedAt,
	}
	if e.Variables != "" {
		if err := json.Unmarshal([]byte(e.Variables), &m.Variables); err != nil {
			return nil, err
		}
	}
	if e.Audience != "" {
		m.Audience = &model.AudienceFilter{}
		if err := json.Unmarshal([]byte(e.Audience), m.Audience); err != nil {
			return nil, err
		}
	}
	if e.ProviderSnapshot != "" {
		m.ProviderSnapshot = &model.ProviderConfig{}
		if err := json.Unmarshal([]byte(e.ProviderSnapshot), m.ProviderSnapshot); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func nonNilMap(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
