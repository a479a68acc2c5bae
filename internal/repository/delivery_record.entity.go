package repository

import (
	"encoding/json"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/logger"
)

type DeliveryRecordEntity struct {
	ID                int64      `db:"id"                  gorm:"primaryKey;autoIncrement;column:id"`
	JobID             string     `db:"job_id"              gorm:"column:job_id;not null;index"`
	TenantID          string     `db:"tenant_id"           gorm:"column:tenant_id;not null;index:idx_delivery_tenant_queued"`
	Channel           string     `db:"channel"             gorm:"column:channel;not null"`
	Category          string     `db:"category"            gorm:"column:category;not null"`
	RecipientID       string     `db:"recipient_id"        gorm:"column:recipient_id;not null;default:''"`
	Address           string     `db:"address"             gorm:"column:address;not null"`
	Name              string     `db:"name"                gorm:"column:name;not null;default:''"`
	Variables         string     `db:"variables"           gorm:"column:variables;not null;default:'{}'"`
	Subject           string     `db:"subject"             gorm:"column:subject;not null;default:''"`
	BodyExcerpt       string     `db:"body_excerpt"        gorm:"column:body_excerpt;not null;default:''"`
	BodyHash          string     `db:"body_hash"           gorm:"column:body_hash;not null;default:''"`
	ProviderKind      string     `db:"provider_kind"       gorm:"column:provider_kind;not null"`
	ProviderMessageID string     `db:"provider_message_id" gorm:"column:provider_message_id;not null;default:'';index"`
	Status            string     `db:"status"              gorm:"column:status;not null;index"`
	Attempts          int        `db:"attempts"            gorm:"column:attempts;not null;default:0"`
	ErrorDetail       string     `db:"error_detail"        gorm:"column:error_detail;not null;default:''"`
	QueuedAt          time.Time  `db:"queued_at"           gorm:"column:queued_at;not null;index:idx_delivery_tenant_queued"`
	SentAt            *time.Time `db:"sent_at"             gorm:"column:sent_at"`
	DeliveredAt       *time.Time `db:"delivered_at"        gorm:"column:delivered_at"`
	OpenedAt          *time.Time `db:"opened_at"           gorm:"column:opened_at"`
	FailedAt          *time.Time `db:"failed_at"           gorm:"column:failed_at"`
	BouncedAt         *time.Time `db:"bounced_at"          gorm:"column:bounced_at"`
}

func (DeliveryRecordEntity) TableName() string {
	return "delivery_records"
}

func toDeliveryRecordEntity(m *model.DeliveryRecord) (*DeliveryRecordEntity, error) {
	if m == nil {
		return nil, nil
	}
	vars, err := json.Marshal(nonNilMap(m.Variables))
	if err != nil {
		return nil, err
	}
	return &DeliveryRecordEntity{
		ID:                m.ID,
		JobID:             m.JobID,
		TenantID:          m.TenantID,
		Channel:           string(m.Channel),
		Category:          string(m.Category),
		RecipientID:       m.RecipientID,
		Address:           m.Address,
		Name:              m.Name,
		Variables:         string(vars),
		Subject:           m.Subject,
		BodyExcerpt:       m.BodyExcerpt,
		BodyHash:          m.BodyHash,
		ProviderKind:      string(m.ProviderKind),
		ProviderMessageID: m.ProviderMessageID,
		Status:            string(m.Status),
		Attempts:          m.Attempts,
		ErrorDetail:       m.ErrorDetail,
		QueuedAt:          m.QueuedAt,
		SentAt:            m.SentAt,
		DeliveredAt:       m.DeliveredAt,
		OpenedAt:          m.OpenedAt,
		FailedAt:          m.FailedAt,
		BouncedAt:         m.BouncedAt,
	}, nil
}

func toDeliveryRecordModel(e *DeliveryRecordEntity) *model.DeliveryRecord {
	if e == nil {
		return nil
	}
	m := &model.DeliveryRecord{
		ID:                e.ID,
		JobID:             e.JobID,
		TenantID:          e.TenantID,
		Channel:           model.Channel(e.Channel),
		Category:          model.Category(e.Category),
		RecipientID:       e.RecipientID,
		Address:           e.Address,
		Name:              e.Name,
		Subject:           e.Subject,
		BodyExcerpt:       e.BodyExcerpt,
		BodyHash:          e.BodyHash,
		ProviderKind:      model.ProviderKind(e.ProviderKind),
		ProviderMessageID: e.ProviderMessageID,
		Status:            model.DeliveryStatus(e.Status),
		Attempts:          e.Attempts,
		ErrorDetail:       e.ErrorDetail,
		QueuedAt:          e.QueuedAt,
		SentAt:            e.SentAt,
		DeliveredAt:       e.DeliveredAt,
		OpenedAt:          e.OpenedAt,
		FailedAt:          e.FailedAt,
		BouncedAt:         e.BouncedAt,
	}
	// a bad variables column must not hide the record from the delivery log
	if e.Variables != "" {
		if err := json.Unmarshal([]byte(e.Variables), &m.Variables); err != nil {
			logger.Warn("[repository] delivery record variables unreadable", "record_id", e.ID, "job_id", e.JobID, "error", err)
			m.Variables = nil
		}
	}
	return m
}

func toDeliveryRecordModels(entities []*DeliveryRecordEntity) []*model.DeliveryRecord {
	models := make([]*model.DeliveryRecord, len(entities))
	for i, e := range entities {
		models[i] = toDeliveryRecordModel(e)
	}
	return models
}

// Entities lists every table the dispatch core owns, for AutoMigrate in
// tests. Production schemas come from goose migrations.
func Entities() []any {
	return []any{
		&TemplateEntity{},
		&TenantChannelEntity{},
		&ProviderConfigEntity{},
		&DispatchJobEntity{},
		&DeliveryRecordEntity{},
	}
}
