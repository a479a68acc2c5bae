package repository

import (
	"time"

	"github.com/lib/pq"
	"github.com/nimasrn/school-notify/internal/model"
)

type ProviderConfigEntity struct {
	ID             int64          `db:"id"               gorm:"primaryKey;autoIncrement;column:id"`
	Channel        string         `db:"channel"          gorm:"column:channel;not null;index"`
	Kind           string         `db:"kind"             gorm:"column:kind;not null"`
	Name           string         `db:"name"             gorm:"column:name;not null;default:''"`
	IsActive       bool           `db:"is_active"        gorm:"column:is_active;not null;default:false"`
	Host           string         `db:"host"             gorm:"column:host"`
	Port           int            `db:"port"             gorm:"column:port"`
	Username       string         `db:"username"         gorm:"column:username"`
	Password       string         `db:"password"         gorm:"column:password"`
	UseTLS         bool           `db:"use_tls"          gorm:"column:use_tls"`
	APIKey         string         `db:"api_key"          gorm:"column:api_key"`
	APISecret      string         `db:"api_secret"       gorm:"column:api_secret"`
	AccountID      string         `db:"account_id"       gorm:"column:account_id"`
	Domain         string         `db:"domain"           gorm:"column:domain"`
	Region         string         `db:"region"           gorm:"column:region"`
	BaseURL        string         `db:"base_url"         gorm:"column:base_url"`
	Endpoints      pq.StringArray `db:"endpoints"        gorm:"column:endpoints;type:text"`
	FromAddress    string         `db:"from_address"     gorm:"column:from_address"`
	FromName       string         `db:"from_name"        gorm:"column:from_name"`
	SenderID       string         `db:"sender_id"        gorm:"column:sender_id"`
	DailyLimit     int64          `db:"daily_limit"      gorm:"column:daily_limit;not null;default:0"`
	MonthlyLimit   int64          `db:"monthly_limit"    gorm:"column:monthly_limit;not null;default:0"`
	RatePerSecond  float64        `db:"rate_per_second"  gorm:"column:rate_per_second;not null;default:0"`
	CostPerMessage float64        `db:"cost_per_message" gorm:"column:cost_per_message;not null;default:0"`
	TimeoutSeconds int            `db:"timeout_seconds"  gorm:"column:timeout_seconds;not null;default:0"`
	CreatedAt      time.Time      `db:"created_at"       gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time      `db:"updated_at"       gorm:"column:updated_at;autoUpdateTime"`
}

func (ProviderConfigEntity) TableName() string {
	return "provider_configs"
}

func toProviderConfigEntity(m *model.ProviderConfig) *ProviderConfigEntity {
	if m == nil {
		return nil
	}
	return &ProviderConfigEntity{
		ID:             m.ID,
		Channel:        string(m.Channel),
		Kind:           string(m.Kind),
		Name:           m.Name,
		IsActive:       m.IsActive,
		Host:           m.Host,
		Port:           m.Port,
		Username:       m.Username,
		Password:       m.Password,
		UseTLS:         m.UseTLS,
		APIKey:         m.APIKey,
		APISecret:      m.APISecret,
		AccountID:      m.AccountID,
		Domain:         m.Domain,
		Region:         m.Region,
		BaseURL:        m.BaseURL,
		Endpoints:      pq.StringArray(m.Endpoints),
		FromAddress:    m.FromAddress,
		FromName:       m.FromName,
		SenderID:       m.SenderID,
		DailyLimit:     m.DailyLimit,
		MonthlyLimit:   m.MonthlyLimit,
		RatePerSecond:  m.RatePerSecond,
		CostPerMessage: m.CostPerMessage,
		TimeoutSeconds: m.TimeoutSeconds,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func toProviderConfigModel(e *ProviderConfigEntity) *model.ProviderConfig {
	if e == nil {
		return nil
	}
	return &model.ProviderConfig{
		ID:             e.ID,
		Channel:        model.Channel(e.Channel),
		Kind:           model.ProviderKind(e.Kind),
		Name:           e.Name,
		IsActive:       e.IsActive,
		Host:           e.Host,
		Port:           e.Port,
		Username:       e.Username,
		Password:       e.Password,
		UseTLS:         e.UseTLS,
		APIKey:         e.APIKey,
		APISecret:      e.APISecret,
		AccountID:      e.AccountID,
		Domain:         e.Domain,
		Region:         e.Region,
		BaseURL:        e.BaseURL,
		Endpoints:      []string(e.Endpoints),
		FromAddress:    e.FromAddress,
		FromName:       e.FromName,
		SenderID:       e.SenderID,
		DailyLimit:     e.DailyLimit,
		MonthlyLimit:   e.MonthlyLimit,
		RatePerSecond:  e.RatePerSecond,
		CostPerMessage: e.CostPerMessage,
		TimeoutSeconds: e.TimeoutSeconds,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      e.UpdatedAt,
	}
}

func toProviderConfigModels(entities []*ProviderConfigEntity) []*model.ProviderConfig {
	models := make([]*model.ProviderConfig, len(entities))
	for i, e := range entities {
		models[i] = toProviderConfigModel(e)
	}
	return models
}
