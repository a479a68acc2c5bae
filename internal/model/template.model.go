package model

import (
	"errors"
	"time"
)

type Template struct {
	ID         int64     `json:"id"`
	TenantID   string    `json:"tenant_id"`
	Name       string    `json:"name"`
	Channel    Channel   `json:"channel"`
	Category   Category  `json:"category"`
	Subject    string    `json:"subject,omitempty"`
	Body       string    `json:"body"`
	Variables  []string  `json:"variables"`
	IsActive   bool      `json:"is_active"`
	UsageCount int64     `json:"usage_count"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type TemplateSaveRequest struct {
	ID       int64    `json:"id,omitempty"`
	TenantID string   `json:"tenant_id"`
	Name     string   `json:"name"`
	Channel  Channel  `json:"channel"`
	Category Category `json:"category"`
	Subject  string   `json:"subject,omitempty"`
	Body     string   `json:"body"`
	IsActive bool     `json:"is_active"`
}

func (r TemplateSaveRequest) Validate() error {
	if r.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if r.Name == "" {
		return errors.New("name is required")
	}
	if !r.Channel.Valid() {
		return errors.New("channel must be email or sms")
	}
	if r.Category.Bit() == 0 {
		return errors.New("category is invalid")
	}
	if r.Channel == ChannelSMS && r.Subject != "" {
		return errors.New("sms templates have no subject")
	}
	return nil
}
