package model

import (
	"errors"
	"time"
)

type JobState string

const (
	JobStateAccepted        JobState = "accepted"
	JobStateExpanding       JobState = "expanding"
	JobStateReserving       JobState = "reserving"
	JobStateSending         JobState = "sending"
	JobStateCompleted       JobState = "completed"
	JobStatePartiallyFailed JobState = "partially_failed"
	JobStateRejected        JobState = "rejected"
	JobStateCancelled       JobState = "cancelled"
)

func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStatePartiallyFailed, JobStateRejected, JobStateCancelled:
		return true
	}
	return false
}

type DispatchJob struct {
	ID         string            `json:"id"`
	TenantID   string            `json:"tenant_id"`
	Channel    Channel           `json:"channel"`
	Category   Category          `json:"category"`
	TemplateID *int64            `json:"template_id,omitempty"`
	Subject    string            `json:"subject,omitempty"`
	Body       string            `json:"body"`
	Variables  map[string]string `json:"variables,omitempty"`
	Audience   *AudienceFilter   `json:"audience,omitempty"`

	State  JobState `json:"state"`
	Reason string   `json:"reason,omitempty"`

	ProviderKind     ProviderKind    `json:"provider_kind,omitempty"`
	ProviderSnapshot *ProviderConfig `json:"-"`

	TotalRecipients int     `json:"total_recipients"`
	SentCount       int     `json:"sent_count"`
	FailedCount     int     `json:"failed_count"`
	EstimatedCost   float64 `json:"estimated_cost"`

	RequestedBy string     `json:"requested_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SubmitJobRequest carries either a template reference or raw content, and
// either explicit recipients or an audience filter.
type SubmitJobRequest struct {
	TenantID    string            `json:"tenant_id"`
	Channel     Channel           `json:"channel"`
	Category    Category          `json:"category"`
	TemplateID  *int64            `json:"template_id,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	Body        string            `json:"body,omitempty"`
	Variables   map[string]string `json:"variables,omitempty"`
	Recipients  []Recipient       `json:"recipients,omitempty"`
	Audience    *AudienceFilter   `json:"audience,omitempty"`
	RequestedBy string            `json:"requested_by,omitempty"`
}

func (r SubmitJobRequest) Validate() error {
	if r.TenantID == "" {
		return errors.New("tenant_id is required")
	}
	if !r.Channel.Valid() {
		return errors.New("channel must be email or sms")
	}
	if r.Category.Bit() == 0 {
		return errors.New("category is invalid")
	}
	if r.TemplateID == nil && r.Body == "" {
		return errors.New("either template_id or body is required")
	}
	if r.TemplateID != nil && r.Body != "" {
		return errors.New("template_id and body are mutually exclusive")
	}
	if len(r.Recipients) == 0 && r.Audience.IsZero() {
		return errors.New("either recipients or audience is required")
	}
	return nil
}

// JobStatus is what pollers see: the job plus one entry per recipient.
type JobStatus struct {
	Job        *DispatchJob       `json:"job"`
	Recipients []*RecipientStatus `json:"recipients"`
}

type RecipientStatus struct {
	RecordID    int64          `json:"record_id"`
	Address     string         `json:"address"`
	Status      DeliveryStatus `json:"status"`
	Attempts    int            `json:"attempts"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}
