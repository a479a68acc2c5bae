package model

import "time"

type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliverySent      DeliveryStatus = "sent"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryOpened    DeliveryStatus = "opened"
	DeliveryFailed    DeliveryStatus = "failed"
	DeliveryBounced   DeliveryStatus = "bounced"
)

var deliveryRank = map[DeliveryStatus]int{
	DeliveryQueued:    0,
	DeliverySent:      1,
	DeliveryDelivered: 2,
	DeliveryOpened:    3,
}

func (s DeliveryStatus) Valid() bool {
	switch s {
	case DeliveryQueued, DeliverySent, DeliveryDelivered, DeliveryOpened, DeliveryFailed, DeliveryBounced:
		return true
	}
	return false
}

func (s DeliveryStatus) Terminal() bool {
	return s == DeliveryOpened || s == DeliveryFailed || s == DeliveryBounced
}

// Succeeded is true once the provider accepted the message.
func (s DeliveryStatus) Succeeded() bool {
	return s == DeliverySent || s == DeliveryDelivered || s == DeliveryOpened
}

// CanTransitionTo reports whether a record in s may move to next on ch.
// Statuses only move forward along queued, sent, delivered, opened (skipping
// is allowed), opened exists for email only, and failed or bounced end the
// lifecycle from any non-terminal status.
func (s DeliveryStatus) CanTransitionTo(next DeliveryStatus, ch Channel) bool {
	if s.Terminal() || !next.Valid() {
		return false
	}
	if next == DeliveryFailed || next == DeliveryBounced {
		return true
	}
	if next == DeliveryOpened && ch != ChannelEmail {
		return false
	}
	return deliveryRank[next] > deliveryRank[s]
}

// Predecessors lists every status that may move to next on ch.
func Predecessors(next DeliveryStatus, ch Channel) []DeliveryStatus {
	var out []DeliveryStatus
	for _, s := range []DeliveryStatus{DeliveryQueued, DeliverySent, DeliveryDelivered} {
		if s.CanTransitionTo(next, ch) {
			out = append(out, s)
		}
	}
	return out
}

type DeliveryRecord struct {
	ID                int64             `json:"id"`
	JobID             string            `json:"job_id"`
	TenantID          string            `json:"tenant_id"`
	Channel           Channel           `json:"channel"`
	Category          Category          `json:"category"`
	RecipientID       string            `json:"recipient_id,omitempty"`
	Address           string            `json:"address"`
	Name              string            `json:"name,omitempty"`
	Variables         map[string]string `json:"-"`
	Subject           string            `json:"subject,omitempty"`
	BodyExcerpt       string            `json:"body_excerpt,omitempty"`
	BodyHash          string            `json:"body_hash,omitempty"`
	ProviderKind      ProviderKind      `json:"provider_kind"`
	ProviderMessageID string            `json:"provider_message_id,omitempty"`
	Status            DeliveryStatus    `json:"status"`
	Attempts          int               `json:"attempts"`
	ErrorDetail       string            `json:"error_detail,omitempty"`
	QueuedAt          time.Time         `json:"queued_at"`
	SentAt            *time.Time        `json:"sent_at,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	OpenedAt          *time.Time        `json:"opened_at,omitempty"`
	FailedAt          *time.Time        `json:"failed_at,omitempty"`
	BouncedAt         *time.Time        `json:"bounced_at,omitempty"`
}

// DeliveryTransition is one status change applied to a record.
type DeliveryTransition struct {
	Status            DeliveryStatus
	At                time.Time
	ProviderMessageID string
	Subject           string
	BodyExcerpt       string
	BodyHash          string
	Attempts          int
	ErrorDetail       string
}

// DeliveryFilter controls delivery log queries.
type DeliveryFilter struct {
	TenantID string
	JobID    *string
	Channel  *Channel
	Category *Category
	Statuses []DeliveryStatus
	From     *time.Time
	To       *time.Time
	Limit    int  // default 50, max 1000
	Offset   int  // for pagination
	Desc     bool // order by queued_at
}

type DeliveryStats struct {
	TenantID      string   `json:"tenant_id"`
	Channel       *Channel `json:"channel,omitempty"`
	Queued        int64    `json:"queued"`
	Sent          int64    `json:"sent"`
	Delivered     int64    `json:"delivered"`
	Opened        int64    `json:"opened"`
	Failed        int64    `json:"failed"`
	Bounced       int64    `json:"bounced"`
	SentToday     int64    `json:"sent_today"`
	SentThisMonth int64    `json:"sent_this_month"`
	DeliveryRate  float64  `json:"delivery_rate"`
	OpenRate      *float64 `json:"open_rate,omitempty"`
}

// StatusEvent is a provider callback. Records are matched by RecordID when
// set, otherwise by ProviderMessageID.
type StatusEvent struct {
	RecordID          int64          `json:"record_id,omitempty"`
	ProviderMessageID string         `json:"provider_message_id,omitempty"`
	Status            DeliveryStatus `json:"status"`
	OccurredAt        *time.Time     `json:"occurred_at,omitempty"`
	Detail            string         `json:"detail,omitempty"`
}
