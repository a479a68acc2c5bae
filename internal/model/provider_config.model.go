package model

import (
	"errors"
	"fmt"
	"time"
)

type ProviderKind string

const (
	ProviderNone     ProviderKind = "none"
	ProviderSMTP     ProviderKind = "smtp"
	ProviderSendGrid ProviderKind = "sendgrid"
	ProviderMailgun  ProviderKind = "mailgun"
	ProviderPostmark ProviderKind = "postmark"
	ProviderSES      ProviderKind = "ses"
	ProviderTwilio   ProviderKind = "twilio"
	ProviderSNS      ProviderKind = "sns"
	ProviderOperator ProviderKind = "operator"
	ProviderCustom   ProviderKind = "custom"
)

var providerChannels = map[ProviderKind][]Channel{
	ProviderNone:     {ChannelEmail, ChannelSMS},
	ProviderSMTP:     {ChannelEmail},
	ProviderSendGrid: {ChannelEmail},
	ProviderMailgun:  {ChannelEmail},
	ProviderPostmark: {ChannelEmail},
	ProviderSES:      {ChannelEmail},
	ProviderTwilio:   {ChannelSMS},
	ProviderSNS:      {ChannelSMS},
	ProviderOperator: {ChannelSMS},
	ProviderCustom:   {ChannelSMS},
}

// Supports reports whether kind can deliver on channel.
func (k ProviderKind) Supports(ch Channel) bool {
	for _, c := range providerChannels[k] {
		if c == ch {
			return true
		}
	}
	return false
}

// ProviderConfig is platform wide. Exactly one row per channel is active.
// A snapshot of the active row is copied onto every job so later edits do not
// affect running batches or history.
type ProviderConfig struct {
	ID       int64        `json:"id"`
	Channel  Channel      `json:"channel"`
	Kind     ProviderKind `json:"kind"`
	Name     string       `json:"name"`
	IsActive bool         `json:"is_active"`

	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	UseTLS   bool   `json:"use_tls,omitempty"`

	APIKey    string `json:"api_key,omitempty"`
	APISecret string `json:"api_secret,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Domain    string `json:"domain,omitempty"`
	Region    string `json:"region,omitempty"`
	BaseURL   string `json:"base_url,omitempty"`

	// Endpoints lists the carrier gateways for the operator kind.
	Endpoints []string `json:"endpoints,omitempty"`

	FromAddress string `json:"from_address,omitempty"`
	FromName    string `json:"from_name,omitempty"`
	SenderID    string `json:"sender_id,omitempty"`

	DailyLimit     int64   `json:"daily_limit"`
	MonthlyLimit   int64   `json:"monthly_limit"`
	RatePerSecond  float64 `json:"rate_per_second"`
	CostPerMessage float64 `json:"cost_per_message"`
	TimeoutSeconds int     `json:"timeout_seconds"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (c *ProviderConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Validate checks that the credentials required by the kind are present.
// It does not contact the provider.
func (c *ProviderConfig) Validate() error {
	if !c.Channel.Valid() {
		return errors.New("channel must be email or sms")
	}
	if _, ok := providerChannels[c.Kind]; !ok {
		return fmt.Errorf("unknown provider kind %q", c.Kind)
	}
	if !c.Kind.Supports(c.Channel) {
		return fmt.Errorf("provider %s cannot send %s", c.Kind, c.Channel)
	}

	required := map[string]string{}
	switch c.Kind {
	case ProviderSMTP:
		required["host"] = c.Host
		required["from_address"] = c.FromAddress
		if c.Port == 0 {
			return errors.New("port is required")
		}
	case ProviderSendGrid, ProviderPostmark:
		required["api_key"] = c.APIKey
		required["from_address"] = c.FromAddress
	case ProviderMailgun:
		required["api_key"] = c.APIKey
		required["domain"] = c.Domain
		required["from_address"] = c.FromAddress
	case ProviderSES:
		required["region"] = c.Region
		required["from_address"] = c.FromAddress
	case ProviderTwilio:
		required["account_id"] = c.AccountID
		required["api_secret"] = c.APISecret
		required["sender_id"] = c.SenderID
	case ProviderSNS:
		required["region"] = c.Region
	case ProviderOperator:
		if len(c.Endpoints) == 0 {
			return errors.New("endpoints are required")
		}
		required["sender_id"] = c.SenderID
	case ProviderCustom:
		required["base_url"] = c.BaseURL
	}
	for _, field := range []string{"host", "api_key", "account_id", "api_secret", "domain", "region", "base_url", "from_address", "sender_id"} {
		if v, ok := required[field]; ok && v == "" {
			return fmt.Errorf("%s is required for %s", field, c.Kind)
		}
	}
	if c.DailyLimit < 0 || c.MonthlyLimit < 0 || c.RatePerSecond < 0 {
		return errors.New("limits must not be negative")
	}
	return nil
}

// TestSendRequest is an admin "test connection": one message through the
// given config, outside any tenant quota.
type TestSendRequest struct {
	Provider ProviderConfig `json:"provider"`
	To       string         `json:"to"`
	Subject  string         `json:"subject,omitempty"`
	Body     string         `json:"body,omitempty"`
}
