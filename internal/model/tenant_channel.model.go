package model

import "time"

// TenantChannelConfig is owned by the settings subsystem; the dispatch core
// only reserves against it.
type TenantChannelConfig struct {
	ID            int64       `json:"id"`
	TenantID      string      `json:"tenant_id"`
	Channel       Channel     `json:"channel"`
	Enabled       bool        `json:"enabled"`
	MonthlyLimit  int64       `json:"monthly_limit"`
	Permissions   Permissions `json:"permissions"`
	UsedThisMonth int64       `json:"used_this_month"`
	UsagePeriod   string      `json:"usage_period"`
	LastSentAt    *time.Time  `json:"last_sent_at,omitempty"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// UsagePeriod formats the billing month t falls in.
func UsagePeriod(t time.Time) string {
	return t.Format("2006-01")
}

// Remaining is the headroom for period; a stale period counts as unused.
func (c *TenantChannelConfig) Remaining(period string) int64 {
	used := c.UsedThisMonth
	if c.UsagePeriod != period {
		used = 0
	}
	if left := c.MonthlyLimit - used; left > 0 {
		return left
	}
	return 0
}
