package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/redis"
)

const (
	providerDayTTL   = 48 * time.Hour
	providerMonthTTL = 32 * 24 * time.Hour
)

type TenantChannelRepository interface {
	Reserve(ctx context.Context, tenantID string, channel model.Channel, category model.Category, count int64, period string, at time.Time) error
	Release(ctx context.Context, tenantID string, channel model.Channel, count int64, period string) error
}

type ProviderConfigRepository interface {
	GetActive(ctx context.Context, channel model.Channel) (*model.ProviderConfig, error)
}

// Reservation is a granted quota hold. Provider is the active provider
// config at reservation time; jobs keep it as their snapshot.
type Reservation struct {
	TenantID string
	Channel  model.Channel
	Category model.Category
	Count    int64
	Period   string
	Provider *model.ProviderConfig

	providerKeys []string
}

// Ledger authorizes sends against tenant quotas and category permissions,
// and against the platform provider's own daily and monthly limits.
type Ledger struct {
	tenants   TenantChannelRepository
	providers ProviderConfigRepository
	counters  redis.RedisAdapter
	calendar  Calendar
}

// NewLedger builds a ledger. counters may be nil, in which case provider
// limits are not enforced.
func NewLedger(tenants TenantChannelRepository, providers ProviderConfigRepository, counters redis.RedisAdapter, calendar Calendar) *Ledger {
	return &Ledger{
		tenants:   tenants,
		providers: providers,
		counters:  counters,
		calendar:  calendar,
	}
}

// Reserve checks, in order, that a provider is active for the channel, that
// the tenant channel is enabled, that the category is permitted and that the
// monthly quota has room for count more messages. On success the tenant
// counter has already been incremented.
func (l *Ledger) Reserve(ctx context.Context, tenantID string, ch model.Channel, category model.Category, count int64) (*Reservation, error) {
	provider, err := l.providers.GetActive(ctx, ch)
	if err != nil {
		if errors.Is(err, repository.ErrNoActiveProvider) {
			return nil, deny(ReasonProviderInactive, "no active %s provider", ch)
		}
		return nil, fmt.Errorf("load provider config: %w", err)
	}
	if provider.Kind == model.ProviderNone {
		return nil, deny(ReasonProviderInactive, "%s provider is not configured", ch)
	}

	now := l.calendar.NowUTC()
	period := l.calendar.Period(now)
	err = l.tenants.Reserve(ctx, tenantID, ch, category, count, period, now)
	switch {
	case err == nil:
	case errors.Is(err, repository.ErrChannelConfigNotFound), errors.Is(err, repository.ErrChannelDisabled):
		return nil, deny(ReasonChannelDisabled, "%s is disabled for tenant %s", ch, tenantID)
	case errors.Is(err, repository.ErrCategoryForbidden):
		return nil, deny(ReasonCategoryForbidden, "%s messages are not permitted", category)
	case errors.Is(err, repository.ErrQuotaExceeded):
		return nil, deny(ReasonQuotaExceeded, "%d messages exceed the monthly %s quota", count, ch)
	default:
		return nil, fmt.Errorf("reserve quota: %w", err)
	}

	res := &Reservation{
		TenantID: tenantID,
		Channel:  ch,
		Category: category,
		Count:    count,
		Period:   period,
		Provider: provider,
	}
	if err := l.reserveProvider(ctx, res, now); err != nil {
		if relErr := l.tenants.Release(ctx, tenantID, ch, count, period); relErr != nil {
			logger.Error("[ledger] release after provider denial failed", "tenant_id", tenantID, "channel", ch, "error", relErr)
		}
		return nil, err
	}
	return res, nil
}

// reserveProvider counts the reservation against the provider's daily and
// monthly limits. A limit of zero means unlimited.
func (l *Ledger) reserveProvider(ctx context.Context, res *Reservation, now time.Time) error {
	if l.counters == nil {
		return nil
	}
	p := res.Provider
	limits := []struct {
		key   string
		limit int64
		ttl   time.Duration
		label string
	}{
		{fmt.Sprintf("provider:%s:daily:%s", res.Channel, l.calendar.Day(now)), p.DailyLimit, providerDayTTL, "daily"},
		{fmt.Sprintf("provider:%s:monthly:%s", res.Channel, res.Period), p.MonthlyLimit, providerMonthTTL, "monthly"},
	}
	for _, lim := range limits {
		if lim.limit <= 0 {
			continue
		}
		total, err := l.counters.IncrBy(ctx, lim.key, res.Count, lim.ttl)
		if err != nil {
			l.refund(ctx, res)
			return fmt.Errorf("count provider usage: %w", err)
		}
		res.providerKeys = append(res.providerKeys, lim.key)
		if total > lim.limit {
			l.refund(ctx, res)
			return deny(ReasonProviderLimitExceeded, "%s provider %s limit of %d reached", res.Channel, lim.label, lim.limit)
		}
	}
	return nil
}

func (l *Ledger) refund(ctx context.Context, res *Reservation) {
	for _, key := range res.providerKeys {
		if _, err := l.counters.DecrBy(ctx, key, res.Count); err != nil {
			logger.Error("[ledger] provider counter refund failed", "key", key, "error", err)
		}
	}
	res.providerKeys = nil
}

// Release hands a reservation back. It is only meant for jobs that could
// not be persisted; once a send was attempted the quota stays consumed.
func (l *Ledger) Release(ctx context.Context, res *Reservation) error {
	if res == nil {
		return nil
	}
	if l.counters != nil {
		l.refund(ctx, res)
	}
	return l.tenants.Release(ctx, res.TenantID, res.Channel, res.Count, res.Period)
}
