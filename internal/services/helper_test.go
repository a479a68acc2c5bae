package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/internal/repository/repotest"
	"github.com/nimasrn/school-notify/pkg/redis"
)

var testNow = time.Date(2026, 2, 3, 9, 30, 0, 0, time.UTC)

const tenant = "school-1"

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishJSON(ctx context.Context, data interface{}, metadata map[string]string) (string, error) {
	args := m.Called(ctx, data, metadata)
	return args.String(0), args.Error(1)
}

// fakeProvider answers per address: addresses in fail always return that
// error, addresses in flaky time out that many times before succeeding.
type fakeProvider struct {
	channel model.Channel
	fail    map[string]error
	flaky   map[string]int
	onSend  func(msg *providers.Message)

	mu     sync.Mutex
	calls  map[string]int
	sent   []*providers.Message
	closed bool
}

func newFakeProvider(ch model.Channel) *fakeProvider {
	return &fakeProvider{
		channel: ch,
		fail:    map[string]error{},
		flaky:   map[string]int{},
		calls:   map[string]int{},
	}
}

func (p *fakeProvider) Kind() model.ProviderKind { return model.ProviderCustom }
func (p *fakeProvider) Channel() model.Channel   { return p.channel }

func (p *fakeProvider) Send(_ context.Context, msg *providers.Message) (*providers.Result, error) {
	p.mu.Lock()
	p.calls[msg.To]++
	n := p.calls[msg.To]
	p.sent = append(p.sent, msg)
	p.mu.Unlock()

	if p.onSend != nil {
		p.onSend(msg)
	}
	if err, ok := p.fail[msg.To]; ok {
		return nil, err
	}
	if n <= p.flaky[msg.To] {
		return nil, providers.ErrTimeout
	}
	return &providers.Result{ProviderMessageID: fmt.Sprintf("pm-%d", msg.RecordID), Status: model.DeliverySent}, nil
}

func (p *fakeProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

func (p *fakeProvider) callsTo(addr string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[addr]
}

func (p *fakeProvider) messages() []*providers.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*providers.Message(nil), p.sent...)
}

type fixture struct {
	mr        *miniredis.Miniredis
	flags     redis.RedisAdapter
	tenants   *repository.TenantChannelRepository
	configs   *repository.ProviderConfigRepository
	templates *repository.TemplateRepository
	jobs      *repository.DispatchJobRepository
	records   *repository.DeliveryRecordRepository
	publisher *mockPublisher
	provider  *fakeProvider
	calendar  Calendar
	ledger    *Ledger
	dispatch  *DispatchService
	log       *DeliveryLogService
}

func newFixture(t *testing.T, ch model.Channel) *fixture {
	t.Helper()

	db := repotest.NewDB(t)
	mr := miniredis.RunT(t)
	flags, err := redis.NewRedisAdapter(t.Name()+"-"+mr.Addr(), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	f := &fixture{
		mr:        mr,
		flags:     flags,
		tenants:   repository.NewTenantChannelRepository(db),
		configs:   repository.NewProviderConfigRepository(db),
		templates: repository.NewTemplateRepository(db),
		jobs:      repository.NewDispatchJobRepository(db),
		records:   repository.NewDeliveryRecordRepository(db),
		publisher: new(mockPublisher),
		provider:  newFakeProvider(ch),
		calendar:  Calendar{Location: time.UTC, Now: func() time.Time { return testNow }},
	}
	f.ledger = NewLedger(f.tenants, f.configs, flags, f.calendar)
	f.dispatch = NewDispatchService(DispatchDeps{
		Jobs:      f.jobs,
		Records:   f.records,
		Templates: f.templates,
		Ledger:    f.ledger,
		Queue:     f.publisher,
		Flags:     flags,
		Providers: func(context.Context, *model.ProviderConfig) (providers.Provider, error) {
			return f.provider, nil
		},
		Calendar: f.calendar,
	}, DispatchConfig{
		Workers:     3,
		MaxAttempts: 3,
		BackoffBase: time.Millisecond,
		BackoffMax:  5 * time.Millisecond,
	})
	f.log = NewDeliveryLogService(f.records, f.calendar)
	return f
}

func (f *fixture) seedTenant(t *testing.T, ch model.Channel, limit, used int64, perms model.Permissions) {
	t.Helper()
	_, err := f.tenants.Upsert(context.Background(), &model.TenantChannelConfig{
		TenantID:      tenant,
		Channel:       ch,
		Enabled:       true,
		MonthlyLimit:  limit,
		Permissions:   perms,
		UsedThisMonth: used,
		UsagePeriod:   f.calendar.Period(testNow),
	})
	require.NoError(t, err)
}

func (f *fixture) usedThisMonth(t *testing.T, ch model.Channel) int64 {
	t.Helper()
	cfg, err := f.tenants.Get(context.Background(), tenant, ch)
	require.NoError(t, err)
	return cfg.UsedThisMonth
}

func (f *fixture) seedProvider(t *testing.T, cfg *model.ProviderConfig) *model.ProviderConfig {
	t.Helper()
	ctx := context.Background()
	created, err := f.configs.Create(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, f.configs.Activate(ctx, created.ID))
	created.IsActive = true
	return created
}

func smsProvider() *model.ProviderConfig {
	return &model.ProviderConfig{
		Channel:        model.ChannelSMS,
		Kind:           model.ProviderTwilio,
		Name:           "twilio",
		AccountID:      "AC123",
		APISecret:      "secret",
		SenderID:       "+15550001111",
		CostPerMessage: 0.05,
		TimeoutSeconds: 2,
	}
}

func emailProvider() *model.ProviderConfig {
	return &model.ProviderConfig{
		Channel:        model.ChannelEmail,
		Kind:           model.ProviderSMTP,
		Name:           "smtp",
		Host:           "smtp.school.test",
		Port:           587,
		FromAddress:    "office@school.test",
		CostPerMessage: 0.001,
	}
}

func phones(n int) []model.Recipient {
	out := make([]model.Recipient, n)
	for i := range out {
		out[i] = model.Recipient{
			ID:        fmt.Sprintf("parent-%d", i),
			Address:   fmt.Sprintf("+98912000%04d", i),
			Name:      fmt.Sprintf("Parent %d", i),
			Variables: map[string]string{"student": fmt.Sprintf("Student %d", i)},
		}
	}
	return out
}

// expectPublish accepts any number of job publications.
func (f *fixture) expectPublish() {
	f.publisher.On("PublishJSON", mock.Anything, mock.AnythingOfType("services.JobMessage"), mock.Anything).
		Return("1-0", nil)
}

var errPermanentAuth = providers.Permanent("auth", "authentication failed")
