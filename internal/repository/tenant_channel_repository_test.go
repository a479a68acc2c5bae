package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var feb = time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

func seedTenantChannel(t *testing.T, repo *TenantChannelRepository, cfg *model.TenantChannelConfig) {
	t.Helper()
	_, err := repo.Upsert(context.Background(), cfg)
	require.NoError(t, err)
}

func TestTenantChannelRepository_Reserve(t *testing.T) {
	ctx := context.Background()

	t.Run("increments within limit", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		seedTenantChannel(t, repo, &model.TenantChannelConfig{
			TenantID: "school-1", Channel: model.ChannelSMS, Enabled: true,
			MonthlyLimit: 100, Permissions: model.AllPermissions, UsagePeriod: "2026-02",
		})

		require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 40, "2026-02", feb))
		require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 60, "2026-02", feb))

		cfg, err := repo.Get(ctx, "school-1", model.ChannelSMS)
		require.NoError(t, err)
		assert.Equal(t, int64(100), cfg.UsedThisMonth)
		require.NotNil(t, cfg.LastSentAt)
	})

	t.Run("rejects over limit and leaves counter unchanged", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		seedTenantChannel(t, repo, &model.TenantChannelConfig{
			TenantID: "school-1", Channel: model.ChannelSMS, Enabled: true,
			MonthlyLimit: 100, Permissions: model.AllPermissions, UsagePeriod: "2026-02",
		})
		require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 98, "2026-02", feb))

		err := repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 5, "2026-02", feb)
		assert.ErrorIs(t, err, ErrQuotaExceeded)

		cfg, err := repo.Get(ctx, "school-1", model.ChannelSMS)
		require.NoError(t, err)
		assert.Equal(t, int64(98), cfg.UsedThisMonth)
	})

	t.Run("category forbidden regardless of headroom", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		seedTenantChannel(t, repo, &model.TenantChannelConfig{
			TenantID: "school-1", Channel: model.ChannelEmail, Enabled: true,
			MonthlyLimit: 1000, Permissions: model.AllPermissions.Without(model.CategoryExams),
		})

		err := repo.Reserve(ctx, "school-1", model.ChannelEmail, model.CategoryExams, 1, "2026-02", feb)
		assert.ErrorIs(t, err, ErrCategoryForbidden)
	})

	t.Run("disabled channel", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		seedTenantChannel(t, repo, &model.TenantChannelConfig{
			TenantID: "school-1", Channel: model.ChannelEmail, Enabled: false,
			MonthlyLimit: 1000, Permissions: model.AllPermissions,
		})

		err := repo.Reserve(ctx, "school-1", model.ChannelEmail, model.CategoryGeneral, 1, "2026-02", feb)
		assert.ErrorIs(t, err, ErrChannelDisabled)
	})

	t.Run("missing config", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		err := repo.Reserve(ctx, "nobody", model.ChannelEmail, model.CategoryGeneral, 1, "2026-02", feb)
		assert.ErrorIs(t, err, ErrChannelConfigNotFound)
	})

	t.Run("new period resets usage", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		seedTenantChannel(t, repo, &model.TenantChannelConfig{
			TenantID: "school-1", Channel: model.ChannelSMS, Enabled: true,
			MonthlyLimit: 10, Permissions: model.AllPermissions, UsagePeriod: "2026-01",
		})
		require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 10, "2026-01", feb))

		require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 3, "2026-02", feb))

		cfg, err := repo.Get(ctx, "school-1", model.ChannelSMS)
		require.NoError(t, err)
		assert.Equal(t, int64(3), cfg.UsedThisMonth)
		assert.Equal(t, "2026-02", cfg.UsagePeriod)
	})

	t.Run("non positive count", func(t *testing.T) {
		repo := NewTenantChannelRepository(setupTestDB(t))
		assert.ErrorIs(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 0, "2026-02", feb), ErrInvalidCount)
	})
}

func TestTenantChannelRepository_ReserveConcurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewTenantChannelRepository(setupTestDB(t))
	seedTenantChannel(t, repo, &model.TenantChannelConfig{
		TenantID: "school-1", Channel: model.ChannelSMS, Enabled: true,
		MonthlyLimit: 50, Permissions: model.AllPermissions, UsagePeriod: "2026-02",
	})

	const goroutines = 20
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 5, "2026-02", feb)
			if err == nil {
				mu.Lock()
				allowed++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrQuotaExceeded) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, allowed)
	cfg, err := repo.Get(ctx, "school-1", model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, int64(50), cfg.UsedThisMonth)
}

func TestTenantChannelRepository_Release(t *testing.T) {
	ctx := context.Background()
	repo := NewTenantChannelRepository(setupTestDB(t))
	seedTenantChannel(t, repo, &model.TenantChannelConfig{
		TenantID: "school-1", Channel: model.ChannelSMS, Enabled: true,
		MonthlyLimit: 50, Permissions: model.AllPermissions, UsagePeriod: "2026-02",
	})
	require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelSMS, model.CategoryFees, 8, "2026-02", feb))

	require.NoError(t, repo.Release(ctx, "school-1", model.ChannelSMS, 8, "2026-02"))
	require.NoError(t, repo.Release(ctx, "school-1", model.ChannelSMS, 8, "2026-02"))

	cfg, err := repo.Get(ctx, "school-1", model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, int64(0), cfg.UsedThisMonth)
}

func TestTenantChannelRepository_UpsertKeepsUsage(t *testing.T) {
	ctx := context.Background()
	repo := NewTenantChannelRepository(setupTestDB(t))
	seedTenantChannel(t, repo, &model.TenantChannelConfig{
		TenantID: "school-1", Channel: model.ChannelEmail, Enabled: true,
		MonthlyLimit: 50, Permissions: model.AllPermissions, UsagePeriod: "2026-02",
	})
	require.NoError(t, repo.Reserve(ctx, "school-1", model.ChannelEmail, model.CategoryEvents, 7, "2026-02", feb))

	updated, err := repo.Upsert(ctx, &model.TenantChannelConfig{
		TenantID: "school-1", Channel: model.ChannelEmail, Enabled: false,
		MonthlyLimit: 500, Permissions: model.NewPermissions(model.CategoryEmergency),
	})
	require.NoError(t, err)
	assert.False(t, updated.Enabled)
	assert.Equal(t, int64(500), updated.MonthlyLimit)
	assert.Equal(t, int64(7), updated.UsedThisMonth)
	assert.True(t, updated.Permissions.Has(model.CategoryEmergency))
	assert.False(t, updated.Permissions.Has(model.CategoryEvents))
}
