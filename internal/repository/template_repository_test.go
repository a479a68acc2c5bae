package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewTemplateRepository(setupTestDB(t))

	created, err := repo.Create(ctx, &model.Template{
		TenantID:  "school-1",
		Name:      "Fee reminder",
		Channel:   model.ChannelEmail,
		Category:  model.CategoryFees,
		Subject:   "Fee due for {{student_name}}",
		Body:      "Rs.{{amount}} due {{due_date}}",
		Variables: []string{"student_name", "amount", "due_date"},
		IsActive:  true,
	})
	require.NoError(t, err)
	require.NotZero(t, created.ID)

	t.Run("get keeps variables order", func(t *testing.T) {
		got, err := repo.GetActive(ctx, "school-1", created.ID)
		require.NoError(t, err)
		assert.Equal(t, []string{"student_name", "amount", "due_date"}, got.Variables)
	})

	t.Run("other tenant cannot read", func(t *testing.T) {
		_, err := repo.GetByID(ctx, "school-2", created.ID)
		assert.ErrorIs(t, err, ErrTemplateNotFound)
	})

	t.Run("usage increments survive updates", func(t *testing.T) {
		require.NoError(t, repo.IncrementUsage(ctx, created.ID))
		require.NoError(t, repo.IncrementUsage(ctx, created.ID))

		upd := *created
		upd.Body = "Rs.{{amount}}"
		upd.Variables = []string{"amount"}
		upd.IsActive = false
		got, err := repo.Update(ctx, &upd)
		require.NoError(t, err)

		assert.Equal(t, int64(2), got.UsageCount)
		assert.Equal(t, []string{"amount"}, got.Variables)
		assert.False(t, got.IsActive)

		_, err = repo.GetActive(ctx, "school-1", created.ID)
		assert.ErrorIs(t, err, ErrTemplateInactive)
	})

	t.Run("list by channel", func(t *testing.T) {
		_, err := repo.Create(ctx, &model.Template{
			TenantID: "school-1", Name: "Absent", Channel: model.ChannelSMS,
			Category: model.CategoryAttendance, Body: "{student} absent", Variables: []string{"student"}, IsActive: true,
		})
		require.NoError(t, err)

		sms := model.ChannelSMS
		list, err := repo.List(ctx, "school-1", &sms)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, "Absent", list[0].Name)

		all, err := repo.List(ctx, "school-1", nil)
		require.NoError(t, err)
		assert.Len(t, all, 2)
	})

	t.Run("increment unknown", func(t *testing.T) {
		assert.ErrorIs(t, repo.IncrementUsage(ctx, 9999), ErrTemplateNotFound)
	})
}

func TestProviderConfigRepository_Activate(t *testing.T) {
	ctx := context.Background()
	repo := NewProviderConfigRepository(setupTestDB(t))

	_, err := repo.GetActive(ctx, model.ChannelSMS)
	assert.ErrorIs(t, err, ErrNoActiveProvider)

	twilio, err := repo.Create(ctx, &model.ProviderConfig{Channel: model.ChannelSMS, Kind: model.ProviderTwilio, IsActive: true})
	require.NoError(t, err)
	assert.False(t, twilio.IsActive)

	operator, err := repo.Create(ctx, &model.ProviderConfig{
		Channel: model.ChannelSMS, Kind: model.ProviderOperator, Endpoints: []string{"http://a", "http://b"},
	})
	require.NoError(t, err)
	smtp, err := repo.Create(ctx, &model.ProviderConfig{Channel: model.ChannelEmail, Kind: model.ProviderSMTP})
	require.NoError(t, err)

	require.NoError(t, repo.Activate(ctx, twilio.ID))
	require.NoError(t, repo.Activate(ctx, smtp.ID))
	require.NoError(t, repo.Activate(ctx, operator.ID))

	active, err := repo.GetActive(ctx, model.ChannelSMS)
	require.NoError(t, err)
	assert.Equal(t, operator.ID, active.ID)
	assert.Equal(t, []string{"http://a", "http://b"}, active.Endpoints)

	sms := model.ChannelSMS
	all, err := repo.List(ctx, &sms)
	require.NoError(t, err)
	activeCount := 0
	for _, p := range all {
		if p.IsActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)

	email, err := repo.GetActive(ctx, model.ChannelEmail)
	require.NoError(t, err)
	assert.Equal(t, smtp.ID, email.ID)

	require.NoError(t, repo.Deactivate(ctx, operator.ID))
	_, err = repo.GetActive(ctx, model.ChannelSMS)
	assert.ErrorIs(t, err, ErrNoActiveProvider)

	assert.ErrorIs(t, repo.Activate(ctx, 404), ErrProviderConfigNotFound)
}
