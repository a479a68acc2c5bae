package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimasrn/school-notify/internal/audience"
	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
)

func smsJob(recipients []model.Recipient) model.SubmitJobRequest {
	return model.SubmitJobRequest{
		TenantID:   tenant,
		Channel:    model.ChannelSMS,
		Category:   model.CategoryFees,
		Body:       "Dear {recipient_name}, fee for {student} is Rs.{amount}",
		Variables:  map[string]string{"amount": "5000"},
		Recipients: recipients,
	}
}

func statusCounts(st *model.JobStatus) map[model.DeliveryStatus]int {
	out := map[model.DeliveryStatus]int{}
	for _, r := range st.Recipients {
		out[r.Status]++
	}
	return out
}

func TestDispatchService_Submit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	recipients := phones(3)
	recipients = append(recipients, model.Recipient{Address: " +98 912 000 0001 ", Name: "Duplicate"})

	job, err := f.dispatch.Submit(ctx, smsJob(recipients))
	require.NoError(t, err)
	assert.Equal(t, model.JobStateSending, job.State)
	assert.Equal(t, 3, job.TotalRecipients)
	assert.Equal(t, model.ProviderTwilio, job.ProviderKind)
	assert.InDelta(t, 0.15, job.EstimatedCost, 1e-9)
	assert.Equal(t, int64(3), f.usedThisMonth(t, model.ChannelSMS))

	f.publisher.AssertCalled(t, "PublishJSON", mock.Anything, JobMessage{JobID: job.ID, TenantID: tenant}, mock.Anything)

	stored, err := f.jobs.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.ProviderSnapshot)
	assert.Equal(t, "+15550001111", stored.ProviderSnapshot.SenderID)

	records, err := f.records.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, records, 3)
	for _, r := range records {
		assert.Equal(t, model.DeliveryQueued, r.Status)
		assert.Equal(t, model.ProviderTwilio, r.ProviderKind)
	}
}

func TestDispatchService_SubmitRejected(t *testing.T) {
	ctx := context.Background()

	t.Run("quota exceeded", func(t *testing.T) {
		f := newFixture(t, model.ChannelSMS)
		f.seedProvider(t, smsProvider())
		f.seedTenant(t, model.ChannelSMS, 100, 98, model.AllPermissions)

		job, err := f.dispatch.Submit(ctx, smsJob(phones(5)))
		requireDenial(t, err, ReasonQuotaExceeded)
		require.NotNil(t, job)
		assert.Equal(t, model.JobStateRejected, job.State)
		assert.Equal(t, string(ReasonQuotaExceeded), job.Reason)
		assert.Equal(t, int64(98), f.usedThisMonth(t, model.ChannelSMS))

		records, err := f.records.ListByJob(ctx, job.ID)
		require.NoError(t, err)
		assert.Empty(t, records)
		f.publisher.AssertNotCalled(t, "PublishJSON", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("category forbidden", func(t *testing.T) {
		f := newFixture(t, model.ChannelSMS)
		f.seedProvider(t, smsProvider())
		f.seedTenant(t, model.ChannelSMS, 1000, 0, model.AllPermissions.Without(model.CategoryExams))

		req := smsJob(phones(2))
		req.Category = model.CategoryExams
		job, err := f.dispatch.Submit(ctx, req)
		requireDenial(t, err, ReasonCategoryForbidden)
		require.NotNil(t, job)
		assert.Equal(t, model.JobStateRejected, job.State)
	})

	t.Run("no provider leaves no job", func(t *testing.T) {
		f := newFixture(t, model.ChannelSMS)
		f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)

		job, err := f.dispatch.Submit(ctx, smsJob(phones(2)))
		assert.Nil(t, job)
		assert.True(t, IsConfigurationError(err))

		_, total, err := f.dispatch.ListJobs(ctx, tenant, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
	})

	t.Run("invalid request", func(t *testing.T) {
		f := newFixture(t, model.ChannelSMS)
		req := smsJob(nil)
		_, err := f.dispatch.Submit(ctx, req)
		assert.ErrorIs(t, err, ErrInvalidRequest)
	})

	t.Run("recipients normalize to nothing", func(t *testing.T) {
		f := newFixture(t, model.ChannelSMS)
		f.seedProvider(t, smsProvider())
		f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)

		_, err := f.dispatch.Submit(ctx, smsJob([]model.Recipient{{Address: "n/a"}}))
		assert.ErrorIs(t, err, audience.ErrNoRecipients)
		assert.Equal(t, int64(0), f.usedThisMonth(t, model.ChannelSMS))
	})
}

func TestDispatchService_SubmitPublishFailureReleasesQuota(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.publisher.On("PublishJSON", mock.Anything, mock.Anything, mock.Anything).Return("", errors.New("redis down"))

	job, err := f.dispatch.Submit(ctx, smsJob(phones(4)))
	require.Error(t, err)
	assert.Nil(t, job)
	assert.Equal(t, int64(0), f.usedThisMonth(t, model.ChannelSMS))

	_, total, err := f.dispatch.ListJobs(ctx, tenant, 10, 0)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestDispatchService_SubmitWithAudienceAndTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelEmail)
	f.seedProvider(t, emailProvider())
	f.seedTenant(t, model.ChannelEmail, 100, 0, model.AllPermissions)
	f.expectPublish()

	f.dispatch.audience = audience.NewStatic(map[string][]audience.Member{
		tenant: {
			{ID: "p1", Name: "Sara", Email: "sara@example.com", Role: "parent", ClassID: "7-B",
				Variables: map[string]string{"student_name": "Ali"}},
			{ID: "p2", Name: "Reza", Email: "reza@example.com", Role: "parent", ClassID: "8-A"},
			{ID: "t1", Name: "Ms. K", Email: "k@example.com", Role: "teacher", ClassID: "7-B"},
		},
	})

	tpl, err := NewTemplateService(f.templates, f.calendar).Save(ctx, model.TemplateSaveRequest{
		TenantID: tenant,
		Name:     "fee reminder",
		Channel:  model.ChannelEmail,
		Category: model.CategoryFees,
		Subject:  "Fee reminder for {{student_name}}",
		Body:     "Hi {{student_name}}, fee Rs.{{amount}} due {{due_date}}",
		IsActive: true,
	})
	require.NoError(t, err)

	job, err := f.dispatch.Submit(ctx, model.SubmitJobRequest{
		TenantID:   tenant,
		Channel:    model.ChannelEmail,
		Category:   model.CategoryFees,
		TemplateID: &tpl.ID,
		Variables:  map[string]string{"amount": "5000", "due_date": "2026-02-05"},
		Audience:   &model.AudienceFilter{Role: "parent", ClassIDs: []string{"7-B"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, job.TotalRecipients)
	assert.Equal(t, tpl.Body, job.Body)

	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	msgs := f.provider.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "sara@example.com", msgs[0].To)
	assert.Equal(t, "Fee reminder for Ali", msgs[0].Subject)
	assert.Equal(t, "Hi Ali, fee Rs.5000 due 2026-02-05", msgs[0].Body)

	used, err := f.templates.GetByID(ctx, tenant, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), used.UsageCount)
}

func TestDispatchService_SubmitInactiveTemplate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)

	tpl, err := f.templates.Create(ctx, &model.Template{
		TenantID: tenant, Name: "old", Channel: model.ChannelSMS, Category: model.CategoryGeneral,
		Body: "Hello {name}", IsActive: false, CreatedAt: testNow, UpdatedAt: testNow,
	})
	require.NoError(t, err)

	req := smsJob(phones(1))
	req.Body = ""
	req.TemplateID = &tpl.ID
	_, err = f.dispatch.Submit(ctx, req)
	assert.ErrorIs(t, err, ErrTemplateUnavailable)
}

func TestDispatchService_ExecuteCompleted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	job, err := f.dispatch.Submit(ctx, smsJob(phones(4)))
	require.NoError(t, err)
	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, st.Job.State)
	assert.Equal(t, 4, st.Job.SentCount)
	assert.Zero(t, st.Job.FailedCount)
	assert.Equal(t, map[model.DeliveryStatus]int{model.DeliverySent: 4}, statusCounts(st))
	assert.True(t, f.provider.closed)

	records, err := f.records.ListByJob(ctx, job.ID)
	require.NoError(t, err)
	for _, r := range records {
		assert.Equal(t, 1, r.Attempts)
		assert.NotEmpty(t, r.ProviderMessageID)
		assert.Len(t, r.BodyHash, 64)
		assert.Contains(t, r.BodyExcerpt, "Rs.5000")
		require.NotNil(t, r.SentAt)
	}

	var bodies []string
	for _, m := range f.provider.messages() {
		bodies = append(bodies, m.Body)
	}
	assert.Contains(t, bodies, "Dear Parent 2, fee for Student 2 is Rs.5000")

	again, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, st, again)

	require.NoError(t, f.dispatch.Execute(ctx, job.ID))
	assert.Len(t, f.provider.messages(), 4)
}

func TestDispatchService_ExecutePartialFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	recipients := phones(10)
	f.provider.fail[recipients[3].Address] = providers.Permanent("invalid_recipient", "invalid recipient")
	f.provider.fail[recipients[7].Address] = providers.Permanent("invalid_recipient", "invalid recipient")

	job, err := f.dispatch.Submit(ctx, smsJob(recipients))
	require.NoError(t, err)
	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePartiallyFailed, st.Job.State)
	assert.Equal(t, 8, st.Job.SentCount)
	assert.Equal(t, 2, st.Job.FailedCount)
	assert.Equal(t, map[model.DeliveryStatus]int{model.DeliverySent: 8, model.DeliveryFailed: 2}, statusCounts(st))

	assert.Equal(t, 1, f.provider.callsTo(recipients[3].Address), "permanent errors are not retried")
	for _, r := range st.Recipients {
		if r.Status == model.DeliveryFailed {
			assert.Equal(t, "invalid recipient", r.ErrorDetail)
		}
	}
	assert.Equal(t, int64(10), f.usedThisMonth(t, model.ChannelSMS))
}

func TestDispatchService_ExecuteAllFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	recipients := phones(2)
	for _, r := range recipients {
		f.provider.fail[r.Address] = providers.Permanent("auth", "authentication failed")
	}

	job, err := f.dispatch.Submit(ctx, smsJob(recipients))
	require.NoError(t, err)
	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePartiallyFailed, st.Job.State)
	assert.Equal(t, 2, st.Job.FailedCount)
}

func TestDispatchService_ExecuteRetries(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	recipients := phones(3)
	f.provider.flaky[recipients[0].Address] = 1
	f.provider.flaky[recipients[1].Address] = 10
	f.provider.fail[recipients[2].Address] = errors.New("connection reset")

	job, err := f.dispatch.Submit(ctx, smsJob(recipients))
	require.NoError(t, err)
	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	byAddr := map[string]*model.RecipientStatus{}
	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	for _, r := range st.Recipients {
		byAddr[r.Address] = r
	}

	recovered := byAddr[recipients[0].Address]
	assert.Equal(t, model.DeliverySent, recovered.Status)
	assert.Equal(t, 2, recovered.Attempts)

	timedOut := byAddr[recipients[1].Address]
	assert.Equal(t, model.DeliveryFailed, timedOut.Status)
	assert.Equal(t, "timeout", timedOut.ErrorDetail)
	assert.Equal(t, 3, timedOut.Attempts)
	assert.Equal(t, 3, f.provider.callsTo(recipients[1].Address))

	unknown := byAddr[recipients[2].Address]
	assert.Equal(t, model.DeliveryFailed, unknown.Status)
	assert.Equal(t, "connection reset", unknown.ErrorDetail)
	assert.Equal(t, 3, unknown.Attempts)

	assert.Equal(t, model.JobStatePartiallyFailed, st.Job.State)
}

func TestDispatchService_Cancel(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()
	f.dispatch.cfg.Workers = 1

	job, err := f.dispatch.Submit(ctx, smsJob(phones(5)))
	require.NoError(t, err)

	f.provider.onSend = func(*providers.Message) {
		assert.NoError(t, f.dispatch.Cancel(ctx, job.ID))
	}
	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCancelled, st.Job.State)
	assert.Equal(t, "cancelled", st.Job.Reason)
	assert.Len(t, f.provider.messages(), 1, "the send in flight completes, nothing after it starts")
	assert.Equal(t, map[model.DeliveryStatus]int{model.DeliverySent: 1, model.DeliveryFailed: 4}, statusCounts(st))
	for _, r := range st.Recipients {
		if r.Status == model.DeliveryFailed {
			assert.Equal(t, "cancelled", r.ErrorDetail)
		}
	}

	assert.ErrorIs(t, f.dispatch.Cancel(ctx, job.ID), ErrJobFinished)
	assert.ErrorIs(t, f.dispatch.Cancel(ctx, "missing"), ErrJobNotFound)
}

func TestDispatchService_ExecuteProviderBuildFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	job, err := f.dispatch.Submit(ctx, smsJob(phones(2)))
	require.NoError(t, err)

	f.dispatch.providers = func(context.Context, *model.ProviderConfig) (providers.Provider, error) {
		return nil, errors.New("bad credentials")
	}
	require.NoError(t, f.dispatch.Execute(ctx, job.ID))

	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePartiallyFailed, st.Job.State)
	assert.Contains(t, st.Job.Reason, "bad credentials")
	assert.Equal(t, map[model.DeliveryStatus]int{model.DeliveryFailed: 2}, statusCounts(st))
}

func TestDispatchService_Abandon(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()

	job, err := f.dispatch.Submit(ctx, smsJob(phones(3)))
	require.NoError(t, err)

	require.NoError(t, f.dispatch.Abandon(ctx, job.ID, "retries exhausted"))
	assert.Empty(t, f.provider.messages())

	st, err := f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePartiallyFailed, st.Job.State)
	assert.Equal(t, "retries exhausted", st.Job.Reason)
	assert.Equal(t, 3, st.Job.FailedCount)

	// finished jobs are left alone
	require.NoError(t, f.dispatch.Abandon(ctx, job.ID, "again"))
	st, err = f.dispatch.GetJobStatus(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "retries exhausted", st.Job.Reason)

	assert.ErrorIs(t, f.dispatch.Abandon(ctx, "nope", "x"), ErrJobNotFound)
}

func TestDispatchService_ExecuteUnknownJob(t *testing.T) {
	f := newFixture(t, model.ChannelSMS)
	assert.ErrorIs(t, f.dispatch.Execute(context.Background(), "nope"), ErrJobNotFound)

	_, err := f.dispatch.GetJobStatus(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestDispatchService_TestSend(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, model.ChannelEmail)

	res, err := f.dispatch.TestSend(ctx, model.TestSendRequest{
		Provider: *emailProvider(),
		To:       "Admin@School.test",
	})
	require.NoError(t, err)
	assert.Equal(t, model.DeliverySent, res.Status)

	msgs := f.provider.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "admin@school.test", msgs[0].To)
	assert.Equal(t, "Test message", msgs[0].Subject)

	_, err = f.dispatch.TestSend(ctx, model.TestSendRequest{
		Provider: model.ProviderConfig{Channel: model.ChannelEmail, Kind: model.ProviderSendGrid},
		To:       "admin@school.test",
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = f.dispatch.TestSend(ctx, model.TestSendRequest{Provider: *emailProvider()})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	f.provider.fail["admin@school.test"] = providers.ErrTimeout
	_, err = f.dispatch.TestSend(ctx, model.TestSendRequest{Provider: *emailProvider(), To: "admin@school.test"})
	assert.ErrorIs(t, err, providers.ErrTimeout)
}

func TestDispatchService_TestSendInactiveProvider(t *testing.T) {
	f := newFixture(t, model.ChannelSMS)
	f.dispatch.providers = NewProviderCache().Get

	_, err := f.dispatch.TestSend(context.Background(), model.TestSendRequest{
		Provider: model.ProviderConfig{Channel: model.ChannelSMS, Kind: model.ProviderNone},
		To:       "+989121234567",
	})
	assert.ErrorIs(t, err, providers.ErrProviderInactive)
}

func TestDispatchConfig_Backoff(t *testing.T) {
	cfg := DispatchConfig{MaxAttempts: 4, BackoffBase: 100, BackoffMax: 350}.withDefaults()
	b := cfg.backoff()

	var waits []time.Duration
	for {
		d, stop := b.Next()
		if stop {
			break
		}
		waits = append(waits, d)
	}
	assert.Equal(t, []time.Duration{100, 200, 350}, waits)
}

func TestDispatchService_ExecuteInterruptedDuringBackoff(t *testing.T) {
	f := newFixture(t, model.ChannelSMS)
	f.seedProvider(t, smsProvider())
	f.seedTenant(t, model.ChannelSMS, 100, 0, model.AllPermissions)
	f.expectPublish()
	f.dispatch.cfg.BackoffBase = time.Second
	f.dispatch.cfg.BackoffMax = time.Second

	recipients := phones(1)
	f.provider.flaky[recipients[0].Address] = 1

	job, err := f.dispatch.Submit(context.Background(), smsJob(recipients))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()
	err = f.dispatch.Execute(ctx, job.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, f.provider.callsTo(recipients[0].Address))

	st, err := f.dispatch.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateSending, st.Job.State)
	require.Len(t, st.Recipients, 1)
	assert.Equal(t, model.DeliveryQueued, st.Recipients[0].Status)
	assert.Empty(t, st.Recipients[0].ErrorDetail)

	// a later delivery of the same job picks the record up again
	f.dispatch.cfg.BackoffBase = time.Millisecond
	f.dispatch.cfg.BackoffMax = time.Millisecond
	require.NoError(t, f.dispatch.Execute(context.Background(), job.ID))

	st, err = f.dispatch.GetJobStatus(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, st.Job.State)
	assert.Equal(t, model.DeliverySent, st.Recipients[0].Status)
}
