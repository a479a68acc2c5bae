package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
)

type MockDispatchService struct {
	mock.Mock
}

func (m *MockDispatchService) Submit(ctx context.Context, req model.SubmitJobRequest) (*model.DispatchJob, error) {
	args := m.Called(ctx, req)
	job, _ := args.Get(0).(*model.DispatchJob)
	return job, args.Error(1)
}

func (m *MockDispatchService) GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error) {
	args := m.Called(ctx, jobID)
	st, _ := args.Get(0).(*model.JobStatus)
	return st, args.Error(1)
}

func (m *MockDispatchService) Cancel(ctx context.Context, jobID string) error {
	return m.Called(ctx, jobID).Error(0)
}

func (m *MockDispatchService) ListJobs(ctx context.Context, tenantID string, limit, offset int) ([]*model.DispatchJob, int64, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	items, _ := args.Get(0).([]*model.DispatchJob)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *MockDispatchService) TestSend(ctx context.Context, req model.TestSendRequest) (*providers.Result, error) {
	args := m.Called(ctx, req)
	res, _ := args.Get(0).(*providers.Result)
	return res, args.Error(1)
}

type MockDeliveryLogService struct {
	mock.Mock
}

func (m *MockDeliveryLogService) Query(ctx context.Context, f model.DeliveryFilter) ([]*model.DeliveryRecord, int64, error) {
	args := m.Called(ctx, f)
	items, _ := args.Get(0).([]*model.DeliveryRecord)
	return items, args.Get(1).(int64), args.Error(2)
}

func (m *MockDeliveryLogService) Stats(ctx context.Context, tenantID string, ch *model.Channel) (*model.DeliveryStats, error) {
	args := m.Called(ctx, tenantID, ch)
	st, _ := args.Get(0).(*model.DeliveryStats)
	return st, args.Error(1)
}

func (m *MockDeliveryLogService) ApplyStatusEvent(ctx context.Context, ev model.StatusEvent) (bool, error) {
	args := m.Called(ctx, ev)
	return args.Bool(0), args.Error(1)
}

type MockTemplateService struct {
	mock.Mock
}

func (m *MockTemplateService) Save(ctx context.Context, req model.TemplateSaveRequest) (*model.Template, error) {
	args := m.Called(ctx, req)
	t, _ := args.Get(0).(*model.Template)
	return t, args.Error(1)
}

func (m *MockTemplateService) Get(ctx context.Context, tenantID string, id int64) (*model.Template, error) {
	args := m.Called(ctx, tenantID, id)
	t, _ := args.Get(0).(*model.Template)
	return t, args.Error(1)
}

func (m *MockTemplateService) List(ctx context.Context, tenantID string, ch *model.Channel) ([]*model.Template, error) {
	args := m.Called(ctx, tenantID, ch)
	items, _ := args.Get(0).([]*model.Template)
	return items, args.Error(1)
}

func setupTestContext(method, path string, body []byte) *xhttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	ctx.Request.Header.Set(HeaderTenantID, "school-1")
	if body != nil {
		ctx.Request.SetBody(body)
	}
	return ctx
}

func decode(t *testing.T, ctx *xhttp.RequestCtx, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(ctx.Response.Body(), dst))
}
