package handlers

import (
	"context"

	"github.com/fasthttp/router"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/services"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
)

type DispatchService interface {
	Submit(ctx context.Context, req model.SubmitJobRequest) (*model.DispatchJob, error)
	GetJobStatus(ctx context.Context, jobID string) (*model.JobStatus, error)
	Cancel(ctx context.Context, jobID string) error
	ListJobs(ctx context.Context, tenantID string, limit, offset int) ([]*model.DispatchJob, int64, error)
}

type DispatchHandler struct {
	svc DispatchService
}

func RegisterDispatchRoutes(g *router.Group, h *DispatchHandler) {
	g.POST("/dispatch/jobs", h.SubmitJob)
	g.GET("/dispatch/jobs", h.ListJobs)
	g.GET("/dispatch/jobs/{id}", h.GetJob)
	g.POST("/dispatch/jobs/{id}/cancel", h.CancelJob)
}

func NewDispatchHandler(svc DispatchService) *DispatchHandler {
	return &DispatchHandler{svc: svc}
}

type submitJobResponse struct {
	JobID           string         `json:"job_id"`
	State           model.JobState `json:"state"`
	Reason          string         `json:"reason,omitempty"`
	TotalRecipients int            `json:"total_recipients"`
	EstimatedCost   float64        `json:"estimated_cost"`
}

type jobListResponse struct {
	Items []*model.DispatchJob `json:"items"`
	Total int64                `json:"total"`
}

func (h *DispatchHandler) SubmitJob(ctx *xhttp.RequestCtx) {
	if err := validateBody(submitJobValidator, ctx.PostBody()); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var req model.SubmitJobRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if tenant := tenantID(ctx); tenant != "" {
		req.TenantID = tenant
	}

	job, err := h.svc.Submit(ctx, req)
	if err != nil {
		// rejected jobs are persisted and reported with their id
		if de, ok := services.AsDenial(err); ok && job != nil {
			writeJSON(ctx, xhttp.StatusUnprocessableEntity, submitJobResponse{
				JobID:           job.ID,
				State:           job.State,
				Reason:          string(de.Reason),
				TotalRecipients: job.TotalRecipients,
			})
			return
		}
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, submitJobResponse{
		JobID:           job.ID,
		State:           job.State,
		TotalRecipients: job.TotalRecipients,
		EstimatedCost:   job.EstimatedCost,
	})
}

func (h *DispatchHandler) GetJob(ctx *xhttp.RequestCtx) {
	st, err := h.svc.GetJobStatus(ctx, pathParam(ctx, "id"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	// jobs of other tenants do not exist for the caller
	if tenant := tenantID(ctx); tenant != "" && st.Job.TenantID != tenant {
		writeServiceError(ctx, services.ErrJobNotFound)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, st)
}

func (h *DispatchHandler) CancelJob(ctx *xhttp.RequestCtx) {
	id := pathParam(ctx, "id")
	if tenant := tenantID(ctx); tenant != "" {
		st, err := h.svc.GetJobStatus(ctx, id)
		if err != nil {
			writeServiceError(ctx, err)
			return
		}
		if st.Job.TenantID != tenant {
			writeServiceError(ctx, services.ErrJobNotFound)
			return
		}
	}
	if err := h.svc.Cancel(ctx, id); err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusAccepted, map[string]string{"job_id": id, "status": "cancellation requested"})
}

func (h *DispatchHandler) ListJobs(ctx *xhttp.RequestCtx) {
	limit, _ := queryInt(ctx, "limit")
	offset, _ := queryInt(ctx, "offset")
	items, total, err := h.svc.ListJobs(ctx, tenantID(ctx), limit, offset)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, jobListResponse{Items: items, Total: total})
}
