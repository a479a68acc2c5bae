package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"

	"github.com/nimasrn/school-notify/internal/model"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
)

type TemplateService interface {
	Save(ctx context.Context, req model.TemplateSaveRequest) (*model.Template, error)
	Get(ctx context.Context, tenantID string, id int64) (*model.Template, error)
	List(ctx context.Context, tenantID string, ch *model.Channel) ([]*model.Template, error)
}

type TemplateHandler struct {
	svc TemplateService
}

func RegisterTemplateRoutes(g *router.Group, h *TemplateHandler) {
	g.POST("/templates", h.SaveTemplate)
	g.GET("/templates", h.ListTemplates)
	g.GET("/templates/{id}", h.GetTemplate)
}

func NewTemplateHandler(svc TemplateService) *TemplateHandler {
	return &TemplateHandler{svc: svc}
}

func (h *TemplateHandler) SaveTemplate(ctx *xhttp.RequestCtx) {
	if err := validateBody(templateValidator, ctx.PostBody()); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var req model.TemplateSaveRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	req.TenantID = tenantID(ctx)

	t, err := h.svc.Save(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	status := xhttp.StatusOK
	if req.ID == 0 {
		status = xhttp.StatusCreated
	}
	writeJSON(ctx, status, t)
}

func (h *TemplateHandler) GetTemplate(ctx *xhttp.RequestCtx) {
	id, err := strconv.ParseInt(pathParam(ctx, "id"), 10, 64)
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid template id")
		return
	}
	t, err := h.svc.Get(ctx, tenantID(ctx), id)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, t)
}

func (h *TemplateHandler) ListTemplates(ctx *xhttp.RequestCtx) {
	var ch *model.Channel
	if v := query(ctx, "channel"); v != "" {
		c := model.Channel(v)
		ch = &c
	}
	items, err := h.svc.List(ctx, tenantID(ctx), ch)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, map[string]any{"items": items})
}
