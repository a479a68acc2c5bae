package handlers

import (
	"context"
	"strings"

	"github.com/fasthttp/router"

	"github.com/nimasrn/school-notify/internal/model"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
)

type DeliveryLogService interface {
	Query(ctx context.Context, f model.DeliveryFilter) ([]*model.DeliveryRecord, int64, error)
	Stats(ctx context.Context, tenantID string, ch *model.Channel) (*model.DeliveryStats, error)
	ApplyStatusEvent(ctx context.Context, ev model.StatusEvent) (bool, error)
}

type DeliveryHandler struct {
	svc DeliveryLogService
}

func RegisterDeliveryRoutes(g *router.Group, h *DeliveryHandler) {
	g.GET("/deliveries", h.ListDeliveries)
	g.GET("/deliveries/stats", h.GetStats)
	g.POST("/deliveries/events", h.PostStatusEvent)
}

func NewDeliveryHandler(svc DeliveryLogService) *DeliveryHandler {
	return &DeliveryHandler{svc: svc}
}

type deliveryListResponse struct {
	Items []*model.DeliveryRecord `json:"items"`
	Total int64                   `json:"total"`
}

type statusEventResponse struct {
	Applied bool `json:"applied"`
}

func (h *DeliveryHandler) ListDeliveries(ctx *xhttp.RequestCtx) {
	f := model.DeliveryFilter{TenantID: tenantID(ctx)}

	if v := query(ctx, "job_id"); v != "" {
		f.JobID = &v
	}
	if v := query(ctx, "channel"); v != "" {
		ch := model.Channel(v)
		f.Channel = &ch
	}
	if v := query(ctx, "category"); v != "" {
		c, err := model.ParseCategory(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, err.Error())
			return
		}
		f.Category = &c
	}
	for _, s := range splitList(query(ctx, "status")) {
		f.Statuses = append(f.Statuses, model.DeliveryStatus(s))
	}
	if v := query(ctx, "from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid from: "+err.Error())
			return
		}
		f.From = &t
	}
	if v := query(ctx, "to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "invalid to: "+err.Error())
			return
		}
		f.To = &t
	}
	f.Limit, _ = queryInt(ctx, "limit")
	f.Offset, _ = queryInt(ctx, "offset")
	f.Desc = strings.EqualFold(query(ctx, "order"), "desc")

	items, total, err := h.svc.Query(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, deliveryListResponse{Items: items, Total: total})
}

func (h *DeliveryHandler) GetStats(ctx *xhttp.RequestCtx) {
	var ch *model.Channel
	if v := query(ctx, "channel"); v != "" {
		c := model.Channel(v)
		ch = &c
	}
	stats, err := h.svc.Stats(ctx, tenantID(ctx), ch)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, stats)
}

// PostStatusEvent receives provider delivery callbacks. Stale and duplicate
// events are accepted with applied=false so providers stop retrying them.
func (h *DeliveryHandler) PostStatusEvent(ctx *xhttp.RequestCtx) {
	if err := validateBody(statusEventValidator, ctx.PostBody()); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var ev model.StatusEvent
	if err := readJSON(ctx, &ev); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	applied, err := h.svc.ApplyStatusEvent(ctx, ev)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, statusEventResponse{Applied: applied})
}
