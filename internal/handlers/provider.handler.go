package handlers

import (
	"context"

	"github.com/fasthttp/router"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
)

type ProviderTester interface {
	TestSend(ctx context.Context, req model.TestSendRequest) (*providers.Result, error)
}

type ProviderHandler struct {
	svc ProviderTester
}

func RegisterProviderRoutes(g *router.Group, h *ProviderHandler) {
	g.POST("/providers/test-send", h.TestSend)
}

func NewProviderHandler(svc ProviderTester) *ProviderHandler {
	return &ProviderHandler{svc: svc}
}

type testSendResponse struct {
	ProviderMessageID string               `json:"provider_message_id,omitempty"`
	Status            model.DeliveryStatus `json:"status"`
}

// TestSend pushes one message through an unsaved provider configuration.
// It bypasses quotas and is meant for the platform admin screen only.
func (h *ProviderHandler) TestSend(ctx *xhttp.RequestCtx) {
	if err := validateBody(testSendValidator, ctx.PostBody()); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var req model.TestSendRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := h.svc.TestSend(ctx, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, testSendResponse{ProviderMessageID: res.ProviderMessageID, Status: res.Status})
}
