package handlers

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/school-notify/internal/audience"
	"github.com/nimasrn/school-notify/internal/providers"
	"github.com/nimasrn/school-notify/internal/services"
	xhttp "github.com/nimasrn/school-notify/pkg/http"
	"github.com/nimasrn/school-notify/pkg/logger"
)

// HeaderTenantID is set by the portal gateway in front of this service.
const HeaderTenantID = xhttp.HeaderTenantID

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		logger.Error("[handlers] response not encodable", "error", err)
		ctx.Error(xhttp.StatusText(xhttp.StatusInternalServerError), xhttp.StatusInternalServerError)
		return
	}
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeError(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, errorResponse{Error: msg})
}

// writeServiceError maps service errors onto status codes. Anything unknown
// is logged and hidden behind a 500.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	if de, ok := services.AsDenial(err); ok {
		status := xhttp.StatusUnprocessableEntity
		if de.Configuration() {
			status = xhttp.StatusConflict
		}
		writeJSON(ctx, status, errorResponse{Error: de.Error(), Reason: string(de.Reason)})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
	case errors.Is(err, services.ErrTemplateUnavailable),
		errors.Is(err, audience.ErrNoRecipients):
		writeError(ctx, xhttp.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, services.ErrJobNotFound),
		errors.Is(err, services.ErrRecordNotFound):
		writeError(ctx, xhttp.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrJobFinished):
		writeError(ctx, xhttp.StatusConflict, err.Error())
	case errors.Is(err, services.ErrCancelUnsupported):
		writeError(ctx, xhttp.StatusNotImplemented, err.Error())
	default:
		var de *providers.DeliveryError
		if errors.As(err, &de) {
			writeJSON(ctx, xhttp.StatusBadGateway, errorResponse{Error: de.Message, Reason: de.Code})
			return
		}
		logger.Error("[handlers] request failed", "path", string(ctx.Path()), "error", err)
		writeError(ctx, xhttp.StatusInternalServerError, xhttp.StatusText(xhttp.StatusInternalServerError))
	}
}

// tenantID reads the caller's tenant, falling back to the tenant_id query
// argument for tools that cannot set headers.
func tenantID(ctx *xhttp.RequestCtx) string {
	if v := strings.TrimSpace(string(ctx.Request.Header.Peek(HeaderTenantID))); v != "" {
		return v
	}
	return query(ctx, "tenant_id")
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func queryInt(ctx *xhttp.RequestCtx, key string) (int, bool) {
	v := query(ctx, key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func pathParam(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}

func parseTime(s string) (time.Time, error) {
	// RFC3339 or YYYY-MM-DD
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
