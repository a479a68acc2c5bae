package audience

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/logger"
)

// HTTPResolver queries the portal roster API:
//
//	POST {base}/api/v1/tenants/{tenant}/audience  body: AudienceFilter
//	200 {"members":[Member...]}
type HTTPResolver struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewHTTPResolver(baseURL, token string, timeout time.Duration) *HTTPResolver {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPResolver{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		client: &fasthttp.Client{
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
	}
}

type rosterResponse struct {
	Members []Member `json:"members"`
}

func (r *HTTPResolver) Resolve(ctx context.Context, tenantID string, ch model.Channel, filter *model.AudienceFilter) ([]model.Recipient, error) {
	body, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal audience filter: %w", err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s/api/v1/tenants/%s/audience", r.baseURL, url.PathEscape(tenantID)))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType("application/json")
	if r.token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+r.token)
	}
	req.SetBody(body)

	deadline := time.Now().Add(r.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	start := time.Now()
	if err := r.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("roster request failed: %w", err)
	}
	if resp.StatusCode() != fasthttp.StatusOK {
		return nil, fmt.Errorf("roster returned %d: %s", resp.StatusCode(), resp.Body())
	}

	var out rosterResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal roster response: %w", err)
	}

	recipients := make([]model.Recipient, 0, len(out.Members))
	skipped := 0
	for _, m := range out.Members {
		if rec, ok := m.recipient(ch); ok {
			recipients = append(recipients, rec)
		} else {
			skipped++
		}
	}
	logger.Debug("audience resolved", "tenant_id", tenantID, "channel", ch, "recipients", len(recipients), "skipped", skipped, "duration", time.Since(start))
	return recipients, nil
}
