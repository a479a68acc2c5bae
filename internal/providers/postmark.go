package providers

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/nimasrn/school-notify/internal/model"
)

const postmarkBaseURL = "https://api.postmarkapp.com"

type Postmark struct {
	cfg    *model.ProviderConfig
	client HTTPDoer
}

func NewPostmark(cfg *model.ProviderConfig, client HTTPDoer) *Postmark {
	return &Postmark{cfg: cfg, client: client}
}

func (p *Postmark) Kind() model.ProviderKind { return model.ProviderPostmark }
func (p *Postmark) Channel() model.Channel   { return model.ChannelEmail }

type postmarkRequest struct {
	From          string            `json:"From"`
	To            string            `json:"To"`
	Subject       string            `json:"Subject"`
	TextBody      string            `json:"TextBody,omitempty"`
	HtmlBody      string            `json:"HtmlBody,omitempty"`
	MessageStream string            `json:"MessageStream"`
	Metadata      map[string]string `json:"Metadata,omitempty"`
}

type postmarkResponse struct {
	MessageID string `json:"MessageID"`
	ErrorCode int    `json:"ErrorCode"`
	Message   string `json:"Message"`
}

func (p *Postmark) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikeEmail(msg.To) {
		return nil, Permanent("invalid_address", "invalid email address %q", msg.To)
	}

	body := postmarkRequest{
		From:          formatAddress(p.cfg.FromName, p.cfg.FromAddress),
		To:            formatAddress(msg.ToName, msg.To),
		Subject:       msg.Subject,
		MessageStream: "outbound",
		Metadata:      map[string]string{"record_id": formatID(msg.RecordID), "job_id": msg.JobID},
	}
	if isHTML(msg.Body) {
		body.HtmlBody = msg.Body
	} else {
		body.TextBody = msg.Body
	}

	base := p.cfg.BaseURL
	if base == "" {
		base = postmarkBaseURL
	}
	res, err := do(ctx, p.client, p.cfg.Timeout(), httpCall{
		URL:  strings.TrimRight(base, "/") + "/email",
		JSON: body,
		Headers: map[string]string{
			"Accept":                  "application/json",
			"X-Postmark-Server-Token": p.cfg.APIKey,
		},
	})
	if err != nil {
		return nil, err
	}

	var out postmarkResponse
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, Transient("decode", "failed to unmarshal response: %v", err)
	}
	if out.ErrorCode != 0 {
		return nil, Permanent("postmark_"+formatID(int64(out.ErrorCode)), "postmark rejected message: %s", out.Message)
	}
	return sent(out.MessageID), nil
}
