package providers

import (
	"context"
	"strings"

	"github.com/nimasrn/school-notify/internal/model"
)

const sendGridBaseURL = "https://api.sendgrid.com"

type SendGrid struct {
	cfg    *model.ProviderConfig
	client HTTPDoer
}

func NewSendGrid(cfg *model.ProviderConfig, client HTTPDoer) *SendGrid {
	return &SendGrid{cfg: cfg, client: client}
}

func (p *SendGrid) Kind() model.ProviderKind { return model.ProviderSendGrid }
func (p *SendGrid) Channel() model.Channel   { return model.ChannelEmail }

type sendGridAddress struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendGridPersonalization struct {
	To         []sendGridAddress `json:"to"`
	CustomArgs map[string]string `json:"custom_args,omitempty"`
}

type sendGridContent struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendGridRequest struct {
	Personalizations []sendGridPersonalization `json:"personalizations"`
	From             sendGridAddress           `json:"from"`
	Subject          string                    `json:"subject"`
	Content          []sendGridContent         `json:"content"`
}

func (p *SendGrid) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikeEmail(msg.To) {
		return nil, Permanent("invalid_address", "invalid email address %q", msg.To)
	}

	body := sendGridRequest{
		Personalizations: []sendGridPersonalization{{
			To:         []sendGridAddress{{Email: msg.To, Name: msg.ToName}},
			CustomArgs: map[string]string{"job_id": msg.JobID, "record_id": formatID(msg.RecordID)},
		}},
		From:    sendGridAddress{Email: p.cfg.FromAddress, Name: p.cfg.FromName},
		Subject: msg.Subject,
		Content: []sendGridContent{{Type: contentType(msg.Body), Value: msg.Body}},
	}

	base := p.cfg.BaseURL
	if base == "" {
		base = sendGridBaseURL
	}
	res, err := do(ctx, p.client, p.cfg.Timeout(), httpCall{
		URL:      strings.TrimRight(base, "/") + "/v3/mail/send",
		JSON:     body,
		Headers:  map[string]string{"Authorization": "Bearer " + p.cfg.APIKey},
		IDHeader: "X-Message-Id",
	})
	if err != nil {
		return nil, err
	}
	return sent(res.ID), nil
}
