package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nimasrn/school-notify/internal/model"
)

const mailgunBaseURL = "https://api.mailgun.net"

type Mailgun struct {
	cfg    *model.ProviderConfig
	client HTTPDoer
}

func NewMailgun(cfg *model.ProviderConfig, client HTTPDoer) *Mailgun {
	return &Mailgun{cfg: cfg, client: client}
}

func (p *Mailgun) Kind() model.ProviderKind { return model.ProviderMailgun }
func (p *Mailgun) Channel() model.Channel   { return model.ChannelEmail }

func (p *Mailgun) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikeEmail(msg.To) {
		return nil, Permanent("invalid_address", "invalid email address %q", msg.To)
	}

	form := map[string]string{
		"from":        formatAddress(p.cfg.FromName, p.cfg.FromAddress),
		"to":          formatAddress(msg.ToName, msg.To),
		"subject":     msg.Subject,
		"v:record_id": formatID(msg.RecordID),
		"v:job_id":    msg.JobID,
	}
	if isHTML(msg.Body) {
		form["html"] = msg.Body
	} else {
		form["text"] = msg.Body
	}

	base := p.cfg.BaseURL
	if base == "" {
		base = mailgunBaseURL
	}
	res, err := do(ctx, p.client, p.cfg.Timeout(), httpCall{
		URL:  fmt.Sprintf("%s/v3/%s/messages", strings.TrimRight(base, "/"), p.cfg.Domain),
		Form: form,
		User: "api",
		Pass: p.cfg.APIKey,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, Transient("decode", "failed to unmarshal response: %v", err)
	}
	return sent(strings.Trim(out.ID, "<>")), nil
}

func formatAddress(name, addr string) string {
	if name == "" {
		return addr
	}
	return fmt.Sprintf("%q <%s>", name, addr)
}
