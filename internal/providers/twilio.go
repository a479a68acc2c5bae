package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nimasrn/school-notify/internal/model"
)

const twilioBaseURL = "https://api.twilio.com"

type Twilio struct {
	cfg    *model.ProviderConfig
	client HTTPDoer
}

func NewTwilio(cfg *model.ProviderConfig, client HTTPDoer) *Twilio {
	return &Twilio{cfg: cfg, client: client}
}

func (p *Twilio) Kind() model.ProviderKind { return model.ProviderTwilio }
func (p *Twilio) Channel() model.Channel   { return model.ChannelSMS }

func (p *Twilio) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikePhone(msg.To) {
		return nil, Permanent("invalid_address", "invalid phone number %q", msg.To)
	}

	form := map[string]string{
		"To":   msg.To,
		"Body": msg.Body,
	}
	// Messaging service SIDs start with MG; anything else is a number or
	// alphanumeric sender.
	if strings.HasPrefix(p.cfg.SenderID, "MG") {
		form["MessagingServiceSid"] = p.cfg.SenderID
	} else {
		form["From"] = p.cfg.SenderID
	}

	base := p.cfg.BaseURL
	if base == "" {
		base = twilioBaseURL
	}
	res, err := do(ctx, p.client, p.cfg.Timeout(), httpCall{
		URL:  fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", strings.TrimRight(base, "/"), p.cfg.AccountID),
		Form: form,
		User: p.cfg.AccountID,
		Pass: p.cfg.APISecret,
	})
	if err != nil {
		return nil, err
	}

	var out struct {
		SID          string  `json:"sid"`
		Status       string  `json:"status"`
		ErrorCode    *int    `json:"error_code"`
		ErrorMessage *string `json:"error_message"`
	}
	if err := json.Unmarshal(res.Body, &out); err != nil {
		return nil, Transient("decode", "failed to unmarshal response: %v", err)
	}
	if out.Status == "failed" || out.Status == "undelivered" {
		detail := out.Status
		if out.ErrorMessage != nil {
			detail = *out.ErrorMessage
		}
		return nil, Permanent("twilio_"+out.Status, "twilio rejected message: %s", detail)
	}
	return sent(out.SID), nil
}
