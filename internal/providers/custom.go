package providers

import (
	"context"
	"encoding/json"

	"github.com/nimasrn/school-notify/internal/model"
)

// Custom posts to a school-supplied HTTP SMS gateway. The request is
// {"to","message","sender_id","reference"} and the response may carry the
// provider id as "message_id" or "id".
type Custom struct {
	cfg    *model.ProviderConfig
	client HTTPDoer
}

func NewCustom(cfg *model.ProviderConfig, client HTTPDoer) *Custom {
	return &Custom{cfg: cfg, client: client}
}

func (p *Custom) Kind() model.ProviderKind { return model.ProviderCustom }
func (p *Custom) Channel() model.Channel   { return model.ChannelSMS }

type customRequest struct {
	To        string `json:"to"`
	Message   string `json:"message"`
	SenderID  string `json:"sender_id,omitempty"`
	Reference string `json:"reference"`
}

func (p *Custom) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikePhone(msg.To) {
		return nil, Permanent("invalid_address", "invalid phone number %q", msg.To)
	}

	call := httpCall{
		URL: p.cfg.BaseURL,
		JSON: customRequest{
			To:        msg.To,
			Message:   msg.Body,
			SenderID:  p.cfg.SenderID,
			Reference: formatID(msg.RecordID),
		},
	}
	if p.cfg.APIKey != "" {
		call.Headers = map[string]string{"Authorization": "Bearer " + p.cfg.APIKey}
	} else if p.cfg.Username != "" {
		call.User, call.Pass = p.cfg.Username, p.cfg.Password
	}

	res, err := do(ctx, p.client, p.cfg.Timeout(), call)
	if err != nil {
		return nil, err
	}

	var out struct {
		MessageID string `json:"message_id"`
		ID        string `json:"id"`
	}
	// Some gateways answer with plain text; that is still an acceptance.
	if len(res.Body) > 0 && json.Unmarshal(res.Body, &out) == nil && out.MessageID == "" {
		out.MessageID = out.ID
	}
	return sent(out.MessageID), nil
}
