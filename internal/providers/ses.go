package providers

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/nimasrn/school-notify/internal/model"
)

type SES struct {
	cfg *model.ProviderConfig
	svc SESService
}

func NewSES(cfg *model.ProviderConfig, svc SESService) *SES {
	return &SES{cfg: cfg, svc: svc}
}

func (p *SES) Kind() model.ProviderKind { return model.ProviderSES }
func (p *SES) Channel() model.Channel   { return model.ChannelEmail }

func (p *SES) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikeEmail(msg.To) {
		return nil, Permanent("invalid_address", "invalid email address %q", msg.To)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	body := &types.Body{}
	if isHTML(msg.Body) {
		body.Html = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	} else {
		body.Text = &types.Content{Data: aws.String(msg.Body), Charset: aws.String("UTF-8")}
	}

	out, err := p.svc.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &types.Destination{ToAddresses: []string{formatAddress(msg.ToName, msg.To)}},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
			Body:    body,
		},
		Source: aws.String(formatAddress(p.cfg.FromName, p.cfg.FromAddress)),
		Tags: []types.MessageTag{
			{Name: aws.String("record_id"), Value: aws.String(formatID(msg.RecordID))},
		},
	})
	if err != nil {
		return nil, classifyAWS(err)
	}
	return sent(aws.ToString(out.MessageId)), nil
}
