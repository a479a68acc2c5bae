package providers

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"github.com/nimasrn/school-notify/internal/model"
)

type SNS struct {
	cfg *model.ProviderConfig
	svc SNSService
}

func NewSNS(cfg *model.ProviderConfig, svc SNSService) *SNS {
	return &SNS{cfg: cfg, svc: svc}
}

func (p *SNS) Kind() model.ProviderKind { return model.ProviderSNS }
func (p *SNS) Channel() model.Channel   { return model.ChannelSMS }

func (p *SNS) Send(ctx context.Context, msg *Message) (*Result, error) {
	if !looksLikePhone(msg.To) {
		return nil, Permanent("invalid_address", "invalid phone number %q", msg.To)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout())
	defer cancel()

	attrs := map[string]types.MessageAttributeValue{
		"AWS.SNS.SMS.SMSType": {DataType: aws.String("String"), StringValue: aws.String(smsType(msg.Category))},
	}
	if p.cfg.SenderID != "" {
		attrs["AWS.SNS.SMS.SenderID"] = types.MessageAttributeValue{DataType: aws.String("String"), StringValue: aws.String(p.cfg.SenderID)}
	}

	out, err := p.svc.Publish(ctx, &sns.PublishInput{
		PhoneNumber:       aws.String(msg.To),
		Message:           aws.String(msg.Body),
		MessageAttributes: attrs,
	})
	if err != nil {
		return nil, classifyAWS(err)
	}
	return sent(aws.ToString(out.MessageId)), nil
}

func smsType(c model.Category) string {
	if c == model.CategoryNewsletter || c == model.CategoryEvents {
		return "Promotional"
	}
	return "Transactional"
}
