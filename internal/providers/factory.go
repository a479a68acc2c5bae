package providers

import (
	"context"
	"fmt"

	"github.com/nimasrn/school-notify/internal/model"
)

// Option overrides the transports a provider is built with; tests use it to
// avoid real network calls.
type Option func(*options)

type options struct {
	http HTTPDoer
	ses  SESService
	sns  SNSService
}

func WithHTTPDoer(d HTTPDoer) Option {
	return func(o *options) { o.http = d }
}

func WithSESService(s SESService) Option {
	return func(o *options) { o.ses = s }
}

func WithSNSService(s SNSService) Option {
	return func(o *options) { o.sns = s }
}

// New builds the adapter for cfg.Kind. cfg is treated as an immutable
// snapshot: the provider keeps its own copy.
func New(ctx context.Context, cfg *model.ProviderConfig, opts ...Option) (Provider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("provider config is required")
	}
	if cfg.Kind == model.ProviderNone {
		return inactive{channel: cfg.Channel}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s provider config: %w", cfg.Kind, err)
	}

	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	snapshot := *cfg
	snapshot.Endpoints = append([]string(nil), cfg.Endpoints...)

	var (
		p   Provider
		err error
	)
	switch cfg.Kind {
	case model.ProviderSMTP:
		p = NewSMTP(&snapshot)
	case model.ProviderSendGrid:
		p = NewSendGrid(&snapshot, o.httpDoer(&snapshot))
	case model.ProviderMailgun:
		p = NewMailgun(&snapshot, o.httpDoer(&snapshot))
	case model.ProviderPostmark:
		p = NewPostmark(&snapshot, o.httpDoer(&snapshot))
	case model.ProviderTwilio:
		p = NewTwilio(&snapshot, o.httpDoer(&snapshot))
	case model.ProviderCustom:
		p = NewCustom(&snapshot, o.httpDoer(&snapshot))
	case model.ProviderOperator:
		p, err = NewOperator(&snapshot, OperatorOptions{Doer: o.http})
	case model.ProviderSES:
		svc := o.ses
		if svc == nil {
			svc, err = newSESService(ctx, &snapshot)
		}
		if err == nil {
			p = NewSES(&snapshot, svc)
		}
	case model.ProviderSNS:
		svc := o.sns
		if svc == nil {
			svc, err = newSNSService(ctx, &snapshot)
		}
		if err == nil {
			p = NewSNS(&snapshot, svc)
		}
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
	if err != nil {
		return nil, err
	}
	return withRateLimit(p, snapshot.RatePerSecond), nil
}

func (o *options) httpDoer(cfg *model.ProviderConfig) HTTPDoer {
	if o.http != nil {
		return o.http
	}
	return newHTTPClient(cfg.Timeout())
}
