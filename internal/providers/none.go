package providers

import (
	"context"

	"github.com/nimasrn/school-notify/internal/model"
)

// inactive stands in for a channel with no configured provider.
type inactive struct {
	channel model.Channel
}

func (inactive) Kind() model.ProviderKind { return model.ProviderNone }

func (p inactive) Channel() model.Channel { return p.channel }

func (inactive) Send(context.Context, *Message) (*Result, error) {
	return nil, ErrProviderInactive
}
