package providers

import (
	"context"
	"io"

	"github.com/nimasrn/school-notify/internal/model"
)

// Message is one rendered notification addressed to a single recipient.
type Message struct {
	RecordID int64
	JobID    string
	TenantID string
	Category model.Category
	To       string
	ToName   string
	Subject  string
	Body     string
}

// Result is what the provider reported on acceptance. Status is sent unless
// the provider confirmed delivery synchronously.
type Result struct {
	ProviderMessageID string
	Status            model.DeliveryStatus
}

type Provider interface {
	Kind() model.ProviderKind
	Channel() model.Channel
	Send(ctx context.Context, msg *Message) (*Result, error)
}

// Close releases background resources held by p, if any.
func Close(p Provider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func sent(id string) *Result {
	return &Result{ProviderMessageID: id, Status: model.DeliverySent}
}
