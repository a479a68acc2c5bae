package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/repository"
	"github.com/nimasrn/school-notify/pkg/logger"
)

type DeliveryLogService struct {
	records  DeliveryRecordRepository
	calendar Calendar
}

func NewDeliveryLogService(records DeliveryRecordRepository, calendar Calendar) *DeliveryLogService {
	return &DeliveryLogService{records: records, calendar: calendar}
}

func (s *DeliveryLogService) Query(ctx context.Context, f model.DeliveryFilter) ([]*model.DeliveryRecord, int64, error) {
	if f.TenantID == "" {
		return nil, 0, fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if f.From != nil && f.To != nil && !f.From.Before(*f.To) {
		return nil, 0, fmt.Errorf("%w: from must be before to", ErrInvalidRequest)
	}
	for _, st := range f.Statuses {
		if !st.Valid() {
			return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, st)
		}
	}
	return s.records.List(ctx, f)
}

// Stats aggregates a tenant's log. Today and this month are taken in the
// platform time zone.
func (s *DeliveryLogService) Stats(ctx context.Context, tenantID string, ch *model.Channel) (*model.DeliveryStats, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant_id is required", ErrInvalidRequest)
	}
	if ch != nil && !ch.Valid() {
		return nil, fmt.Errorf("%w: channel must be email or sms", ErrInvalidRequest)
	}
	now := s.calendar.NowUTC()
	return s.records.Stats(ctx, tenantID, ch, s.calendar.DayStart(now), s.calendar.MonthStart(now))
}

// ApplyStatusEvent moves an existing record forward. It never creates a
// record; stale or duplicate events are accepted and reported as not
// applied.
func (s *DeliveryLogService) ApplyStatusEvent(ctx context.Context, ev model.StatusEvent) (bool, error) {
	if !ev.Status.Valid() || ev.Status == model.DeliveryQueued {
		return false, fmt.Errorf("%w: status %q cannot be reported", ErrInvalidRequest, ev.Status)
	}

	var (
		rec *model.DeliveryRecord
		err error
	)
	switch {
	case ev.RecordID > 0:
		rec, err = s.records.GetByID(ctx, ev.RecordID)
	case ev.ProviderMessageID != "":
		rec, err = s.records.FindByProviderMessageID(ctx, ev.ProviderMessageID)
	default:
		return false, fmt.Errorf("%w: record_id or provider_message_id is required", ErrInvalidRequest)
	}
	if errors.Is(err, repository.ErrDeliveryRecordNotFound) {
		return false, ErrRecordNotFound
	}
	if err != nil {
		return false, err
	}

	at := s.calendar.NowUTC()
	if ev.OccurredAt != nil {
		at = ev.OccurredAt.UTC()
	}
	tr := model.DeliveryTransition{Status: ev.Status, At: at}
	if ev.Status == model.DeliveryFailed || ev.Status == model.DeliveryBounced {
		tr.ErrorDetail = ev.Detail
	}

	applied, err := s.records.Transition(ctx, rec.ID, rec.Channel, tr)
	if err != nil {
		return false, fmt.Errorf("apply status event: %w", err)
	}
	if !applied {
		logger.Debug("[delivery-log] status event ignored", "record_id", rec.ID, "current", rec.Status, "event", ev.Status)
	}
	return applied, nil
}
