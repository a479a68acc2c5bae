package repository

import (
	"context"
	"errors"
	"time"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/pkg/pg"
	"gorm.io/gorm"
)

var ErrDeliveryRecordNotFound = errors.New("delivery record not found")

const insertBatchSize = 200

type DeliveryRecordRepository struct {
	*pg.DB
}

func NewDeliveryRecordRepository(db *pg.DB) *DeliveryRecordRepository {
	return &DeliveryRecordRepository{db}
}

// CreateBatch appends records and writes the generated ids back.
func (r *DeliveryRecordRepository) CreateBatch(ctx context.Context, records []*model.DeliveryRecord) error {
	if len(records) == 0 {
		return nil
	}
	entities := make([]*DeliveryRecordEntity, len(records))
	for i, rec := range records {
		e, err := toDeliveryRecordEntity(rec)
		if err != nil {
			return err
		}
		entities[i] = e
	}
	if err := r.Write(ctx).CreateInBatches(entities, insertBatchSize).Error; err != nil {
		return err
	}
	for i, e := range entities {
		records[i].ID = e.ID
	}
	return nil
}

func (r *DeliveryRecordRepository) GetByID(ctx context.Context, id int64) (*model.DeliveryRecord, error) {
	var entity DeliveryRecordEntity
	if err := r.Read(ctx).Where("id = ?", id).First(&entity).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryRecordNotFound
		}
		return nil, err
	}
	return toDeliveryRecordModel(&entity), nil
}

func (r *DeliveryRecordRepository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*model.DeliveryRecord, error) {
	if providerMessageID == "" {
		return nil, ErrDeliveryRecordNotFound
	}
	var entity DeliveryRecordEntity
	err := r.Read(ctx).
		Where("provider_message_id = ?", providerMessageID).
		Order("id DESC").
		First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeliveryRecordNotFound
		}
		return nil, err
	}
	return toDeliveryRecordModel(&entity), nil
}

func (r *DeliveryRecordRepository) ListByJob(ctx context.Context, jobID string) ([]*model.DeliveryRecord, error) {
	var entities []*DeliveryRecordEntity
	if err := r.Read(ctx).Where("job_id = ?", jobID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	return toDeliveryRecordModels(entities), nil
}

// ListQueuedByJob returns the records of a job that have not been attempted
// yet; after a processor restart only these are resent.
func (r *DeliveryRecordRepository) ListQueuedByJob(ctx context.Context, jobID string) ([]*model.DeliveryRecord, error) {
	var entities []*DeliveryRecordEntity
	err := r.Write(ctx).
		Where("job_id = ? AND status = ?", jobID, string(model.DeliveryQueued)).
		Order("id ASC").
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toDeliveryRecordModels(entities), nil
}

// Transition applies tr to record id if its current status may move to
// tr.Status. It reports false, without error, when the record was already
// past that point, so duplicate or out-of-order callbacks are harmless.
func (r *DeliveryRecordRepository) Transition(ctx context.Context, id int64, channel model.Channel, tr model.DeliveryTransition) (bool, error) {
	from := model.Predecessors(tr.Status, channel)
	if len(from) == 0 {
		return false, nil
	}

	updates := map[string]interface{}{"status": string(tr.Status)}
	switch tr.Status {
	case model.DeliverySent:
		updates["sent_at"] = tr.At
	case model.DeliveryDelivered:
		updates["delivered_at"] = tr.At
		updates["sent_at"] = gorm.Expr("COALESCE(sent_at, ?)", tr.At)
	case model.DeliveryOpened:
		updates["opened_at"] = tr.At
		updates["delivered_at"] = gorm.Expr("COALESCE(delivered_at, ?)", tr.At)
		updates["sent_at"] = gorm.Expr("COALESCE(sent_at, ?)", tr.At)
	case model.DeliveryFailed:
		updates["failed_at"] = tr.At
	case model.DeliveryBounced:
		updates["bounced_at"] = tr.At
	}
	if tr.ProviderMessageID != "" {
		updates["provider_message_id"] = tr.ProviderMessageID
	}
	if tr.Subject != "" {
		updates["subject"] = tr.Subject
	}
	if tr.BodyExcerpt != "" {
		updates["body_excerpt"] = tr.BodyExcerpt
	}
	if tr.BodyHash != "" {
		updates["body_hash"] = tr.BodyHash
	}
	if tr.Attempts > 0 {
		updates["attempts"] = tr.Attempts
	}
	if tr.ErrorDetail != "" {
		updates["error_detail"] = tr.ErrorDetail
	}

	statuses := make([]string, len(from))
	for i, s := range from {
		statuses[i] = string(s)
	}
	res := r.Write(ctx).Model(&DeliveryRecordEntity{}).
		Where("id = ? AND status IN ?", id, statuses).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// FailQueued marks every still-queued record of a job as failed with detail.
func (r *DeliveryRecordRepository) FailQueued(ctx context.Context, jobID, detail string, at time.Time) (int64, error) {
	res := r.Write(ctx).Model(&DeliveryRecordEntity{}).
		Where("job_id = ? AND status = ?", jobID, string(model.DeliveryQueued)).
		Updates(map[string]interface{}{
			"status":       string(model.DeliveryFailed),
			"failed_at":    at,
			"error_detail": detail,
		})
	return res.RowsAffected, res.Error
}

type JobOutcome struct {
	Succeeded int64
	Failed    int64
	Queued    int64
}

// Outcome counts the records of a job by result. Bounced counts as failed.
func (r *DeliveryRecordRepository) Outcome(ctx context.Context, jobID string) (*JobOutcome, error) {
	var out JobOutcome
	err := r.Write(ctx).Model(&DeliveryRecordEntity{}).
		Select(`
			COALESCE(SUM(CASE WHEN status IN ('sent','delivered','opened') THEN 1 ELSE 0 END), 0) AS succeeded,
			COALESCE(SUM(CASE WHEN status IN ('failed','bounced') THEN 1 ELSE 0 END), 0)          AS failed,
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0)                       AS queued`).
		Where("job_id = ?", jobID).
		Scan(&out).Error
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *DeliveryRecordRepository) List(ctx context.Context, f model.DeliveryFilter) ([]*model.DeliveryRecord, int64, error) {
	q := r.Read(ctx).Model(&DeliveryRecordEntity{}).Where("tenant_id = ?", f.TenantID)

	if f.JobID != nil {
		q = q.Where("job_id = ?", *f.JobID)
	}
	if f.Channel != nil {
		q = q.Where("channel = ?", string(*f.Channel))
	}
	if f.Category != nil {
		q = q.Where("category = ?", string(*f.Category))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.From != nil {
		q = q.Where("queued_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("queued_at < ?", f.To.UTC())
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "queued_at ASC, id ASC"
	if f.Desc {
		order = "queued_at DESC, id DESC"
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*DeliveryRecordEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toDeliveryRecordModels(entities), total, nil
}

type deliveryCounts struct {
	Queued        int64
	Sent          int64
	Delivered     int64
	Opened        int64
	Failed        int64
	Bounced       int64
	SentToday     int64
	SentThisMonth int64
}

// Stats aggregates a tenant's records. A record counts as sent once it has a
// sent_at, so a sent-then-bounced email is both sent and bounced. dayStart
// and monthStart are the platform-local boundaries.
func (r *DeliveryRecordRepository) Stats(ctx context.Context, tenantID string, channel *model.Channel, dayStart, monthStart time.Time) (*model.DeliveryStats, error) {
	q := r.Read(ctx).Model(&DeliveryRecordEntity{}).
		Select(`
			COALESCE(SUM(CASE WHEN status = 'queued' THEN 1 ELSE 0 END), 0)  AS queued,
			COUNT(sent_at)                                                    AS sent,
			COUNT(delivered_at)                                               AS delivered,
			COUNT(opened_at)                                                  AS opened,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0)  AS failed,
			COALESCE(SUM(CASE WHEN status = 'bounced' THEN 1 ELSE 0 END), 0) AS bounced,
			COALESCE(SUM(CASE WHEN sent_at >= ? THEN 1 ELSE 0 END), 0)        AS sent_today,
			COALESCE(SUM(CASE WHEN sent_at >= ? THEN 1 ELSE 0 END), 0)        AS sent_this_month`,
			dayStart.UTC(), monthStart.UTC()).
		Where("tenant_id = ?", tenantID)
	if channel != nil {
		q = q.Where("channel = ?", string(*channel))
	}

	var c deliveryCounts
	if err := q.Scan(&c).Error; err != nil {
		return nil, err
	}

	stats := &model.DeliveryStats{
		TenantID:      tenantID,
		Channel:       channel,
		Queued:        c.Queued,
		Sent:          c.Sent,
		Delivered:     c.Delivered,
		Opened:        c.Opened,
		Failed:        c.Failed,
		Bounced:       c.Bounced,
		SentToday:     c.SentToday,
		SentThisMonth: c.SentThisMonth,
	}
	if c.Sent > 0 {
		stats.DeliveryRate = float64(c.Delivered) / float64(c.Sent)
	}
	if channel != nil && *channel == model.ChannelEmail {
		var rate float64
		if c.Delivered > 0 {
			rate = float64(c.Opened) / float64(c.Delivered)
		}
		stats.OpenRate = &rate
	}
	return stats, nil
}
