package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/sethvargo/go-retry"

	"github.com/nimasrn/school-notify/internal/model"
	"github.com/nimasrn/school-notify/internal/providers"
	"github.com/nimasrn/school-notify/internal/render"
	"github.com/nimasrn/school-notify/pkg/logger"
	"github.com/nimasrn/school-notify/pkg/prom"
	"github.com/nimasrn/school-notify/pkg/worker"
)

const excerptRunes = 160

// errInterrupted means ctx ended between attempts; the record is left queued.
var errInterrupted = errors.New("delivery interrupted")

// jobRun is one pass of Execute over the queued records of a job.
type jobRun struct {
	svc      *DispatchService
	job      *model.DispatchJob
	provider providers.Provider
	renderer *render.Renderer
	log      logger.Logger

	stopped atomic.Bool
}

func newJobRun(svc *DispatchService, job *model.DispatchJob, provider providers.Provider, log logger.Logger) *jobRun {
	return &jobRun{
		svc:      svc,
		job:      job,
		provider: provider,
		renderer: render.ForChannel(job.Channel),
		log:      log,
	}
}

// execute fans the records out over a bounded pool. It reports whether a
// cancellation request was seen.
func (r *jobRun) execute(ctx context.Context, records []*model.DeliveryRecord) bool {
	if len(records) == 0 {
		return false
	}
	workers := r.svc.cfg.Workers
	if workers > len(records) {
		workers = len(records)
	}

	wm := worker.NewWorkerManager(workers, workers)
	wm.SetWorker(func(ctx context.Context, _ int, item any) {
		rec, ok := item.(*model.DeliveryRecord)
		if !ok || r.stopped.Load() || ctx.Err() != nil {
			return
		}
		if r.svc.cancelRequested(ctx, r.job.ID) {
			r.stopped.Store(true)
			return
		}
		r.deliver(ctx, rec)
	})
	wm.Start(ctx)

	for _, rec := range records {
		if r.stopped.Load() {
			break
		}
		if err := wm.Enqueue(ctx, rec); err != nil {
			break
		}
	}
	wm.Wait()

	if r.stopped.Load() {
		r.log.Info("[dispatch] job cancelled")
	}
	return r.stopped.Load()
}

// deliver renders, sends and records one recipient. The outcome is written
// even if ctx ends meanwhile.
func (r *jobRun) deliver(ctx context.Context, rec *model.DeliveryRecord) {
	vars := r.variables(rec)
	subject, missingSubject := r.renderer.Render(r.job.Subject, vars)
	body, missingBody := r.renderer.Render(r.job.Body, vars)
	if missing := append(missingSubject, missingBody...); len(missing) > 0 {
		r.log.Warn("[dispatch] placeholders left unrendered", "record_id", rec.ID, "placeholders", missing)
	}

	msg := &providers.Message{
		RecordID: rec.ID,
		JobID:    r.job.ID,
		TenantID: r.job.TenantID,
		Category: r.job.Category,
		To:       rec.Address,
		ToName:   rec.Name,
		Subject:  subject,
		Body:     body,
	}
	result, attempts, err := r.send(ctx, msg)
	if errors.Is(err, errInterrupted) {
		r.log.Debug("[dispatch] delivery interrupted, record stays queued", "record_id", rec.ID, "attempts", attempts)
		return
	}

	tr := model.DeliveryTransition{
		At:          r.svc.calendar.NowUTC(),
		Subject:     subject,
		BodyExcerpt: excerpt(body),
		BodyHash:    hashBody(body),
		Attempts:    attempts,
	}
	if err != nil {
		tr.Status = model.DeliveryFailed
		tr.ErrorDetail = errorDetail(err)
		r.log.Warn("[dispatch] delivery failed", "record_id", rec.ID, "attempts", attempts, "error", tr.ErrorDetail)
	} else {
		tr.Status = result.Status
		if !tr.Status.Succeeded() {
			tr.Status = model.DeliverySent
		}
		tr.ProviderMessageID = result.ProviderMessageID
	}

	applied, terr := r.svc.records.Transition(context.WithoutCancel(ctx), rec.ID, r.job.Channel, tr)
	if terr != nil {
		r.log.Error("[dispatch] delivery record not updated", "record_id", rec.ID, "status", tr.Status, "error", terr)
		return
	}
	if !applied {
		r.log.Debug("[dispatch] delivery record already moved on", "record_id", rec.ID)
	}
	prom.IncMessage(string(r.job.Channel), string(r.job.ProviderKind), string(tr.Status))
}

// send makes up to MaxAttempts calls. Permanent errors stop immediately.
// If ctx ends while waiting to retry, send returns errInterrupted.
func (r *jobRun) send(ctx context.Context, msg *providers.Message) (*providers.Result, int, error) {
	var (
		result   *providers.Result
		attempts int
	)
	err := retry.Do(ctx, r.svc.cfg.backoff(), func(ctx context.Context) error {
		attempts++
		res, err := r.attempt(ctx, msg)
		if err != nil {
			if providers.IsPermanent(err) {
				return err
			}
			r.log.Debug("[dispatch] transient failure", "record_id", msg.RecordID, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		result = res
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && err == ctxErr {
			return nil, attempts, errInterrupted
		}
		return nil, attempts, err
	}
	return result, attempts, nil
}

// attempt is one provider call under the provider's timeout. The call is
// detached from ctx so a cancelled job never aborts a send in flight.
func (r *jobRun) attempt(ctx context.Context, msg *providers.Message) (*providers.Result, error) {
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.job.ProviderSnapshot.Timeout())
	defer cancel()

	start := time.Now()
	result, err := r.provider.Send(callCtx, msg)
	prom.ObserveSendDuration(string(r.job.Channel), string(r.job.ProviderKind), time.Since(start).Seconds())
	if err != nil {
		return nil, normalizeSendError(err)
	}
	if result == nil {
		result = &providers.Result{Status: model.DeliverySent}
	}
	return result, nil
}

// variables merges job bindings with the recipient's own. Recipient values
// win; recipient_name is filled from the roster name when not bound.
func (r *jobRun) variables(rec *model.DeliveryRecord) map[string]string {
	vars := make(map[string]string, len(r.job.Variables)+len(rec.Variables)+1)
	for k, v := range r.job.Variables {
		vars[k] = v
	}
	if rec.Name != "" {
		vars["recipient_name"] = rec.Name
	}
	for k, v := range rec.Variables {
		vars[k] = v
	}
	return vars
}

func excerpt(body string) string {
	if utf8.RuneCountInString(body) <= excerptRunes {
		return body
	}
	runes := []rune(body)
	return string(runes[:excerptRunes])
}

func hashBody(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])
}
