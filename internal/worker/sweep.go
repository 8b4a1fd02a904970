package worker

import (
	"context"
	"time"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
)

// dueQueuedGrace keeps the sweep from racing a submission whose
// enqueue is still in flight.
const dueQueuedGrace = 2 * time.Minute

// runSweep is the crash backstop: re-enqueue queued emails whose send
// job went missing, recover emails stuck in processing past the lease
// window, and re-arm due webhook deliveries.
func (w *Worker) runSweep(ctx context.Context) {
	w.sweepDueQueued(ctx)
	w.sweepStaleProcessing(ctx)
	if err := w.webhooks.Sweep(ctx, w.cfg.SweepBatch); err != nil {
		w.logger.WithField("error", err.Error()).Error("Webhook sweep failed")
	}
}

// sweepDueQueued re-enqueues queued emails due for dispatch that have
// not been touched within the grace window. Duplicate jobs are
// harmless: the dispatch guard acks them as no-ops.
func (w *Worker) sweepDueQueued(ctx context.Context) {
	emails, err := w.emailRepo.ListDueQueued(ctx, time.Now().UTC().Add(-dueQueuedGrace), w.cfg.SweepBatch)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("Due-queued sweep failed")
		return
	}
	for _, email := range emails {
		queue, err := w.queueRepo.GetByID(ctx, email.AppID, email.QueueID)
		if err != nil {
			continue
		}
		if queue.Paused {
			continue
		}
		w.enqueueSend(ctx, email, queue, 0)
	}
	if len(emails) > 0 {
		w.logger.WithField("count", len(emails)).Info("Re-enqueued due queued emails")
	}
}

// sweepStaleProcessing requeues emails stuck in processing beyond
// twice the lease window, consuming a retry so a crash loop cannot
// spin forever.
func (w *Worker) sweepStaleProcessing(ctx context.Context) {
	staleBefore := time.Now().UTC().Add(-2 * w.cfg.Visibility)
	emails, err := w.emailRepo.ListStaleProcessing(ctx, staleBefore, w.cfg.SweepBatch)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("Stale-processing sweep failed")
		return
	}

	for _, email := range emails {
		queue, err := w.queueRepo.GetByID(ctx, email.AppID, email.QueueID)
		if err != nil {
			continue
		}

		if email.RetryCount+1 > queue.MaxRetries {
			if err := w.failEmail(ctx, email, queue, "stuck_in_processing", nil); err != nil {
				w.logger.WithFields(map[string]interface{}{
					"email_id": email.ID.String(),
					"error":    err.Error(),
				}).Error("Failed to fail stuck email")
			}
			continue
		}

		ok, err := w.emailRepo.RequeueForRetry(ctx, email.ID, email.RetryCount+1, time.Now().UTC())
		if err != nil || !ok {
			continue
		}
		w.insertEvent(ctx, email.ID, domain.EventQueued, map[string]interface{}{
			"retry":     true,
			"recovered": true,
			"attempt":   email.RetryCount + 1,
		})
		w.enqueueSend(ctx, email, queue, 0)
	}
	if len(emails) > 0 {
		w.logger.WithField("count", len(emails)).Warn("Recovered emails stuck in processing")
	}
}

// enqueueReputationJobs fans one recompute job per recently-active app
// onto the analytics lane, so the work shards across processes.
func (w *Worker) enqueueReputationJobs(ctx context.Context) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	appIDs, err := w.emailRepo.ActiveAppIDs(ctx, since)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("Failed to list active apps for reputation")
		return
	}
	for _, appID := range appIDs {
		job, err := broker.NewJob(broker.JobUpdateReputation, domain.DefaultQueuePriority, broker.UpdateReputationPayload{AppID: appID})
		if err == nil {
			err = w.broker.Enqueue(ctx, broker.LaneAnalytics, job, 0)
		}
		if err != nil {
			w.logger.WithFields(map[string]interface{}{
				"app_id": appID.String(),
				"error":  err.Error(),
			}).Error("Failed to enqueue reputation job")
		}
	}
}
