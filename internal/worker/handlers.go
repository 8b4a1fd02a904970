package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mailqueue/mailqueue/internal/broker"
)

// Handlers for the non-email lanes. Payload decode failures drop the
// job: a body that never parsed will never parse.

func (w *Worker) handleDeliverWebhook(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.DeliverWebhookPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping webhook job with bad payload: " + err.Error())
		return nil
	}
	return w.webhooks.Deliver(ctx, payload.DeliveryID)
}

func (w *Worker) handleRecordTracking(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.RecordTrackingPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping tracking job with bad payload: " + err.Error())
		return nil
	}
	if err := w.tracking.Record(ctx, &payload); err != nil {
		return err
	}

	// Engagement events fan out to the app's webhook as well.
	email, err := w.emailRepo.GetAny(ctx, payload.EmailID)
	if err != nil {
		return nil
	}
	eventData := map[string]interface{}{"userAgent": payload.UserAgent, "ip": payload.IP}
	switch payload.Type {
	case "opened":
		w.webhooks.Emit(ctx, email, "email.opened", eventData)
	case "clicked":
		eventData["url"] = payload.URL
		w.webhooks.Emit(ctx, email, "email.clicked", eventData)
	}
	return nil
}

func (w *Worker) handleAggregateStats(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.AggregateStatsPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping stats job with bad payload: " + err.Error())
		return nil
	}
	return w.analytics.Aggregate(ctx, &payload)
}

func (w *Worker) handleUpdateReputation(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.UpdateReputationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping reputation job with bad payload: " + err.Error())
		return nil
	}
	return w.reputation.Recompute(ctx, payload.AppID)
}

func (w *Worker) handleProcessBounce(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.ProcessBouncePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping bounce job with bad payload: " + err.Error())
		return nil
	}
	return w.bounces.ProcessBounce(ctx, &payload)
}

func (w *Worker) handleProcessComplaint(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.ProcessComplaintPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping complaint job with bad payload: " + err.Error())
		return nil
	}
	return w.bounces.ProcessComplaint(ctx, &payload)
}

func (w *Worker) handleProcessDelivery(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.ProcessDeliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping delivery job with bad payload: " + err.Error())
		return nil
	}
	if payload.Timestamp.IsZero() {
		payload.Timestamp = time.Now().UTC()
	}
	return w.bounces.ProcessDelivery(ctx, &payload)
}
