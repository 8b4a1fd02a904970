package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/emailerror"
)

// throttleDelay is how long a send is deferred while the app is
// reputation-throttled.
const throttleDelay = 5 * time.Minute

// handleSendEmail runs the dispatch protocol for one email: guard,
// rate limit, reputation gate, suppression re-check, body preparation,
// relay selection, send, and failure classification.
func (w *Worker) handleSendEmail(ctx context.Context, job *broker.LeasedJob) error {
	var payload broker.SendEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.logger.WithField("job_id", job.ID).Error("Dropping send job with bad payload: " + err.Error())
		return nil
	}

	start := time.Now()

	email, err := w.emailRepo.GetAny(ctx, payload.EmailID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}
	if email.Status != domain.EmailStatusQueued && email.Status != domain.EmailStatusProcessing {
		return nil
	}

	queue, err := w.queueRepo.GetByID(ctx, email.AppID, email.QueueID)
	if err != nil {
		if domain.IsNotFound(err) {
			return w.failEmail(ctx, email, queue, "queue_deleted", nil)
		}
		return err
	}
	app, err := w.appRepo.GetByID(ctx, email.AppID)
	if err != nil {
		return err
	}

	ok, err := w.emailRepo.UpdateStatus(ctx, email.ID,
		[]domain.EmailStatus{domain.EmailStatusQueued, domain.EmailStatusProcessing},
		domain.EmailStatusProcessing,
	)
	if err != nil {
		return err
	}
	if !ok {
		// A peer progressed the state; nothing left to do.
		return nil
	}
	email.Status = domain.EmailStatusProcessing
	w.insertEvent(ctx, email.ID, domain.EventProcessing, nil)

	// Submission already consumed the counters; dispatch only peeks.
	if delay, denied := w.checkRateLimits(ctx, app, queue); denied {
		return reschedule(delay)
	}

	throttled, err := w.reputation.IsThrottled(ctx, email.AppID)
	if err != nil {
		return err
	}
	if throttled {
		w.logger.WithFields(map[string]interface{}{
			"email_id": email.ID.String(),
			"app_id":   email.AppID.String(),
		}).Info("Deferring send for throttled app")
		return reschedule(throttleDelay)
	}

	if handled, err := w.checkSuppression(ctx, email, queue); handled || err != nil {
		return err
	}

	msg, renderErr := w.buildMessage(ctx, email, queue)
	if renderErr != nil {
		return w.failEmail(ctx, email, queue, renderErr.Error(), nil)
	}

	smtpConfig, err := w.resolveSMTPConfig(ctx, email.AppID, queue)
	if err != nil {
		return err
	}
	if smtpConfig == nil {
		return w.failEmail(ctx, email, queue, "no_smtp_config", nil)
	}

	messageID, sendErr := w.send(ctx, app, smtpConfig, msg)
	w.metrics.ProcessingDuration.WithLabelValues(email.AppID.String(), queue.Name).
		Observe(time.Since(start).Seconds())

	if sendErr != nil {
		return w.handleSendFailure(ctx, email, queue, sendErr)
	}

	if _, err := w.emailRepo.MarkSent(ctx, email.ID, &messageID, time.Now().UTC()); err != nil {
		return err
	}
	email.Status = domain.EmailStatusSent
	email.MessageID = &messageID
	w.insertEvent(ctx, email.ID, domain.EventSent, map[string]interface{}{"messageId": messageID})
	w.webhooks.Emit(ctx, email, domain.WebhookEventSent, nil)
	w.enqueueStats(ctx, email.AppID, email.ID, string(domain.EventSent))
	w.metrics.EmailsProcessed.WithLabelValues(email.AppID.String(), queue.Name, "sent").Inc()
	return nil
}

// checkRateLimits peeks the queue and app-daily tiers; a denial
// returns the earliest reset as the reschedule delay.
func (w *Worker) checkRateLimits(ctx context.Context, app *domain.App, queue *domain.Queue) (time.Duration, bool) {
	now := time.Now()

	queueResult, err := w.rateLimits.PeekQueue(ctx, queue.ID, queue.RateLimit)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("Queue rate limit peek failed; allowing send")
		return 0, false
	}
	if !queueResult.Allowed {
		return queueResult.RetryAfter(now), true
	}

	dailyResult, err := w.rateLimits.PeekAppDaily(ctx, app.ID, app.DailyLimit)
	if err != nil {
		w.logger.WithField("error", err.Error()).Error("Daily rate limit peek failed; allowing send")
		return 0, false
	}
	if !dailyResult.Allowed {
		return dailyResult.RetryAfter(now), true
	}
	return 0, false
}

// checkSuppression re-checks every recipient at dispatch time. A hit
// fails the email as a hard bounce and records the source.
func (w *Worker) checkSuppression(ctx context.Context, email *domain.Email, queue *domain.Queue) (bool, error) {
	for _, address := range email.Recipients() {
		entry, err := w.suppressionRepo.Get(ctx, email.AppID, address)
		if err != nil {
			if domain.IsNotFound(err) {
				continue
			}
			return false, err
		}

		lastError := "recipient_suppressed:" + address
		ok, err := w.emailRepo.MarkFailed(ctx, email.ID,
			[]domain.EmailStatus{domain.EmailStatusProcessing}, lastError)
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		email.Status = domain.EmailStatusFailed

		eventData := map[string]interface{}{
			"bounceType":    "hard",
			"bounceSubType": "suppressed",
			"address":       address,
			"reason":        entry.Reason,
		}
		w.insertEvent(ctx, email.ID, domain.EventBounced, eventData)

		if entry.AppID != nil {
			if err := w.suppressionRepo.UpdateSource(ctx, *entry.AppID, address, email.ID); err != nil {
				w.logger.WithField("error", err.Error()).Debug("Failed to update suppression source")
			}
		}

		w.webhooks.Emit(ctx, email, domain.WebhookEventBounced, eventData)
		w.enqueueStats(ctx, email.AppID, email.ID, string(domain.EventBounced))
		w.metrics.EmailsProcessed.WithLabelValues(email.AppID.String(), queue.Name, "failed").Inc()
		return true, nil
	}
	return false, nil
}

// buildMessage renders personalization and tracking into a wire-ready
// message. Render failures are permanent.
func (w *Worker) buildMessage(ctx context.Context, email *domain.Email, queue *domain.Queue) (*mail.Msg, error) {
	subject := email.Subject
	htmlBody := ""
	if email.HTMLBody != nil {
		htmlBody = *email.HTMLBody
	}
	textBody := ""
	if email.TextBody != nil {
		textBody = *email.TextBody
	}

	if len(email.Personalization) > 0 {
		var err error
		if subject, err = renderTemplate(subject, email.Personalization, email.Metadata); err != nil {
			return nil, fmt.Errorf("template_render_failed")
		}
		if htmlBody != "" {
			if htmlBody, err = renderTemplate(htmlBody, email.Personalization, email.Metadata); err != nil {
				return nil, fmt.Errorf("template_render_failed")
			}
		}
		if textBody != "" {
			if textBody, err = renderTemplate(textBody, email.Personalization, email.Metadata); err != nil {
				return nil, fmt.Errorf("template_render_failed")
			}
		}
	}

	if queue.Settings.TrackingEnabled && htmlBody != "" {
		rewritten, err := w.tracking.RewriteHTML(ctx, email.ID, htmlBody)
		if err != nil {
			w.logger.WithFields(map[string]interface{}{
				"email_id": email.ID.String(),
				"error":    err.Error(),
			}).Error("Tracking rewrite failed; sending unrewritten body")
		} else {
			htmlBody = rewritten
		}
	}

	msg := mail.NewMsg()
	if err := msg.FromFormat(email.From.Name, email.From.Email); err != nil {
		return nil, fmt.Errorf("invalid_sender")
	}
	for _, addr := range email.To {
		if err := msg.AddToFormat(addr.Name, addr.Email); err != nil {
			return nil, fmt.Errorf("invalid_recipient")
		}
	}
	for _, addr := range email.CC {
		if err := msg.AddCcFormat(addr.Name, addr.Email); err != nil {
			return nil, fmt.Errorf("invalid_recipient")
		}
	}
	for _, addr := range email.BCC {
		if err := msg.AddBccFormat(addr.Name, addr.Email); err != nil {
			return nil, fmt.Errorf("invalid_recipient")
		}
	}
	if email.ReplyTo != nil {
		if err := msg.ReplyToFormat(email.ReplyTo.Name, email.ReplyTo.Email); err != nil {
			return nil, fmt.Errorf("invalid_reply_to")
		}
	}
	msg.Subject(subject)
	for key, value := range email.Headers {
		msg.SetGenHeader(mail.Header(key), value)
	}

	switch {
	case htmlBody != "" && textBody != "":
		msg.SetBodyString(mail.TypeTextHTML, htmlBody)
		msg.AddAlternativeString(mail.TypeTextPlain, textBody)
	case htmlBody != "":
		msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	default:
		msg.SetBodyString(mail.TypeTextPlain, textBody)
	}
	return msg, nil
}

// resolveSMTPConfig picks the queue's bound relay, else the app's
// active one. nil means no usable config.
func (w *Worker) resolveSMTPConfig(ctx context.Context, appID uuid.UUID, queue *domain.Queue) (*domain.SMTPConfig, error) {
	if queue.SMTPConfigID != nil {
		config, err := w.smtpRepo.GetByID(ctx, appID, *queue.SMTPConfigID)
		if err != nil {
			if domain.IsNotFound(err) {
				return nil, nil
			}
			return nil, err
		}
		return config, nil
	}

	config, err := w.smtpRepo.GetActive(ctx, appID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return config, nil
}

// send pushes the message through the pool, or fakes it for sandbox
// apps. Returns the message id recorded on the email.
func (w *Worker) send(ctx context.Context, app *domain.App, config *domain.SMTPConfig, msg *mail.Msg) (string, error) {
	if app.Sandbox {
		return fmt.Sprintf("<%s@sandbox.mailqueue.local>", uuid.New().String()), nil
	}

	messageID := fmt.Sprintf("%s@%s", uuid.New().String(), config.Host)
	msg.SetMessageIDWithValue(messageID)

	start := time.Now()
	err := w.smtpPool.Send(ctx, config, msg)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		w.metrics.SMTPSendDuration.WithLabelValues(config.Host, "error").Observe(elapsed)
		classified := w.classifier.Classify(err)
		w.metrics.SMTPErrors.WithLabelValues(config.Host, classified.Reason).Inc()
		return "", err
	}
	w.metrics.SMTPSendDuration.WithLabelValues(config.Host, "success").Observe(elapsed)
	return "<" + messageID + ">", nil
}

// handleSendFailure is the retry controller: permanent failures go
// terminal, transient ones re-queue with the queue's delay vector
// until retries are exhausted.
func (w *Worker) handleSendFailure(ctx context.Context, email *domain.Email, queue *domain.Queue, sendErr error) error {
	classified := w.classifier.Classify(sendErr)

	permanent := classified.Permanent
	if !permanent && email.RetryCount+1 > queue.MaxRetries {
		permanent = true
	}

	if permanent {
		if classified.HardBounce {
			return w.hardBounceEmail(ctx, email, queue, classified)
		}
		eventData := map[string]interface{}{"error": classified.Error()}
		if dsn := emailerror.ExtractDSN(classified.Error()); dsn != nil {
			eventData["bounceType"] = dsn.BounceType
			if dsn.BounceSubType != "" {
				eventData["bounceSubType"] = dsn.BounceSubType
			}
		}
		return w.failEmail(ctx, email, queue, classified.Error(), eventData)
	}

	nextRetry := email.RetryCount + 1
	delay := queue.RetryDelay(email.RetryCount)
	ok, err := w.emailRepo.RequeueForRetry(ctx, email.ID, nextRetry, time.Now().UTC().Add(delay))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	w.insertEvent(ctx, email.ID, domain.EventQueued, map[string]interface{}{
		"retry":   true,
		"attempt": nextRetry,
		"error":   classified.Error(),
	})
	w.metrics.EmailRetries.WithLabelValues(email.AppID.String(), queue.Name).Inc()

	w.enqueueSend(ctx, email, queue, delay)

	w.logger.WithFields(map[string]interface{}{
		"email_id": email.ID.String(),
		"attempt":  nextRetry,
		"delay":    delay.String(),
	}).Info("Transient send failure; retry scheduled")
	return nil
}

// hardBounceEmail handles a relay rejection classified as a hard
// bounce: suppress the bounced recipients, record the bounce event,
// emit the bounce webhook, and go terminal.
func (w *Worker) hardBounceEmail(ctx context.Context, email *domain.Email, queue *domain.Queue, classified *emailerror.ClassifiedError) error {
	bounceSubType := "permanent_failure"
	recipients := email.Recipients()
	if dsn := emailerror.ExtractDSN(classified.Error()); dsn != nil {
		if dsn.BounceSubType != "" {
			bounceSubType = dsn.BounceSubType
		}
		if len(dsn.Recipients) > 0 {
			recipients = dsn.Recipients
		}
	}

	ok, err := w.emailRepo.MarkFailed(ctx, email.ID,
		[]domain.EmailStatus{domain.EmailStatusProcessing}, classified.Error())
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	email.Status = domain.EmailStatusFailed

	now := time.Now().UTC()
	for _, address := range recipients {
		appID := email.AppID
		entry := &domain.SuppressionEntry{
			ID:            uuid.New(),
			AppID:         &appID,
			EmailAddress:  domain.NormalizeEmailAddress(address),
			Reason:        domain.SuppressionReasonHardBounce,
			SourceEmailID: &email.ID,
			CreatedAt:     now,
		}
		if _, err := w.suppressionRepo.Upsert(ctx, entry); err != nil {
			w.logger.WithFields(map[string]interface{}{
				"email_id": email.ID.String(),
				"address":  entry.EmailAddress,
				"error":    err.Error(),
			}).Error("Failed to suppress hard-bounced recipient")
		}
	}

	eventData := map[string]interface{}{
		"bounceType":    "hard",
		"bounceSubType": bounceSubType,
		"error":         classified.Error(),
	}
	w.insertEvent(ctx, email.ID, domain.EventBounced, eventData)
	w.webhooks.Emit(ctx, email, domain.WebhookEventBounced, eventData)
	w.enqueueStats(ctx, email.AppID, email.ID, string(domain.EventBounced))
	w.metrics.EmailsProcessed.WithLabelValues(email.AppID.String(), queue.Name, "failed").Inc()
	return nil
}

// failEmail marks the email failed and emits the terminal event,
// webhook, and metrics.
func (w *Worker) failEmail(ctx context.Context, email *domain.Email, queue *domain.Queue, lastError string, eventData map[string]interface{}) error {
	ok, err := w.emailRepo.MarkFailed(ctx, email.ID,
		[]domain.EmailStatus{domain.EmailStatusQueued, domain.EmailStatusProcessing}, lastError)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	email.Status = domain.EmailStatusFailed

	if eventData == nil {
		eventData = map[string]interface{}{}
	}
	eventData["lastError"] = lastError
	w.insertEvent(ctx, email.ID, domain.EventFailed, eventData)
	w.webhooks.Emit(ctx, email, domain.WebhookEventFailed, eventData)
	w.enqueueStats(ctx, email.AppID, email.ID, string(domain.EventFailed))

	queueName := ""
	if queue != nil {
		queueName = queue.Name
	}
	w.metrics.EmailsProcessed.WithLabelValues(email.AppID.String(), queueName, "failed").Inc()
	return nil
}

// enqueueSend re-enqueues a send job after delay.
func (w *Worker) enqueueSend(ctx context.Context, email *domain.Email, queue *domain.Queue, delay time.Duration) {
	job, err := broker.NewJob(broker.JobSendEmail, queue.Priority, broker.SendEmailPayload{
		EmailID:  email.ID,
		AppID:    email.AppID,
		QueueID:  queue.ID,
		Priority: queue.Priority,
	})
	if err == nil {
		err = w.broker.Enqueue(ctx, broker.LaneEmail, job, delay)
	}
	if err != nil {
		w.logger.WithFields(map[string]interface{}{
			"email_id": email.ID.String(),
			"error":    err.Error(),
		}).Error("Failed to re-enqueue send job; sweep will pick it up")
	}
}
