package service

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// TransparentGIF is the 43-byte 1x1 transparent pixel served for open
// tracking.
var TransparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80,
	0x00, 0x00, 0x00, 0x00, 0x00, 0xFF, 0xFF, 0xFF, 0x21, 0xF9, 0x04,
	0x01, 0x00, 0x00, 0x00, 0x00, 0x2C, 0x00, 0x00, 0x00, 0x00, 0x01,
	0x00, 0x01, 0x00, 0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3B,
}

// TrackingService rewrites outgoing HTML for click/open tracking and
// records the resulting hits.
type TrackingService struct {
	repo         domain.TrackingRepository
	emailRepo    domain.EmailRepository
	broker       broker.Broker
	trackingBase string
	logger       logger.Logger
}

// NewTrackingService creates the tracking service. trackingBase is the
// public URL prefix clicks and opens resolve against.
func NewTrackingService(repo domain.TrackingRepository, emailRepo domain.EmailRepository, jobBroker broker.Broker, trackingBase string, log logger.Logger) *TrackingService {
	return &TrackingService{
		repo:         repo,
		emailRepo:    emailRepo,
		broker:       jobBroker,
		trackingBase: strings.TrimRight(trackingBase, "/"),
		logger:       log,
	}
}

// OpenTrackingID encodes an email id for the pixel URL.
func OpenTrackingID(emailID uuid.UUID) string {
	return base64.RawURLEncoding.EncodeToString(emailID[:])
}

// DecodeOpenTrackingID reverses OpenTrackingID.
func DecodeOpenTrackingID(encoded string) (uuid.UUID, error) {
	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return uuid.Nil, err
	}
	return uuid.FromBytes(raw)
}

// RewriteHTML replaces every trackable href with a short-code redirect
// and appends the open pixel before </body> (or at document end when
// there is no body element).
func (s *TrackingService) RewriteHTML(ctx context.Context, emailID uuid.UUID, htmlBody string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlBody))
	if err != nil {
		return htmlBody, err
	}

	var rewriteErr error
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		if rewriteErr != nil {
			return
		}
		href, _ := sel.Attr("href")
		if !s.trackable(href) {
			return
		}
		link, err := s.createLink(ctx, emailID, href)
		if err != nil {
			rewriteErr = err
			return
		}
		sel.SetAttr("href", s.trackingBase+"/c/"+link.ShortCode)
	})
	if rewriteErr != nil {
		return htmlBody, rewriteErr
	}

	pixel := `<img src="` + s.trackingBase + "/t/" + OpenTrackingID(emailID) + `/open.gif" width="1" height="1" alt="" style="display:none"/>`
	if doc.Find("body").Length() > 0 {
		doc.Find("body").AppendHtml(pixel)
	}

	rewritten, err := doc.Html()
	if err != nil {
		return htmlBody, err
	}
	if doc.Find("body").Length() == 0 {
		rewritten += pixel
	}
	return rewritten, nil
}

// trackable admits absolute http/https links not already pointing at
// the tracking host.
func (s *TrackingService) trackable(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	return !strings.HasPrefix(href, s.trackingBase)
}

// createLink inserts a tracking link, re-rolling the short code on
// collision up to the cap.
func (s *TrackingService) createLink(ctx context.Context, emailID uuid.UUID, originalURL string) (*domain.TrackingLink, error) {
	for attempt := 0; attempt < domain.ShortCodeMaxRetries; attempt++ {
		code, err := crypto.RandomBase62(domain.ShortCodeLength)
		if err != nil {
			return nil, err
		}
		link := &domain.TrackingLink{
			ID:          uuid.New(),
			EmailID:     emailID,
			ShortCode:   code,
			OriginalURL: originalURL,
			CreatedAt:   time.Now().UTC(),
		}
		err = s.repo.Create(ctx, link)
		if err == nil {
			return link, nil
		}
		if err != domain.ErrShortCodeTaken {
			return nil, err
		}
	}
	return nil, domain.NewError(domain.ErrCodeInternal, "exhausted short code retries")
}

// HandleClick resolves a short code, queues the click event, and
// returns the redirect target.
func (s *TrackingService) HandleClick(ctx context.Context, code, userAgent, ip string) (string, error) {
	link, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		return "", err
	}

	linkID := link.ID
	s.enqueueRecord(ctx, broker.RecordTrackingPayload{
		EmailID:   link.EmailID,
		Type:      string(domain.EventClicked),
		LinkID:    &linkID,
		URL:       link.OriginalURL,
		UserAgent: userAgent,
		IP:        ip,
		Timestamp: time.Now().UTC(),
	})
	return link.OriginalURL, nil
}

// HandleOpen queues an open event for a pixel hit. The pixel is served
// regardless; an undecodable id records nothing.
func (s *TrackingService) HandleOpen(ctx context.Context, encodedID, userAgent, ip string) {
	emailID, err := DecodeOpenTrackingID(encodedID)
	if err != nil {
		return
	}
	s.enqueueRecord(ctx, broker.RecordTrackingPayload{
		EmailID:   emailID,
		Type:      string(domain.EventOpened),
		UserAgent: userAgent,
		IP:        ip,
		Timestamp: time.Now().UTC(),
	})
}

func (s *TrackingService) enqueueRecord(ctx context.Context, payload broker.RecordTrackingPayload) {
	job, err := broker.NewJob(broker.JobRecordTracking, domain.DefaultQueuePriority, payload)
	if err == nil {
		err = s.broker.Enqueue(ctx, broker.LaneTracking, job, 0)
	}
	if err != nil {
		s.logger.WithFields(map[string]interface{}{
			"email_id": payload.EmailID.String(),
			"type":     payload.Type,
			"error":    err.Error(),
		}).Error("Failed to enqueue tracking event")
	}
}

// Record is the worker-side handler for a tracking job: append the raw
// event, bump click counts, and feed the analytics lane.
func (s *TrackingService) Record(ctx context.Context, payload *broker.RecordTrackingPayload) error {
	email, err := s.emailRepo.GetAny(ctx, payload.EmailID)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil
		}
		return err
	}

	data := map[string]interface{}{
		"userAgent": payload.UserAgent,
		"ip":        payload.IP,
	}
	if payload.URL != "" {
		data["url"] = payload.URL
	}
	event := &domain.EmailEvent{
		ID:        uuid.New(),
		EmailID:   payload.EmailID,
		Type:      domain.EventType(payload.Type),
		Data:      data,
		CreatedAt: payload.Timestamp,
	}
	if err := s.emailRepo.InsertEvent(ctx, event); err != nil {
		return err
	}

	if payload.LinkID != nil {
		if err := s.repo.IncrementClicks(ctx, *payload.LinkID); err != nil {
			s.logger.WithFields(map[string]interface{}{
				"link_id": payload.LinkID.String(),
				"error":   err.Error(),
			}).Error("Failed to increment click count")
		}
	}

	statsJob, err := broker.NewJob(broker.JobAggregateStats, domain.DefaultQueuePriority, broker.AggregateStatsPayload{
		AppID:     email.AppID,
		EmailID:   payload.EmailID,
		EventType: payload.Type,
		Timestamp: payload.Timestamp,
	})
	if err == nil {
		err = s.broker.Enqueue(ctx, broker.LaneAnalytics, statsJob, 0)
	}
	if err != nil {
		s.logger.WithField("error", err.Error()).Error("Failed to enqueue stats aggregation")
	}
	return nil
}
