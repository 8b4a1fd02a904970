package http

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mailqueue/mailqueue/internal/broker"
	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/internal/service"
	"github.com/mailqueue/mailqueue/internal/smtppool"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
	"github.com/mailqueue/mailqueue/pkg/ratelimiter"
)

const apiTestToken = "mq_live_abcdefghij_0123456789012345678901234567890123456789"

type apiFixture struct {
	app   *domain.App
	key   *domain.APIKey
	queue *domain.Queue

	emailRepo       *fakeEmailRepo
	queueRepo       *fakeQueueRepo
	appRepo         *fakeAppRepo
	apiKeyRepo      *fakeAPIKeyRepo
	suppressionRepo *fakeSuppressionRepo
	smtpRepo        *fakeSMTPConfigRepo
	analyticsRepo   *fakeAnalyticsRepo
	reputationRepo  *fakeReputationRepo
	scheduledRepo   *fakeScheduledJobRepo
	trackingRepo    *fakeTrackingRepo
	jobs            *fakeBroker

	router http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := &apiFixture{
		emailRepo:       &fakeEmailRepo{},
		queueRepo:       &fakeQueueRepo{},
		appRepo:         &fakeAppRepo{},
		apiKeyRepo:      &fakeAPIKeyRepo{},
		suppressionRepo: &fakeSuppressionRepo{},
		smtpRepo:        &fakeSMTPConfigRepo{},
		analyticsRepo:   &fakeAnalyticsRepo{},
		reputationRepo:  &fakeReputationRepo{},
		scheduledRepo:   &fakeScheduledJobRepo{},
		trackingRepo:    &fakeTrackingRepo{},
		jobs:            &fakeBroker{},
	}

	f.app = &domain.App{ID: uuid.New(), Name: "acme", Active: true}
	f.key = &domain.APIKey{
		ID:        uuid.New(),
		AppID:     f.app.ID,
		Name:      "test key",
		KeyPrefix: "mq_live_abcdefghij",
		KeyHash:   crypto.Sha256Hex(apiTestToken),
		Scopes:    []string{domain.ScopeAdmin},
		Active:    true,
	}
	f.queue = &domain.Queue{
		ID:          uuid.New(),
		AppID:       f.app.ID,
		Name:        "transactional",
		Priority:    domain.DefaultQueuePriority,
		MaxRetries:  domain.DefaultQueueMaxRetries,
		RetryDelays: domain.DefaultRetryDelays,
	}

	f.apiKeyRepo.GetByHashFn = func(ctx context.Context, keyHash string) (*domain.APIKey, error) {
		if keyHash == f.key.KeyHash {
			return f.key, nil
		}
		return nil, notFound("api key")
	}
	f.appRepo.GetByIDFn = func(ctx context.Context, id uuid.UUID) (*domain.App, error) {
		return f.app, nil
	}
	f.queueRepo.GetByNameFn = func(ctx context.Context, appID uuid.UUID, name string) (*domain.Queue, error) {
		if appID == f.app.ID && name == f.queue.Name {
			return f.queue, nil
		}
		return nil, notFound("queue")
	}

	log := logger.NewTestLogger(t)
	rateLimits := service.NewRateLimitService(ratelimiter.New(client), 0)
	reputation := service.NewReputationService(f.emailRepo, f.reputationRepo, log)
	submission := service.NewSubmissionService(f.emailRepo, f.queueRepo, f.appRepo, f.suppressionRepo, rateLimits, f.jobs, log)

	pool := smtppool.New("api-test-secret", log)
	t.Cleanup(pool.Close)

	f.router = NewRouter(RouterDeps{
		Auth:        service.NewAuthService(f.apiKeyRepo, f.appRepo, log),
		RateLimits:  rateLimits,
		Submission:  submission,
		Queues:      service.NewQueueService(f.queueRepo, f.smtpRepo, log),
		APIKeys:     service.NewAPIKeyService(f.apiKeyRepo, log),
		Suppression: service.NewSuppressionService(f.suppressionRepo, log),
		SMTPConfigs: service.NewSMTPConfigService(f.smtpRepo, pool, "api-test-secret", log),
		Analytics:   service.NewAnalyticsService(f.analyticsRepo, reputation, client, log),
		Scheduler:   service.NewSchedulerService(f.scheduledRepo, f.queueRepo, submission, log),
		Tracking:    service.NewTrackingService(f.trackingRepo, f.emailRepo, f.jobs, "https://track.example.com", log),
		Redis:       client,
		Logger:      log,
	})
	return f
}

// do issues an authenticated request against the router.
func (f *apiFixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "203.0.113.5:4711"
	req.Header.Set("Authorization", "Bearer "+apiTestToken)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

// doAnon issues a request without credentials.
func (f *apiFixture) doAnon(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = "203.0.113.5:4711"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

const submitBody = `{
	"queue": "transactional",
	"from": {"email": "noreply@acme.test", "name": "Acme"},
	"to": [{"email": "user@example.com"}],
	"subject": "Welcome",
	"text": "Hello there"
}`

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.doAnon(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, gjson.Get(body, "success").Bool())
	assert.Equal(t, "healthy", gjson.Get(body, "data.status").String())
}

func TestMissingTokenRejected(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.doAnon(t, http.MethodGet, "/v1/emails")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := rec.Body.String()
	assert.False(t, gjson.Get(body, "success").Bool())
	assert.Equal(t, domain.ErrCodeUnauthorized, gjson.Get(body, "error.code").String())
}

func TestScopeEnforcement(t *testing.T) {
	f := newAPIFixture(t)
	f.key.Scopes = []string{domain.ScopeEmailRead}

	rec := f.do(t, http.MethodPost, "/v1/emails", submitBody, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, domain.ErrCodeForbidden, gjson.Get(rec.Body.String(), "error.code").String())

	rec = f.do(t, http.MethodGet, "/v1/emails", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitEmail(t *testing.T) {
	f := newAPIFixture(t)

	var created *domain.Email
	f.emailRepo.CreateWithEventFn = func(ctx context.Context, email *domain.Email, event *domain.EmailEvent) error {
		created = email
		return nil
	}

	rec := f.do(t, http.MethodPost, "/v1/emails", submitBody, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	body := rec.Body.String()
	assert.True(t, gjson.Get(body, "success").Bool())
	assert.Equal(t, string(domain.EmailStatusQueued), gjson.Get(body, "data.status").String())

	id, err := uuid.Parse(gjson.Get(body, "data.id").String())
	require.NoError(t, err)
	require.NotNil(t, created)
	assert.Equal(t, created.ID, id)

	require.Len(t, f.jobs.jobs, 1)
	assert.Equal(t, broker.LaneEmail, f.jobs.jobs[0].Lane)
	assert.Equal(t, broker.JobSendEmail, f.jobs.jobs[0].Job.Type)
}

func TestSubmitValidationError(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/emails",
		`{"queue": "transactional", "from": {"email": "noreply@acme.test"}, "subject": "x"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, domain.ErrCodeValidation, gjson.Get(body, "error.code").String())
	assert.NotEmpty(t, gjson.Get(body, "error.details.errors").Array())
}

func TestSubmitUnknownQueue(t *testing.T) {
	f := newAPIFixture(t)

	body := strings.Replace(submitBody, "transactional", "no-such-queue", 1)
	rec := f.do(t, http.MethodPost, "/v1/emails", body, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, domain.ErrCodeQueueNotFound, gjson.Get(rec.Body.String(), "error.code").String())
}

func TestSubmitPausedQueueMapsTo503(t *testing.T) {
	f := newAPIFixture(t)
	f.queue.Paused = true

	rec := f.do(t, http.MethodPost, "/v1/emails", submitBody, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, domain.ErrCodeQueuePaused, gjson.Get(rec.Body.String(), "error.code").String())
}

func TestIdempotentReplay(t *testing.T) {
	f := newAPIFixture(t)

	creates := 0
	f.emailRepo.CreateWithEventFn = func(ctx context.Context, email *domain.Email, event *domain.EmailEvent) error {
		creates++
		return nil
	}

	headers := map[string]string{"Idempotency-Key": "order-42"}
	first := f.do(t, http.MethodPost, "/v1/emails", submitBody, headers)
	require.Equal(t, http.StatusCreated, first.Code)
	assert.Empty(t, first.Header().Get("X-Idempotent-Replay"))

	second := f.do(t, http.MethodPost, "/v1/emails", submitBody, headers)
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, "true", second.Header().Get("X-Idempotent-Replay"))
	assert.Equal(t, first.Body.String(), second.Body.String(), "the replay returns the cached body verbatim")
	assert.Equal(t, 1, creates, "the handler runs once")
}

func TestRateLimitHeadersAndDenial(t *testing.T) {
	f := newAPIFixture(t)
	limit := int64(2)
	f.key.RateLimit = &limit

	rec := f.do(t, http.MethodGet, "/v1/emails", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))

	f.do(t, http.MethodGet, "/v1/emails", "", nil)
	rec = f.do(t, http.MethodGet, "/v1/emails", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Equal(t, domain.ErrCodeRateLimitExceeded, gjson.Get(rec.Body.String(), "error.code").String())
}

func TestGetEmail(t *testing.T) {
	f := newAPIFixture(t)

	email := &domain.Email{
		ID:      uuid.New(),
		AppID:   f.app.ID,
		QueueID: f.queue.ID,
		Subject: "Welcome",
		Status:  domain.EmailStatusSent,
	}
	f.emailRepo.GetByIDFn = func(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error) {
		if appID == f.app.ID && id == email.ID {
			return email, nil
		}
		return nil, notFound("email")
	}

	rec := f.do(t, http.MethodGet, "/v1/emails/"+email.ID.String(), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Welcome", gjson.Get(rec.Body.String(), "data.subject").String())

	rec = f.do(t, http.MethodGet, "/v1/emails/"+uuid.New().String(), "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/emails/not-a-uuid", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEmailsPagination(t *testing.T) {
	f := newAPIFixture(t)

	f.emailRepo.ListFn = func(ctx context.Context, appID uuid.UUID, filter domain.EmailListFilter) ([]*domain.Email, int64, error) {
		assert.Equal(t, 10, filter.Limit)
		assert.Equal(t, 20, filter.Offset)
		return []*domain.Email{{ID: uuid.New(), AppID: appID}}, 31, nil
	}

	rec := f.do(t, http.MethodGet, "/v1/emails?limit=10&offset=20", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, int64(31), gjson.Get(body, "data.pagination.total").Int())
	assert.True(t, gjson.Get(body, "data.pagination.hasMore").Bool())
}

func TestCancelEmail(t *testing.T) {
	f := newAPIFixture(t)

	email := &domain.Email{ID: uuid.New(), AppID: f.app.ID, QueueID: f.queue.ID, Status: domain.EmailStatusQueued}
	f.emailRepo.GetByIDFn = func(ctx context.Context, appID, id uuid.UUID) (*domain.Email, error) {
		return email, nil
	}

	rec := f.do(t, http.MethodDelete, "/v1/emails/"+email.ID.String(), "", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestCreateQueueEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/queues", `{"name": "bulk"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := rec.Body.String()
	assert.Equal(t, "bulk", gjson.Get(body, "data.name").String())
	assert.Equal(t, int64(domain.DefaultQueuePriority), gjson.Get(body, "data.priority").Int())
}

func TestQueueRoutesRequireManageScope(t *testing.T) {
	f := newAPIFixture(t)
	f.key.Scopes = []string{domain.ScopeEmailSend, domain.ScopeEmailRead}

	rec := f.do(t, http.MethodPost, "/v1/queues", `{"name": "bulk"}`, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestAPIKeyCreateEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/v1/api-keys",
		`{"name": "ci", "scopes": ["email:send"]}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	body := rec.Body.String()
	assert.True(t, strings.HasPrefix(gjson.Get(body, "data.key").String(), "mq_live_"),
		"the plaintext secret is returned exactly once, at create time")
}

func TestSuppressionEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	var upserted *domain.SuppressionEntry
	f.suppressionRepo.UpsertFn = func(ctx context.Context, entry *domain.SuppressionEntry) (bool, error) {
		upserted = entry
		return true, nil
	}

	rec := f.do(t, http.MethodPost, "/v1/suppression",
		`{"emailAddress": "Bounced@Example.COM", "reason": "manual"}`, nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.NotNil(t, upserted)
	assert.Equal(t, "bounced@example.com", upserted.EmailAddress)

	entry := &domain.SuppressionEntry{
		AppID:        &f.app.ID,
		EmailAddress: "bounced@example.com",
		Reason:       domain.SuppressionReasonManual,
		CreatedAt:    time.Now().UTC(),
	}
	f.suppressionRepo.GetFn = func(ctx context.Context, appID uuid.UUID, address string) (*domain.SuppressionEntry, error) {
		if address == entry.EmailAddress {
			return entry, nil
		}
		return nil, notFound("suppression entry")
	}

	rec = f.do(t, http.MethodGet, "/v1/suppression/check?email=bounced@example.com", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, gjson.Get(rec.Body.String(), "data.isSuppressed").Bool())
}

func TestAnalyticsOverviewEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	f.analyticsRepo.TotalsFn = func(ctx context.Context, appID uuid.UUID, from, to time.Time) (map[domain.EventType]int64, error) {
		return map[domain.EventType]int64{domain.EventSent: 7}, nil
	}

	rec := f.do(t, http.MethodGet, "/v1/analytics/overview", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(7), gjson.Get(rec.Body.String(), "data.sent").Int())
}

func TestTrackingOpenAlwaysServesPixel(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.doAnon(t, http.MethodGet, "/t/garbage-id/open.gif")
	assert.Equal(t, http.StatusOK, rec.Code, "a broken image in an inbox is worse than a lost open")
	assert.Equal(t, "image/gif", rec.Header().Get("Content-Type"))
	assert.Equal(t, service.TransparentGIF, rec.Body.Bytes())
}

func TestTrackingClickRedirects(t *testing.T) {
	f := newAPIFixture(t)

	link := &domain.TrackingLink{
		ID:          uuid.New(),
		EmailID:     uuid.New(),
		ShortCode:   "abc123defg",
		OriginalURL: "https://example.com/docs",
	}
	f.trackingRepo.GetByCodeFn = func(ctx context.Context, code string) (*domain.TrackingLink, error) {
		if code == link.ShortCode {
			return link, nil
		}
		return nil, notFound("tracking link")
	}

	rec := f.doAnon(t, http.MethodGet, "/c/"+link.ShortCode)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, link.OriginalURL, rec.Header().Get("Location"))

	require.Len(t, f.jobs.jobs, 1, "the click is recorded asynchronously")
	assert.Equal(t, broker.LaneTracking, f.jobs.jobs[0].Lane)

	rec = f.doAnon(t, http.MethodGet, "/c/zzzzzzzzzz")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
