// Package smtppool maintains per-relay pools of SMTP clients. A pool
// exists per (host, port, username) tuple and never holds more than
// the config's poolSize connections; borrowers block until a slot
// frees, so a poolSize of 1 serialises every send to that relay.
package smtppool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/mailqueue/mailqueue/internal/domain"
	"github.com/mailqueue/mailqueue/pkg/crypto"
	"github.com/mailqueue/mailqueue/pkg/logger"
)

// ActiveHook reports the live connection count for a host; the metrics
// exporter feeds its gauge from it.
type ActiveHook func(host string, active int)

// Pool manages SMTP client pools across relays.
type Pool struct {
	secretKey string
	logger    logger.Logger

	mu    sync.Mutex
	hosts map[string]*hostPool

	onActive ActiveHook
}

type hostPool struct {
	host string
	sem  chan struct{}
	idle chan *mail.Client

	mu     sync.Mutex
	active int
}

// New creates a pool manager. secretKey decrypts stored relay
// credentials at dial time.
func New(secretKey string, log logger.Logger) *Pool {
	return &Pool{
		secretKey: secretKey,
		logger:    log,
		hosts:     make(map[string]*hostPool),
	}
}

// SetActiveHook registers the connection gauge callback.
func (p *Pool) SetActiveHook(hook ActiveHook) {
	p.onActive = hook
}

func poolKey(config *domain.SMTPConfig) string {
	username := ""
	if config.Username != nil {
		username = *config.Username
	}
	return fmt.Sprintf("%s:%d:%s", config.Host, config.Port, username)
}

func (p *Pool) hostPoolFor(config *domain.SMTPConfig) *hostPool {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := poolKey(config)
	hp, ok := p.hosts[key]
	if !ok {
		size := config.PoolSize
		if size < 1 {
			size = 1
		}
		hp = &hostPool{
			host: config.Host,
			sem:  make(chan struct{}, size),
			idle: make(chan *mail.Client, size),
		}
		p.hosts[key] = hp
	}
	return hp
}

// Send borrows a client for the relay, sends the message, and returns
// the client to the pool. Errored clients are discarded; a replacement
// is dialed on the next borrow.
func (p *Pool) Send(ctx context.Context, config *domain.SMTPConfig, msg *mail.Msg) error {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = domain.DefaultSMTPTimeoutMs * time.Millisecond
	}
	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hp := p.hostPoolFor(config)

	select {
	case hp.sem <- struct{}{}:
	case <-sendCtx.Done():
		return fmt.Errorf("timed out waiting for smtp connection: %w", sendCtx.Err())
	}
	defer func() { <-hp.sem }()

	client, err := p.borrow(sendCtx, hp, config)
	if err != nil {
		return err
	}

	if err := client.Send(msg); err != nil {
		p.discard(hp, client)
		return fmt.Errorf("smtp send failed: %w", err)
	}

	p.release(hp, client)
	return nil
}

// borrow returns an idle client or dials a fresh one.
func (p *Pool) borrow(ctx context.Context, hp *hostPool, config *domain.SMTPConfig) (*mail.Client, error) {
	select {
	case client := <-hp.idle:
		return client, nil
	default:
	}

	client, err := p.dial(ctx, config)
	if err != nil {
		return nil, err
	}

	hp.mu.Lock()
	hp.active++
	active := hp.active
	hp.mu.Unlock()
	if p.onActive != nil {
		p.onActive(hp.host, active)
	}
	return client, nil
}

func (p *Pool) release(hp *hostPool, client *mail.Client) {
	select {
	case hp.idle <- client:
		return
	default:
	}
	p.discard(hp, client)
}

func (p *Pool) discard(hp *hostPool, client *mail.Client) {
	if err := client.Close(); err != nil {
		p.logger.WithFields(map[string]interface{}{
			"host":  hp.host,
			"error": err.Error(),
		}).Debug("Failed to close smtp client")
	}

	hp.mu.Lock()
	hp.active--
	active := hp.active
	hp.mu.Unlock()
	if p.onActive != nil {
		p.onActive(hp.host, active)
	}
}

// dial opens and connects a client per the config's encryption mode:
// implicit TLS, STARTTLS, or cleartext.
func (p *Pool) dial(ctx context.Context, config *domain.SMTPConfig) (*mail.Client, error) {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = domain.DefaultSMTPTimeoutMs * time.Millisecond
	}

	opts := []mail.Option{
		mail.WithPort(config.Port),
		mail.WithTimeout(timeout),
	}

	switch config.Encryption {
	case domain.EncryptionTLS:
		opts = append(opts, mail.WithSSL())
	case domain.EncryptionSTARTTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if config.HasCredentials() {
		username, password, err := p.decryptCredentials(config)
		if err != nil {
			return nil, err
		}
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(username),
			mail.WithPassword(password),
		)
	}

	client, err := mail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}

	if err := client.DialWithContext(ctx); err != nil {
		return nil, fmt.Errorf("smtp dial failed: %w", err)
	}
	return client, nil
}

func (p *Pool) decryptCredentials(config *domain.SMTPConfig) (string, string, error) {
	username, err := crypto.DecryptFromHexString(*config.Username, p.secretKey)
	if err != nil {
		return "", "", fmt.Errorf("failed to decrypt smtp username: %w", err)
	}
	password := ""
	if config.Password != nil && *config.Password != "" {
		password, err = crypto.DecryptFromHexString(*config.Password, p.secretKey)
		if err != nil {
			return "", "", fmt.Errorf("failed to decrypt smtp password: %w", err)
		}
	}
	return username, password, nil
}

// Test dials the relay, which walks the full EHLO (+AUTH when
// credentials are set) exchange, then quits. It reports the measured
// latency.
func (p *Pool) Test(ctx context.Context, config *domain.SMTPConfig) *domain.SMTPTestResult {
	start := time.Now()
	client, err := p.dial(ctx, config)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return &domain.SMTPTestResult{Success: false, LatencyMs: latency, Error: err.Error()}
	}
	if err := client.Close(); err != nil {
		p.logger.WithField("error", err.Error()).Debug("Failed to close test smtp client")
	}
	return &domain.SMTPTestResult{Success: true, LatencyMs: latency}
}

// Close discards every idle connection. Active borrowers finish their
// sends first; their clients are dropped on release.
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, hp := range p.hosts {
	drain:
		for {
			select {
			case client := <-hp.idle:
				_ = client.Close()
			default:
				break drain
			}
		}
	}
	p.hosts = make(map[string]*hostPool)
}
