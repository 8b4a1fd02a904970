// Package schema defines the database schema for development.
//
// DEVELOPMENT USE ONLY
// This file contains the current database schema and is used for development and testing.
// Before deploying to production, these table definitions should be converted to proper migrations.
package schema

// TableDefinitions contains all the SQL statements to create the database tables
// Don't put REFERENCES and don't put CHECK constraints in the CREATE TABLE statements
var TableDefinitions = []string{
	`CREATE TABLE IF NOT EXISTS apps (
		id UUID PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sandbox BOOLEAN NOT NULL DEFAULT FALSE,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		webhook_url TEXT,
		webhook_secret VARCHAR(255),
		daily_limit BIGINT,
		monthly_limit BIGINT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id UUID PRIMARY KEY,
		app_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		key_prefix VARCHAR(32) NOT NULL,
		key_hash VARCHAR(64) UNIQUE NOT NULL,
		scopes JSONB NOT NULL,
		rate_limit BIGINT,
		ip_allowlist JSONB,
		expires_at TIMESTAMP,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_used_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS queues (
		id UUID PRIMARY KEY,
		app_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		priority INTEGER NOT NULL DEFAULT 5,
		rate_limit BIGINT,
		max_retries INTEGER NOT NULL DEFAULT 5,
		retry_delays JSONB NOT NULL,
		smtp_config_id UUID,
		paused BOOLEAN NOT NULL DEFAULT FALSE,
		settings JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (app_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS smtp_configs (
		id UUID PRIMARY KEY,
		app_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		host VARCHAR(255) NOT NULL,
		port INTEGER NOT NULL,
		username TEXT,
		password TEXT,
		encryption VARCHAR(20) NOT NULL,
		pool_size INTEGER NOT NULL DEFAULT 5,
		timeout_ms INTEGER NOT NULL DEFAULT 30000,
		active BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS emails (
		id UUID PRIMARY KEY,
		app_id UUID NOT NULL,
		queue_id UUID NOT NULL,
		idempotency_key VARCHAR(255),
		message_id VARCHAR(998),
		from_address VARCHAR(255) NOT NULL,
		from_name VARCHAR(255),
		to_addresses JSONB NOT NULL,
		cc_addresses JSONB,
		bcc_addresses JSONB,
		reply_to VARCHAR(255),
		subject TEXT NOT NULL,
		html_body TEXT,
		text_body TEXT,
		headers JSONB,
		personalization JSONB,
		metadata JSONB,
		status VARCHAR(20) NOT NULL,
		retry_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		scheduled_at TIMESTAMP,
		next_attempt_at TIMESTAMP,
		sent_at TIMESTAMP,
		delivered_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (app_id, idempotency_key)
	)`,
	`CREATE TABLE IF NOT EXISTS email_events (
		id UUID PRIMARY KEY,
		email_id UUID NOT NULL,
		event_type VARCHAR(20) NOT NULL,
		event_data JSONB,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS suppression_list (
		id UUID PRIMARY KEY,
		app_id UUID,
		email_address VARCHAR(255) NOT NULL,
		reason VARCHAR(20) NOT NULL,
		source_email_id UUID,
		expires_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		UNIQUE NULLS NOT DISTINCT (app_id, email_address)
	)`,
	`CREATE TABLE IF NOT EXISTS tracking_links (
		id UUID PRIMARY KEY,
		email_id UUID NOT NULL,
		short_code VARCHAR(10) UNIQUE NOT NULL,
		original_url TEXT NOT NULL,
		click_count INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS webhook_deliveries (
		id UUID PRIMARY KEY,
		app_id UUID NOT NULL,
		email_id UUID NOT NULL,
		event_type VARCHAR(30) NOT NULL,
		payload JSONB NOT NULL,
		status VARCHAR(20) NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		last_error TEXT,
		next_retry_at TIMESTAMP,
		delivered_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS scheduled_jobs (
		id UUID PRIMARY KEY,
		app_id UUID NOT NULL,
		queue_id UUID NOT NULL,
		name VARCHAR(255) NOT NULL,
		cron_expression VARCHAR(120) NOT NULL,
		timezone VARCHAR(64) NOT NULL,
		template JSONB NOT NULL,
		active BOOLEAN NOT NULL DEFAULT TRUE,
		last_run_at TIMESTAMP,
		next_run_at TIMESTAMP,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS app_reputation (
		app_id UUID PRIMARY KEY,
		bounce_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		complaint_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
		score DOUBLE PRECISION NOT NULL DEFAULT 100,
		throttled BOOLEAN NOT NULL DEFAULT FALSE,
		throttle_reason TEXT,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS analytics_buckets (
		app_id UUID NOT NULL,
		bucket_start TIMESTAMP NOT NULL,
		event_type VARCHAR(20) NOT NULL,
		count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (app_id, bucket_start, event_type)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_api_keys_app_id ON api_keys(app_id)`,
	`CREATE INDEX IF NOT EXISTS idx_queues_app_id ON queues(app_id)`,
	`CREATE INDEX IF NOT EXISTS idx_smtp_configs_app_id ON smtp_configs(app_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_app_status ON emails(app_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_queue_status ON emails(queue_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_status_scheduled ON emails(status, scheduled_at)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_status_updated ON emails(status, updated_at)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_created_at ON emails(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_email_events_email_id ON email_events(email_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_email_events_type_created ON email_events(event_type, created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_suppression_app_id ON suppression_list(app_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tracking_links_email_id ON tracking_links(email_id)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_status_retry ON webhook_deliveries(status, next_retry_at)`,
	`CREATE INDEX IF NOT EXISTS idx_webhook_deliveries_email_id ON webhook_deliveries(email_id)`,
	`CREATE INDEX IF NOT EXISTS idx_scheduled_jobs_active_next ON scheduled_jobs(active, next_run_at)`,
}

// TableNames lists every table in creation order, for teardown in
// tests.
var TableNames = []string{
	"apps",
	"api_keys",
	"queues",
	"smtp_configs",
	"emails",
	"email_events",
	"suppression_list",
	"tracking_links",
	"webhook_deliveries",
	"scheduled_jobs",
	"app_reputation",
	"analytics_buckets",
}
