package db

// Statements run by CreateTables. Every statement is idempotent so setup-db
// can run on each deploy.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS petitions (
		id                            BIGSERIAL PRIMARY KEY,
		action                        VARCHAR(255) NOT NULL,
		state                         VARCHAR(16) NOT NULL DEFAULT 'pending',
		sponsor_token                 VARCHAR(64) NOT NULL DEFAULT '',
		opened_at                     TIMESTAMP WITH TIME ZONE,
		closed_at                     TIMESTAMP WITH TIME ZONE,
		signature_count               INTEGER NOT NULL DEFAULT 0,
		response_threshold_reached_at TIMESTAMP WITH TIME ZONE,
		debate_threshold_reached_at   TIMESTAMP WITH TIME ZONE,
		created_at                    TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS signatures (
		id                            BIGSERIAL PRIMARY KEY,
		petition_id                   BIGINT NOT NULL REFERENCES petitions(id),
		name                          VARCHAR(255) NOT NULL,
		email                         VARCHAR(255) NOT NULL,
		normalized_email              VARCHAR(255) NOT NULL,
		canonical_email               VARCHAR(255) NOT NULL,
		postcode                      VARCHAR(16) NOT NULL DEFAULT '',
		location_code                 VARCHAR(2) NOT NULL DEFAULT 'GB',
		uk_citizenship                BOOLEAN NOT NULL DEFAULT FALSE,
		constituency_id               VARCHAR(32) NOT NULL DEFAULT '',
		ip_address                    VARCHAR(64) NOT NULL DEFAULT '',
		validated_ip                  VARCHAR(64) NOT NULL DEFAULT '',
		notify_by_email               BOOLEAN NOT NULL DEFAULT FALSE,
		sponsor                       BOOLEAN NOT NULL DEFAULT FALSE,
		state                         VARCHAR(16) NOT NULL DEFAULT 'pending',
		perishable_token              VARCHAR(64) NOT NULL DEFAULT '',
		unsubscribe_token             VARCHAR(64) NOT NULL DEFAULT '',
		signed_token                  VARCHAR(64) NOT NULL DEFAULT '',
		form_token                    VARCHAR(64) NOT NULL DEFAULT '',
		form_requested_at             TIMESTAMP WITH TIME ZONE,
		image_loaded_at               TIMESTAMP WITH TIME ZONE,
		confirmation_sent_at          TIMESTAMP WITH TIME ZONE NOT NULL,
		validated_at                  TIMESTAMP WITH TIME ZONE,
		seen_signed_confirmation_page BOOLEAN NOT NULL DEFAULT FALSE,
		created_at                    TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at                    TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	// At most one live signature per petition and address.
	`CREATE UNIQUE INDEX IF NOT EXISTS index_signatures_on_petition_id_and_normalized_email
		ON signatures (petition_id, normalized_email)
		WHERE state IN ('pending', 'validated')`,
	`CREATE INDEX IF NOT EXISTS index_signatures_on_petition_id_and_canonical_email
		ON signatures (petition_id, canonical_email)
		WHERE state IN ('pending', 'validated')`,
	`CREATE TABLE IF NOT EXISTS rate_limits (
		id               BIGINT PRIMARY KEY,
		burst_rate       INTEGER NOT NULL DEFAULT 10,
		burst_period     INTEGER NOT NULL DEFAULT 60,
		sustained_rate   INTEGER NOT NULL DEFAULT 20,
		sustained_period INTEGER NOT NULL DEFAULT 300,
		allowed_domains  TEXT NOT NULL DEFAULT '',
		allowed_ips      TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS rate_limit_events (
		id          BIGSERIAL PRIMARY KEY,
		fingerprint VARCHAR(255) NOT NULL,
		created_at  TIMESTAMP WITH TIME ZONE NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS index_rate_limit_events_on_fingerprint_and_created_at
		ON rate_limit_events (fingerprint, created_at)`,
	`CREATE TABLE IF NOT EXISTS blacklisted_emails (
		id        BIGSERIAL PRIMARY KEY,
		email     VARCHAR(255) NOT NULL,
		reason    VARCHAR(255) NOT NULL,
		timestamp VARCHAR(64) NOT NULL
	)`,
}
