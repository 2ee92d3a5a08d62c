package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/petitions-gov-je/signatures-backend/ratelimit"
	"github.com/pkg/errors"
)

// RATE LIMIT DB FUNCTIONS

// RateLimitPolicy [interface ratelimit.PolicySource] reads the singleton
// policy row, falling back to ratelimit.DefaultPolicy.
func (db *SQLDatabase) RateLimitPolicy(ctx context.Context) (ratelimit.Policy, error) {
	var row rateLimitRow
	err := db.conn.SelectOne(&row, "SELECT * FROM rate_limits WHERE id=1")
	if err == sql.ErrNoRows {
		return ratelimit.DefaultPolicy, nil
	}
	if err != nil {
		return ratelimit.Policy{}, errors.Wrap(err, "loading rate limit policy")
	}
	return policyFromRow(row), nil
}

// PutRateLimitPolicy upserts the singleton policy row.
func (db *SQLDatabase) PutRateLimitPolicy(ctx context.Context, policy ratelimit.Policy) error {
	row := rowFromPolicy(policy)
	_, err := db.conn.Exec(`INSERT INTO rate_limits(id, burst_rate, burst_period, sustained_rate, sustained_period, allowed_domains, allowed_ips)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET burst_rate=EXCLUDED.burst_rate, burst_period=EXCLUDED.burst_period,
			sustained_rate=EXCLUDED.sustained_rate, sustained_period=EXCLUDED.sustained_period,
			allowed_domains=EXCLUDED.allowed_domains, allowed_ips=EXCLUDED.allowed_ips`,
		row.ID, row.BurstRate, row.BurstPeriod, row.SustainedRate, row.SustainedPeriod, row.AllowedDomains, row.AllowedIPs)
	return errors.Wrap(err, "storing rate limit policy")
}

// Hit [interface ratelimit.Store] counts and records inside one transaction
// holding an advisory lock on the fingerprint.
func (db *SQLDatabase) Hit(ctx context.Context, key string, now time.Time, windows []ratelimit.Window) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return -1, errors.Wrap(err, "starting rate limit transaction")
	}
	defer tx.Rollback()
	if _, err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext($1))", "rate_limit:"+key); err != nil {
		return -1, errors.Wrap(err, "locking rate limit key")
	}
	for i, w := range windows {
		count, err := tx.SelectInt("SELECT count(*) FROM rate_limit_events WHERE fingerprint=$1 AND created_at > $2",
			key, now.Add(-w.Period))
		if err != nil {
			return -1, errors.Wrap(err, "counting rate limit events")
		}
		if count >= int64(w.Rate) {
			return i, nil
		}
	}
	if err := tx.Insert(&rateLimitEvent{Fingerprint: key, CreatedAt: now}); err != nil {
		return -1, errors.Wrap(err, "recording rate limit event")
	}
	return -1, errors.Wrap(tx.Commit(), "committing rate limit event")
}

// Prune [interface ratelimit.Store] deletes events older than before.
func (db *SQLDatabase) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := db.conn.Exec("DELETE FROM rate_limit_events WHERE created_at < $1", before)
	if err != nil {
		return 0, errors.Wrap(err, "pruning rate limit events")
	}
	return result.RowsAffected()
}
