package db

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"github.com/lib/pq"
	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/gorp.v2"
)

// errConflict means an insert hit the unique index on live signatures.
var errConflict = errors.New("signature conflicts with a live signature")

// SQLDatabase is a Database interface backed by postgresql.
type SQLDatabase struct {
	cfg  Config // Configuration to define the DB connection.
	conn *gorp.DbMap
}

func getConnectionString(cfg Config) string {
	connectionString := fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable",
		url.PathEscape(cfg.DbUsername),
		url.PathEscape(cfg.DbPass),
		url.PathEscape(cfg.DbHost),
		url.PathEscape(cfg.DbName))
	return connectionString
}

// InitSQLDatabase creates a DB connection based on information in a Config, and
// returns a pointer the resulting SQLDatabase object. If connection fails,
// returns an error.
func InitSQLDatabase(cfg Config) (*SQLDatabase, error) {
	connectionString := getConnectionString(cfg)
	log.WithField("host", cfg.DbHost).Info("Connecting to Postgres DB ...")
	conn, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	dbmap := &gorp.DbMap{Db: conn, Dialect: gorp.PostgresDialect{}}
	dbmap.AddTableWithName(models.Petition{}, "petitions").SetKeys(true, "ID")
	dbmap.AddTableWithName(models.Signature{}, "signatures").SetKeys(true, "ID")
	dbmap.AddTableWithName(rateLimitEvent{}, "rate_limit_events").SetKeys(true, "ID")
	dbmap.AddTableWithName(EmailBlacklistData{}, "blacklisted_emails").SetKeys(true, "ID")
	return &SQLDatabase{cfg: cfg, conn: dbmap}, nil
}

// Ping checks that the database answers.
func (db *SQLDatabase) Ping(ctx context.Context) error {
	return db.conn.Db.PingContext(ctx)
}

// CreateTables creates any missing tables and indexes.
func (db *SQLDatabase) CreateTables() error {
	return tryExec(db, schema)
}

// PETITION DB FUNCTIONS

// FindPetition retrieves a petition by id.
func (db *SQLDatabase) FindPetition(ctx context.Context, id int64) (models.Petition, error) {
	obj, err := db.conn.Get(models.Petition{}, id)
	if err != nil {
		return models.Petition{}, errors.Wrapf(err, "loading petition %d", id)
	}
	if obj == nil {
		return models.Petition{}, models.ErrNoPetition
	}
	return *(obj.(*models.Petition)), nil
}

// PutPetition inserts a petition if it has no id yet, and updates it otherwise.
func (db *SQLDatabase) PutPetition(ctx context.Context, petition *models.Petition) error {
	if petition.CreatedAt.IsZero() {
		petition.CreatedAt = time.Now()
	}
	if petition.ID == 0 {
		return db.conn.Insert(petition)
	}
	_, err := db.conn.Update(petition)
	return err
}

const incrementSignatureCountQuery = `
UPDATE petitions SET
    signature_count = signature_count + 1,
    response_threshold_reached_at = CASE
        WHEN response_threshold_reached_at IS NULL AND $2 > 0 AND signature_count + 1 >= $2 THEN $4
        ELSE response_threshold_reached_at END,
    debate_threshold_reached_at = CASE
        WHEN debate_threshold_reached_at IS NULL AND $3 > 0 AND signature_count + 1 >= $3 THEN $4
        ELSE debate_threshold_reached_at END
WHERE id = $1
`

// IncrementSignatureCount adds one to a petition's count, stamping thresholds
// reached for the first time, in a single statement.
func (db *SQLDatabase) IncrementSignatureCount(ctx context.Context, petitionID int64, at time.Time, thresholds models.Thresholds) error {
	_, err := db.conn.Exec(incrementSignatureCountQuery, petitionID, thresholds.Response, thresholds.Debate, at)
	return errors.Wrapf(err, "incrementing signature count of petition %d", petitionID)
}

// SIGNATURE DB FUNCTIONS

// signatureQueries runs signature lookups on either the connection or an
// open transaction.
type signatureQueries struct {
	exec gorp.SqlExecutor
}

func (q signatureQueries) selectSignature(query string, args ...interface{}) (models.Signature, error) {
	var signature models.Signature
	err := q.exec.SelectOne(&signature, query, args...)
	if err == sql.ErrNoRows {
		return models.Signature{}, models.ErrNoSignature
	}
	return signature, err
}

func (q signatureQueries) FindSignatureByEmail(ctx context.Context, petitionID int64, normalizedEmail string) (models.Signature, error) {
	return q.selectSignature(`SELECT * FROM signatures
		WHERE petition_id=$1 AND normalized_email=$2 AND state IN ('pending', 'validated')
		ORDER BY id LIMIT 1`, petitionID, normalizedEmail)
}

// Of several aliases, the one submitted without a tag is preferred.
func (q signatureQueries) FindSignatureByCanonicalEmail(ctx context.Context, petitionID int64, canonicalEmail string) (models.Signature, error) {
	return q.selectSignature(`SELECT * FROM signatures
		WHERE petition_id=$1 AND canonical_email=$2 AND state IN ('pending', 'validated')
		ORDER BY (normalized_email = canonical_email) DESC, id ASC LIMIT 1`, petitionID, canonicalEmail)
}

// FindSignature retrieves a signature by id.
func (db *SQLDatabase) FindSignature(ctx context.Context, id int64) (models.Signature, error) {
	obj, err := db.conn.Get(models.Signature{}, id)
	if err != nil {
		return models.Signature{}, errors.Wrapf(err, "loading signature %d", id)
	}
	if obj == nil {
		return models.Signature{}, models.ErrNoSignature
	}
	return *(obj.(*models.Signature)), nil
}

// FindSignatureByEmail retrieves the live signature of petitionID with this
// normalized email.
func (db *SQLDatabase) FindSignatureByEmail(ctx context.Context, petitionID int64, normalizedEmail string) (models.Signature, error) {
	return signatureQueries{db.conn}.FindSignatureByEmail(ctx, petitionID, normalizedEmail)
}

// FindSignatureByCanonicalEmail retrieves the live signature of petitionID
// with this canonical email.
func (db *SQLDatabase) FindSignatureByCanonicalEmail(ctx context.Context, petitionID int64, canonicalEmail string) (models.Signature, error) {
	return signatureQueries{db.conn}.FindSignatureByCanonicalEmail(ctx, petitionID, canonicalEmail)
}

func isUniqueViolation(err error) bool {
	pqErr, ok := errors.Cause(err).(*pq.Error)
	return ok && pqErr.Code == "23505"
}

// CreateSignature resolves duplicates and inserts under an advisory lock on
// the petition and canonical address, so that concurrent submissions of the
// same address serialize. The partial unique index catches anything that
// slips past the lock; such a conflict is resolved by looking the winner up.
func (db *SQLDatabase) CreateSignature(ctx context.Context, signature *models.Signature, aliases bool) (models.Signature, bool, error) {
	signature.NormalizedEmail = models.NormalizeEmail(signature.Email)
	signature.CanonicalEmail = models.CanonicalEmail(signature.Email)
	result, created, err := db.createSignature(ctx, signature, aliases)
	if err != errConflict {
		return result, created, err
	}
	existing, found, err := models.ResolveDuplicate(ctx, db, signature.PetitionID, signature.Email, aliases)
	if err != nil {
		return models.Signature{}, false, errors.Wrap(err, "resolving signature conflict")
	}
	if !found {
		return models.Signature{}, false, errors.Wrapf(errConflict, "petition %d", signature.PetitionID)
	}
	return existing, false, nil
}

func (db *SQLDatabase) createSignature(ctx context.Context, signature *models.Signature, aliases bool) (models.Signature, bool, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return models.Signature{}, false, errors.Wrap(err, "starting signature transaction")
	}
	defer tx.Rollback()
	lockKey := fmt.Sprintf("signature:%d:%s", signature.PetitionID, signature.CanonicalEmail)
	if _, err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
		return models.Signature{}, false, errors.Wrap(err, "locking signature key")
	}
	existing, found, err := models.ResolveDuplicate(ctx, signatureQueries{tx}, signature.PetitionID, signature.Email, aliases)
	if err != nil {
		return models.Signature{}, false, errors.Wrap(err, "resolving duplicate signature")
	}
	if found {
		return existing, false, nil
	}
	if err := tx.Insert(signature); err != nil {
		if isUniqueViolation(err) {
			return models.Signature{}, false, errConflict
		}
		return models.Signature{}, false, errors.Wrap(err, "inserting signature")
	}
	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return models.Signature{}, false, errConflict
		}
		return models.Signature{}, false, errors.Wrap(err, "committing signature")
	}
	return *signature, true, nil
}

// ValidateSignature is the single conditional update behind verification:
// of any number of concurrent callers, exactly one sees true.
func (db *SQLDatabase) ValidateSignature(ctx context.Context, id int64, token string, v models.Validation) (bool, error) {
	result, err := db.conn.Exec(`UPDATE signatures SET
		state='validated', validated_at=$3, validated_ip=$4, constituency_id=$5, signed_token=$6, updated_at=$3
		WHERE id=$1 AND state='pending' AND perishable_token=$2`,
		id, token, v.At, v.IP, v.ConstituencyID, v.SignedToken)
	if err != nil {
		return false, errors.Wrapf(err, "validating signature %d", id)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "validating signature %d", id)
	}
	return rows == 1, nil
}

// RefreshConfirmation restarts the lifetime of a signature's confirmation link.
func (db *SQLDatabase) RefreshConfirmation(ctx context.Context, id int64, at time.Time) error {
	_, err := db.conn.Exec("UPDATE signatures SET confirmation_sent_at=$2, updated_at=$2 WHERE id=$1", id, at)
	return errors.Wrapf(err, "refreshing confirmation of signature %d", id)
}

// MarkSeenSignedConfirmationPage records that the signer saw the signed page.
func (db *SQLDatabase) MarkSeenSignedConfirmationPage(ctx context.Context, id int64) error {
	_, err := db.conn.Exec("UPDATE signatures SET seen_signed_confirmation_page=TRUE WHERE id=$1", id)
	return errors.Wrapf(err, "marking signature %d seen", id)
}

// Unsubscribe turns off notification e-mails for a signature.
func (db *SQLDatabase) Unsubscribe(ctx context.Context, id int64) error {
	_, err := db.conn.Exec("UPDATE signatures SET notify_by_email=FALSE WHERE id=$1", id)
	return errors.Wrapf(err, "unsubscribing signature %d", id)
}

// PutSignatureState overrides a signature's state, the way moderators and
// anti-fraud jobs do.
func (db *SQLDatabase) PutSignatureState(ctx context.Context, id int64, state models.SignatureState) error {
	_, err := db.conn.Exec("UPDATE signatures SET state=$2 WHERE id=$1", id, state)
	return errors.Wrapf(err, "setting state of signature %d", id)
}

// SignatureTotals [interface stats.Store] counts signatures by state.
func (db *SQLDatabase) SignatureTotals(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		State string `db:"state"`
		Count int64  `db:"count"`
	}
	if _, err := db.conn.Select(&rows, "SELECT state, count(*) AS count FROM signatures GROUP BY state"); err != nil {
		return nil, errors.Wrap(err, "counting signatures")
	}
	totals := make(map[string]int64)
	for _, row := range rows {
		totals[row.State] = row.Count
	}
	return totals, nil
}

// EMAIL BLACKLIST DB FUNCTIONS

// PutBlacklistedEmail adds a bounce or complaint notification to the email blacklist.
func (db *SQLDatabase) PutBlacklistedEmail(email string, reason string, timestamp string) error {
	return db.conn.Insert(&EmailBlacklistData{
		Email: models.NormalizeEmail(email), Timestamp: timestamp, Reason: reason,
	})
}

// IsBlacklistedEmail returns true iff we've blacklisted the passed email address for sending.
func (db *SQLDatabase) IsBlacklistedEmail(email string) (bool, error) {
	count, err := db.conn.SelectInt("select count(*) from blacklisted_emails where email=$1", models.NormalizeEmail(email))
	return count > 0, err
}

func tryExec(database *SQLDatabase, commands []string) error {
	for _, command := range commands {
		if _, err := database.conn.Exec(command); err != nil {
			return fmt.Errorf("command failed: %s\nwith error: %v",
				command, err.Error())
		}
	}
	return nil
}

// ClearTables nukes all the tables. ** Should only be used during testing **
func (db *SQLDatabase) ClearTables() error {
	return tryExec(db, []string{
		"DELETE FROM signatures",
		"DELETE FROM petitions",
		"DELETE FROM rate_limits",
		"DELETE FROM rate_limit_events",
		"DELETE FROM blacklisted_emails",
	})
}
