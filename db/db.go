package db

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/ratelimit"
)

///////////////////////////////////////
//  *****   DATABASE SCHEMA   *****  //
///////////////////////////////////////

// Each of these mirrors a table row. Petitions and signatures are mapped
// straight onto models.Petition and models.Signature.

// EmailBlacklistData stores the emails from which we've recieved bounce or complaint notifications.
type EmailBlacklistData struct {
	ID        int64  `db:"id"`
	Email     string `db:"email"`     // Email to blacklist.
	Timestamp string `db:"timestamp"` // When the bounce or complaint occured.
	Reason    string `db:"reason"`    // eg. "bounce" or "complaint"
}

// rateLimitRow is the singleton rate_limits row. Periods are in seconds.
type rateLimitRow struct {
	ID              int64  `db:"id"`
	BurstRate       int    `db:"burst_rate"`
	BurstPeriod     int64  `db:"burst_period"`
	SustainedRate   int    `db:"sustained_rate"`
	SustainedPeriod int64  `db:"sustained_period"`
	AllowedDomains  string `db:"allowed_domains"`
	AllowedIPs      string `db:"allowed_ips"`
}

// rateLimitEvent is one recorded submission for a fingerprint.
type rateLimitEvent struct {
	ID          int64     `db:"id"`
	Fingerprint string    `db:"fingerprint"`
	CreatedAt   time.Time `db:"created_at"`
}

// Database interface: These are the things that the Database should be able to do.
// Slightly more limited than CRUD for all the schemas.
type Database interface {
	// Retrieves a petition, or models.ErrNoPetition.
	FindPetition(ctx context.Context, id int64) (models.Petition, error)
	// Inserts or replaces a petition. Petitions are owned elsewhere; this is
	// for seeding and tests.
	PutPetition(ctx context.Context, petition *models.Petition) error
	// Retrieves a signature, or models.ErrNoSignature.
	FindSignature(ctx context.Context, id int64) (models.Signature, error)
	// Retrieves the live signature with this normalized email.
	FindSignatureByEmail(ctx context.Context, petitionID int64, normalizedEmail string) (models.Signature, error)
	// Retrieves the live signature with this canonical email.
	FindSignatureByCanonicalEmail(ctx context.Context, petitionID int64, canonicalEmail string) (models.Signature, error)
	// Inserts signature unless a live duplicate exists, in which case the
	// duplicate is returned. The bool reports whether a row was created.
	CreateSignature(ctx context.Context, signature *models.Signature, aliases bool) (models.Signature, bool, error)
	// Moves a pending signature to validated if token is still its perishable
	// token. Reports whether this call made the transition.
	ValidateSignature(ctx context.Context, id int64, token string, v models.Validation) (bool, error)
	// Restarts the lifetime of a signature's confirmation link.
	RefreshConfirmation(ctx context.Context, id int64, at time.Time) error
	MarkSeenSignedConfirmationPage(ctx context.Context, id int64) error
	// Turns off e-mail notifications for a signature.
	Unsubscribe(ctx context.Context, id int64) error
	// Counts one more validated signature towards a petition and stamps any
	// thresholds reached for the first time.
	IncrementSignatureCount(ctx context.Context, petitionID int64, at time.Time, thresholds models.Thresholds) error
	PutSignatureState(ctx context.Context, id int64, state models.SignatureState) error
	// Signature counts by state.
	SignatureTotals(ctx context.Context) (map[string]int64, error)
	// Retrieves the rate limit policy, or ratelimit.DefaultPolicy.
	RateLimitPolicy(ctx context.Context) (ratelimit.Policy, error)
	PutRateLimitPolicy(ctx context.Context, policy ratelimit.Policy) error
	// [interface ratelimit.Store]
	Hit(ctx context.Context, key string, now time.Time, windows []ratelimit.Window) (int, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
	// Adds a bounce or complaint notification to the email blacklist.
	PutBlacklistedEmail(email string, reason string, timestamp string) error
	// Returns true if we've blacklisted an email.
	IsBlacklistedEmail(string) (bool, error)
	ClearTables() error
}

// Config is a configuration struct for a Database.
type Config struct {
	Port       string
	DbHost     string
	DbName     string
	DbUsername string
	DbPass     string
}

// Default configuration values. Can be overwritten by env vars of the same name.
var configDefaults = map[string]string{
	"PORT":         "8080",
	"DB_HOST":      "localhost",
	"DB_NAME":      "petitions",
	"DB_USERNAME":  "postgres",
	"DB_PASSWORD":  "postgres",
	"TEST_DB_NAME": "petitions_test",
}

func getEnvOrDefault(varName string) string {
	envVar := os.Getenv(varName)
	if len(envVar) == 0 {
		envVar = configDefaults[varName]
	}
	return envVar
}

// LoadEnvironmentVariables loads relevant environment variables into a
// Config object.
func LoadEnvironmentVariables() (Config, error) {
	config := Config{
		Port:       getEnvOrDefault("PORT"),
		DbHost:     getEnvOrDefault("DB_HOST"),
		DbName:     getEnvOrDefault("DB_NAME"),
		DbUsername: getEnvOrDefault("DB_USERNAME"),
		DbPass:     getEnvOrDefault("DB_PASSWORD"),
	}
	if flag.Lookup("test.v") != nil {
		// Avoid accidentally wiping the default db during tests.
		config.DbName = getEnvOrDefault("TEST_DB_NAME")
	}
	return config, nil
}

func policyFromRow(row rateLimitRow) ratelimit.Policy {
	return ratelimit.Policy{
		BurstRate:       row.BurstRate,
		BurstPeriod:     time.Duration(row.BurstPeriod) * time.Second,
		SustainedRate:   row.SustainedRate,
		SustainedPeriod: time.Duration(row.SustainedPeriod) * time.Second,
		AllowedDomains:  row.AllowedDomains,
		AllowedIPs:      row.AllowedIPs,
	}
}

func rowFromPolicy(policy ratelimit.Policy) rateLimitRow {
	return rateLimitRow{
		ID:              1,
		BurstRate:       policy.BurstRate,
		BurstPeriod:     int64(policy.BurstPeriod / time.Second),
		SustainedRate:   policy.SustainedRate,
		SustainedPeriod: int64(policy.SustainedPeriod / time.Second),
		AllowedDomains:  policy.AllowedDomains,
		AllowedIPs:      policy.AllowedIPs,
	}
}

// Thresholds that are not set can never be reached.
func reached(count int, threshold int) bool {
	return threshold > 0 && count >= threshold
}
