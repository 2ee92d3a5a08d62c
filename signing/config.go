package signing

import (
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/util"
)

// Config holds the site settings the signing workflow depends on.
type Config struct {
	// AliasResolution makes user+tag@example.com count as a duplicate of
	// user@example.com on the same petition.
	AliasResolution bool
	// FormRequestLifetime is how long a form request in the session stays valid.
	FormRequestLifetime time.Duration
	// SignatureTokenLifetime is how long a confirmation link works after it
	// was last sent.
	SignatureTokenLifetime time.Duration
	// ClosedGracePeriod is how long after closing confirmations still count.
	ClosedGracePeriod time.Duration
	Thresholds        models.Thresholds
}

// Default configuration values. Can be overwritten by env vars of the same name.
var configDefaults = map[string]string{
	"ALIAS_RESOLUTION":         "true",
	"FORM_REQUEST_LIFETIME":    "24h",
	"SIGNATURE_TOKEN_LIFETIME": "720h",
	"CLOSED_GRACE_PERIOD":      "24h",
	"THRESHOLD_FOR_RESPONSE":   "1000",
	"THRESHOLD_FOR_DEBATE":     "5000",
}

// DefaultConfig is the configuration with no environment overrides.
var DefaultConfig = Config{
	AliasResolution:        true,
	FormRequestLifetime:    24 * time.Hour,
	SignatureTokenLifetime: 30 * 24 * time.Hour,
	ClosedGracePeriod:      24 * time.Hour,
	Thresholds:             models.Thresholds{Response: 1000, Debate: 5000},
}

// LoadConfig reads the workflow configuration from the environment.
func LoadConfig() (Config, error) {
	errs := util.Errors{}
	cfg := Config{
		AliasResolution:        util.EnvBool("ALIAS_RESOLUTION", configDefaults, &errs),
		FormRequestLifetime:    util.EnvDuration("FORM_REQUEST_LIFETIME", configDefaults, &errs),
		SignatureTokenLifetime: util.EnvDuration("SIGNATURE_TOKEN_LIFETIME", configDefaults, &errs),
		ClosedGracePeriod:      util.EnvDuration("CLOSED_GRACE_PERIOD", configDefaults, &errs),
		Thresholds: models.Thresholds{
			Response: util.EnvInt("THRESHOLD_FOR_RESPONSE", configDefaults, &errs),
			Debate:   util.EnvInt("THRESHOLD_FOR_DEBATE", configDefaults, &errs),
		},
	}
	if len(errs) > 0 {
		return cfg, errs
	}
	return cfg, nil
}
