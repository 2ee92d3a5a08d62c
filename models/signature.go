package models

import (
	"strings"
	"time"
)

// SignatureState represents the lifecycle state of a single signature.
type SignatureState string

// Possible values for SignatureState
const (
	StatePending   SignatureState = "pending"   // Confirmation e-mail sent, not yet clicked.
	StateValidated SignatureState = "validated" // Counted towards the petition.
	// The two states below are set by moderators and anti-fraud jobs, never
	// by the signing workflow.
	StateInvalidated SignatureState = "invalidated"
	StateFraudulent  SignatureState = "fraudulent"
)

// Live reports whether a signature in this state blocks another signature
// with the same e-mail on the same petition.
func (s SignatureState) Live() bool {
	return s == StatePending || s == StateValidated
}

// Terminal reports whether the state was set administratively and must not
// be changed by verification.
func (s SignatureState) Terminal() bool {
	return s == StateInvalidated || s == StateFraudulent
}

// DefaultLocationCode is used when the signer doesn't pick a country.
const DefaultLocationCode = "GB"

// Signature mirrors a row of the signatures table.
type Signature struct {
	ID              int64  `db:"id" json:"id"`
	PetitionID      int64  `db:"petition_id" json:"petition_id"`
	Name            string `db:"name" json:"name"`
	Email           string `db:"email" json:"email"`
	NormalizedEmail string `db:"normalized_email" json:"-"`
	CanonicalEmail  string `db:"canonical_email" json:"-"`
	Postcode        string `db:"postcode" json:"postcode"`
	LocationCode    string `db:"location_code" json:"location_code"`
	UKCitizenship   bool   `db:"uk_citizenship" json:"uk_citizenship"`
	ConstituencyID  string `db:"constituency_id" json:"constituency_id,omitempty"`
	IPAddress       string `db:"ip_address" json:"-"`
	ValidatedIP     string `db:"validated_ip" json:"-"`
	NotifyByEmail   bool   `db:"notify_by_email" json:"notify_by_email"`
	Sponsor         bool   `db:"sponsor" json:"sponsor"`

	State            SignatureState `db:"state" json:"state"`
	PerishableToken  string         `db:"perishable_token" json:"-"`
	UnsubscribeToken string         `db:"unsubscribe_token" json:"-"`
	SignedToken      string         `db:"signed_token" json:"-"`

	FormToken       string     `db:"form_token" json:"form_token,omitempty"`
	FormRequestedAt *time.Time `db:"form_requested_at" json:"form_requested_at,omitempty"`
	ImageLoadedAt   *time.Time `db:"image_loaded_at" json:"-"`

	ConfirmationSentAt         time.Time  `db:"confirmation_sent_at" json:"-"`
	ValidatedAt                *time.Time `db:"validated_at" json:"validated_at,omitempty"`
	SeenSignedConfirmationPage bool       `db:"seen_signed_confirmation_page" json:"seen_signed_confirmation_page"`
	CreatedAt                  time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt                  time.Time  `db:"updated_at" json:"updated_at"`
}

// Validation holds everything stamped on a signature when its confirmation
// link is clicked.
type Validation struct {
	At             time.Time
	IP             string
	ConstituencyID string
	SignedToken    string
}

// ValidationOutcome is the result of trying to validate a signature.
type ValidationOutcome int

// Possible values for ValidationOutcome
const (
	// This call moved the signature from pending to validated.
	Validated ValidationOutcome = iota
	// The signature was validated before; nothing changed.
	AlreadyValidated
	// The signature was invalidated or marked fraudulent; nothing changed.
	Ignored
	// The confirmation link is older than its lifetime; nothing changed.
	Expired
)

func (o ValidationOutcome) String() string {
	switch o {
	case Validated:
		return "validated"
	case AlreadyValidated:
		return "already_validated"
	case Ignored:
		return "ignored"
	case Expired:
		return "expired"
	}
	return "unknown"
}

// ValidationPlan decides what verification should do with a signature whose
// perishable token has already been checked. It reports the outcome and
// whether a pending -> validated transition should be attempted.
func (s Signature) ValidationPlan(tokenLifetime time.Duration, now time.Time) (ValidationOutcome, bool) {
	switch {
	case s.State.Terminal():
		return Ignored, false
	case s.State == StateValidated:
		return AlreadyValidated, false
	case TokenExpired(s.ConfirmationSentAt, tokenLifetime, now):
		return Expired, false
	}
	return Validated, true
}

// Apply stamps a validation onto the signature in memory.
func (s *Signature) Apply(v Validation) {
	at := v.At
	s.State = StateValidated
	s.ValidatedAt = &at
	s.ValidatedIP = v.IP
	s.ConstituencyID = v.ConstituencyID
	s.SignedToken = v.SignedToken
	s.UpdatedAt = at
}

// NormalizePostcode upper-cases a postcode and strips all whitespace,
// e.g. "sw1a 1aa" -> "SW1A1AA".
func NormalizePostcode(postcode string) string {
	return strings.ToUpper(strings.Join(strings.Fields(postcode), ""))
}

// FormRequest records when a signer was shown the signing form for a
// petition. It is kept in the signer's session and copied onto the signature.
type FormRequest struct {
	FormToken       string    `json:"form_token"`
	FormRequestedAt time.Time `json:"form_requested_at"`
}

// Expired reports whether the form request is older than lifetime at now.
func (r FormRequest) Expired(lifetime time.Duration, now time.Time) bool {
	return TokenExpired(r.FormRequestedAt, lifetime, now)
}
