package signing

import (
	"errors"
	"fmt"

	"github.com/petitions-gov-je/signatures-backend/models"
)

// ErrNotFound covers unknown petitions and signatures as well as wrong
// tokens, so that callers can't tell which one they got wrong.
var ErrNotFound = errors.New("not found")

// Causes of a RedirectError.
var (
	ErrTokenExpired       = errors.New("confirmation link expired")
	ErrSignedTokenMissing = errors.New("signed page token missing or stale")
)

// Notices shown to signers.
const (
	TokenExpiredNotice = "Sorry, that confirmation link has expired. Please sign the petition again."
	RateLimitedNotice  = "Sorry, we couldn't accept your signature right now. Please try again later."
)

// NotOpenError is returned when a petition can't be signed in its current
// disposition. Signers are sent back to the petition with Notice.
type NotOpenError struct {
	Petition    models.Petition
	Disposition models.Disposition
}

func (e *NotOpenError) Error() string {
	return fmt.Sprintf("petition %d is %s", e.Petition.ID, e.Disposition.Kind)
}

// Notice is the message to show; it is empty for petitions that are only
// closed to sponsors.
func (e *NotOpenError) Notice() string {
	return e.Disposition.Notice()
}

// RateLimitedError is returned when the rate limiter blocks a submission.
type RateLimitedError struct {
	Reason string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("submission rate limited (%s)", e.Reason)
}

// FieldError describes one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError is returned when a signature form doesn't validate.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("invalid %s: %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("%d invalid fields", len(e.Errors))
}

// RedirectError sends the signer back to a petition's page. Err is
// ErrTokenExpired or ErrSignedTokenMissing.
type RedirectError struct {
	PetitionID int64
	Err        error
}

func (e *RedirectError) Error() string {
	return e.Err.Error()
}

func (e *RedirectError) Unwrap() error {
	return e.Err
}

// Notice is the message to show with the redirect, if any.
func (e *RedirectError) Notice() string {
	if e.Err == ErrTokenExpired {
		return TokenExpiredNotice
	}
	return ""
}
