package models

import (
	"context"
	"errors"
	"strings"

	"golang.org/x/net/idna"
)

// ErrNoSignature is returned by signature finders when nothing matches.
var ErrNoSignature = errors.New("no matching signature")

// NormalizeEmail lower-cases an address and trims surrounding whitespace.
// Two submissions are exact duplicates when their normalized addresses match.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// EmailDomain returns the ASCII form of the domain part of an address, or ""
// if there is none.
func EmailDomain(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return ASCIIDomain(email[at+1:])
}

// ASCIIDomain converts an internationalized domain to its lower-cased ASCII
// form. Domains idna refuses are returned lower-cased but otherwise untouched.
func ASCIIDomain(domain string) string {
	domain = strings.ToLower(strings.TrimSpace(domain))
	ascii, err := idna.ToASCII(domain)
	if err != nil {
		return domain
	}
	return ascii
}

// CanonicalEmail collapses plus-address aliases: "Ted+Petitions@Example.com"
// and "ted@example.com" share the canonical form "ted@example.com".
func CanonicalEmail(email string) string {
	email = NormalizeEmail(email)
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return email
	}
	local, domain := email[:at], email[at+1:]
	if plus := strings.Index(local, "+"); plus > 0 {
		local = local[:plus]
	}
	return local + "@" + ASCIIDomain(domain)
}

// signatureFinder looks up live (pending or validated) signatures of a
// petition. Both methods return ErrNoSignature when nothing matches.
type signatureFinder interface {
	FindSignatureByEmail(ctx context.Context, petitionID int64, normalizedEmail string) (Signature, error)
	FindSignatureByCanonicalEmail(ctx context.Context, petitionID int64, canonicalEmail string) (Signature, error)
}

// ResolveDuplicate finds the live signature that a new submission of email
// for petitionID duplicates. An exact match always wins over an alias match;
// aliases are only consulted when aliases is true. The bool result is false
// when there is no duplicate.
func ResolveDuplicate(ctx context.Context, finder signatureFinder, petitionID int64, email string, aliases bool) (Signature, bool, error) {
	signature, err := finder.FindSignatureByEmail(ctx, petitionID, NormalizeEmail(email))
	if err == nil {
		return signature, true, nil
	}
	if err != ErrNoSignature {
		return Signature{}, false, err
	}
	if !aliases {
		return Signature{}, false, nil
	}
	signature, err = finder.FindSignatureByCanonicalEmail(ctx, petitionID, CanonicalEmail(email))
	if err == ErrNoSignature {
		return Signature{}, false, nil
	}
	if err != nil {
		return Signature{}, false, err
	}
	return signature, true, nil
}

// MailKind names the messages sent to signers.
type MailKind string

// Possible values for MailKind
const (
	MailConfirmation        MailKind = "confirmation"
	MailDuplicate           MailKind = "duplicate"
	MailSponsorConfirmation MailKind = "sponsor_confirmation"
)
