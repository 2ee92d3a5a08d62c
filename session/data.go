// Package session keeps per-browser signing state: the form requests shown
// to a signer, tracking-image acknowledgements, proof tokens for the signed
// page and thank-you markers.
package session

import (
	"strconv"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
)

// Data is the session state itself. On its own it is an in-memory session,
// used in tests; Cookie persists it in encrypted cookies.
type Data struct {
	FormRequests map[string]models.FormRequest `json:"form_requests"`
	SignedTokens map[string]string             `json:"signed_tokens"`
	ThankYous    map[string]string             `json:"thank_you"`
	// Kept in a cookie of its own, keyed by form token.
	Acknowledgements map[string]time.Time `json:"-"`
}

// New creates an empty session.
func New() *Data {
	d := &Data{}
	d.init()
	return d
}

func (d *Data) init() {
	if d.FormRequests == nil {
		d.FormRequests = make(map[string]models.FormRequest)
	}
	if d.SignedTokens == nil {
		d.SignedTokens = make(map[string]string)
	}
	if d.ThankYous == nil {
		d.ThankYous = make(map[string]string)
	}
	if d.Acknowledgements == nil {
		d.Acknowledgements = make(map[string]time.Time)
	}
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}

// FormRequest returns the form request recorded for a petition.
func (d *Data) FormRequest(petitionID int64) (models.FormRequest, bool) {
	request, ok := d.FormRequests[key(petitionID)]
	return request, ok
}

// SetFormRequest records a form request for a petition.
func (d *Data) SetFormRequest(petitionID int64, request models.FormRequest) {
	d.FormRequests[key(petitionID)] = request
}

// DeleteFormRequest forgets a petition's form request and its acknowledgement.
func (d *Data) DeleteFormRequest(petitionID int64) {
	if request, ok := d.FormRequests[key(petitionID)]; ok {
		delete(d.Acknowledgements, request.FormToken)
	}
	delete(d.FormRequests, key(petitionID))
}

// ImageLoadedAt returns when the tracking image for a form token was loaded.
func (d *Data) ImageLoadedAt(formToken string) (time.Time, bool) {
	at, ok := d.Acknowledgements[formToken]
	return at, ok
}

// SetImageLoadedAt records when the tracking image for a form token loaded.
func (d *Data) SetImageLoadedAt(formToken string, at time.Time) {
	d.Acknowledgements[formToken] = at
}

// ExpireFormRequests drops form requests made before before, across all
// petitions, together with their acknowledgements.
func (d *Data) ExpireFormRequests(before time.Time) {
	for petitionID, request := range d.FormRequests {
		if request.FormRequestedAt.Before(before) {
			delete(d.Acknowledgements, request.FormToken)
			delete(d.FormRequests, petitionID)
		}
	}
	for token, at := range d.Acknowledgements {
		if at.Before(before) {
			delete(d.Acknowledgements, token)
		}
	}
}

// SignedToken returns the signed-page proof token for a signature.
func (d *Data) SignedToken(signatureID int64) (string, bool) {
	token, ok := d.SignedTokens[key(signatureID)]
	return token, ok
}

// ReplaceSignedTokens forgets every signed token and keeps only this one.
func (d *Data) ReplaceSignedTokens(signatureID int64, token string) {
	d.SignedTokens = map[string]string{key(signatureID): token}
}

// DeleteSignedToken forgets the signed token for a signature.
func (d *Data) DeleteSignedToken(signatureID int64) {
	delete(d.SignedTokens, key(signatureID))
}

// ThankYou returns the address a petition was just signed with.
func (d *Data) ThankYou(petitionID int64) (string, bool) {
	email, ok := d.ThankYous[key(petitionID)]
	return email, ok
}

// SetThankYou records that a petition was just signed with email.
func (d *Data) SetThankYou(petitionID int64, email string) {
	d.ThankYous[key(petitionID)] = email
}
