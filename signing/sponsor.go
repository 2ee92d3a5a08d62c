package signing

import (
	"context"

	"github.com/petitions-gov-je/signatures-backend/models"
)

// sponsorPetition returns the petition if token is its sponsor token and it
// is still gathering sponsors.
func (w *Workflow) sponsorPetition(ctx context.Context, petitionID int64, token string) (models.Petition, error) {
	petition, err := w.findPetition(ctx, petitionID)
	if err != nil {
		return petition, err
	}
	if !models.TokensMatch(petition.SponsorToken, token) {
		return petition, ErrNotFound
	}
	d := w.disposition(petition)
	switch d.Kind {
	case models.DispositionGathering:
		return petition, nil
	case models.DispositionHidden:
		return petition, ErrNotFound
	}
	return petition, &NotOpenError{Petition: petition, Disposition: d}
}

// SponsorForm starts a sponsor's signing form.
func (w *Workflow) SponsorForm(ctx context.Context, sess Session, petitionID int64, token string) (models.Signature, error) {
	petition, err := w.sponsorPetition(ctx, petitionID, token)
	if err != nil {
		return models.Signature{}, err
	}
	signature, err := w.newForm(sess, petition)
	signature.Sponsor = true
	return signature, err
}

// SponsorSubmit signs a petition as a sponsor.
func (w *Workflow) SponsorSubmit(ctx context.Context, sess Session, petitionID int64, token string, form Form, ip string) (SubmitResult, error) {
	petition, err := w.sponsorPetition(ctx, petitionID, token)
	if err != nil {
		return SubmitResult{}, err
	}
	return w.sign(ctx, sess, petition, form, ip, true)
}

// SponsorThankYou returns what the sponsor thank-you page shows.
func (w *Workflow) SponsorThankYou(ctx context.Context, sess Session, petitionID int64, token string) (ThankYouResult, error) {
	petition, err := w.sponsorPetition(ctx, petitionID, token)
	if err != nil {
		return ThankYouResult{}, err
	}
	email, _ := sess.ThankYou(petitionID)
	return ThankYouResult{Petition: petition, Email: email}, nil
}
