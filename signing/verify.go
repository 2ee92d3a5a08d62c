package signing

import (
	"context"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// VerifyResult is returned by Verify and Signed.
type VerifyResult struct {
	Petition  models.Petition
	Signature models.Signature
	Outcome   models.ValidationOutcome
}

// verifiablePetition returns the petition of signature if confirmations for
// it still count. Petitions gathering sponsors only accept sponsor
// confirmations.
func (w *Workflow) verifiablePetition(ctx context.Context, signature models.Signature) (models.Petition, error) {
	petition, err := w.findPetition(ctx, signature.PetitionID)
	if err != nil {
		return petition, err
	}
	d := w.disposition(petition)
	switch d.Kind {
	case models.DispositionOpen, models.DispositionClosedRecently:
		return petition, nil
	case models.DispositionGathering:
		if signature.Sponsor {
			return petition, nil
		}
		return petition, ErrNotFound
	case models.DispositionHidden:
		return petition, ErrNotFound
	}
	return petition, &NotOpenError{Petition: petition, Disposition: d}
}

// Verify handles a click on a confirmation link. It is idempotent: clicking
// twice, or racing another click, validates the signature once and reports
// AlreadyValidated to everyone else. Invalidated and fraudulent signatures are
// reported as Ignored and left alone.
func (w *Workflow) Verify(ctx context.Context, sess Session, signatureID int64, token string, ip string) (VerifyResult, error) {
	result, err := w.verify(ctx, sess, signatureID, token, ip)
	outcome := result.Outcome.String()
	if err != nil {
		outcome = verificationFailure(err)
	}
	stats.Verifications.WithLabelValues(outcome).Inc()
	return result, err
}

func verificationFailure(err error) string {
	switch err.(type) {
	case *NotOpenError:
		return "not_open"
	case *RedirectError:
		return "expired"
	}
	if err == ErrNotFound {
		return "not_found"
	}
	return "error"
}

func (w *Workflow) verify(ctx context.Context, sess Session, signatureID int64, token string, ip string) (VerifyResult, error) {
	signature, err := w.findSignature(ctx, signatureID)
	if err != nil {
		return VerifyResult{}, err
	}
	if !models.TokensMatch(signature.PerishableToken, token) {
		return VerifyResult{}, ErrNotFound
	}
	petition, err := w.verifiablePetition(ctx, signature)
	if err != nil {
		return VerifyResult{}, err
	}
	now := w.now()
	outcome, attempt := signature.ValidationPlan(w.Config.SignatureTokenLifetime, now)
	if outcome == models.Expired {
		return VerifyResult{Petition: petition, Signature: signature, Outcome: outcome},
			&RedirectError{PetitionID: petition.ID, Err: ErrTokenExpired}
	}
	if attempt {
		signedToken, err := w.Tokens.Generate()
		if err != nil {
			return VerifyResult{}, errors.Wrap(err, "generating signed token")
		}
		v := models.Validation{
			At:             now,
			IP:             ip,
			ConstituencyID: w.constituency(ctx, signature),
			SignedToken:    signedToken,
		}
		won, err := w.Store.ValidateSignature(ctx, signature.ID, token, v)
		if err != nil {
			return VerifyResult{}, errors.Wrapf(err, "validating signature %d", signature.ID)
		}
		if won {
			signature.Apply(v)
			if err := w.Store.IncrementSignatureCount(ctx, petition.ID, now, w.Config.Thresholds); err != nil {
				return VerifyResult{}, errors.Wrapf(err, "counting signature %d", signature.ID)
			}
			log.WithFields(log.Fields{"petition": petition.ID, "signature": signature.ID}).Info("Signature validated")
		} else {
			// Someone else got there first.
			if signature, err = w.findSignature(ctx, signatureID); err != nil {
				return VerifyResult{}, err
			}
			outcome = models.Ignored
			if signature.State == models.StateValidated {
				outcome = models.AlreadyValidated
			}
		}
	}
	if outcome == models.Validated || outcome == models.AlreadyValidated {
		sess.ReplaceSignedTokens(signature.ID, signature.SignedToken)
	}
	return VerifyResult{Petition: petition, Signature: signature, Outcome: outcome}, nil
}

// constituency looks up the constituency of a UK signature. Lookup failures
// leave it blank.
func (w *Workflow) constituency(ctx context.Context, signature models.Signature) string {
	if signature.LocationCode != models.DefaultLocationCode || len(signature.Postcode) == 0 || w.Constituencies == nil {
		return ""
	}
	id, err := w.Constituencies.Lookup(ctx, signature.Postcode)
	if err != nil {
		log.WithField("signature", signature.ID).WithError(err).Warn("Constituency lookup failed")
		return ""
	}
	return id
}

// Signed shows the signed page once, to the browser that just validated the
// signature.
func (w *Workflow) Signed(ctx context.Context, sess Session, signatureID int64) (VerifyResult, error) {
	signature, err := w.findSignature(ctx, signatureID)
	if err != nil {
		return VerifyResult{}, err
	}
	petition, err := w.verifiablePetition(ctx, signature)
	if err != nil {
		return VerifyResult{}, err
	}
	missing := &RedirectError{PetitionID: petition.ID, Err: ErrSignedTokenMissing}
	if signature.State != models.StateValidated {
		return VerifyResult{}, missing
	}
	token, ok := sess.SignedToken(signature.ID)
	if !ok || !models.TokensMatch(signature.SignedToken, token) {
		return VerifyResult{}, missing
	}
	if err := w.Store.MarkSeenSignedConfirmationPage(ctx, signature.ID); err != nil {
		return VerifyResult{}, errors.Wrapf(err, "marking signature %d seen", signature.ID)
	}
	signature.SeenSignedConfirmationPage = true
	sess.DeleteSignedToken(signature.ID)
	return VerifyResult{Petition: petition, Signature: signature, Outcome: models.AlreadyValidated}, nil
}

// Unsubscribe stops e-mail notifications for a signature, whatever state it
// or its petition is in, as long as the petition is public.
func (w *Workflow) Unsubscribe(ctx context.Context, signatureID int64, token string) (models.Signature, error) {
	signature, err := w.findSignature(ctx, signatureID)
	if err != nil {
		return signature, err
	}
	if !models.TokensMatch(signature.UnsubscribeToken, token) {
		return models.Signature{}, ErrNotFound
	}
	petition, err := w.findPetition(ctx, signature.PetitionID)
	if err != nil {
		return models.Signature{}, err
	}
	if !w.disposition(petition).Visible() {
		return models.Signature{}, ErrNotFound
	}
	if err := w.Store.Unsubscribe(ctx, signature.ID); err != nil {
		return models.Signature{}, errors.Wrapf(err, "unsubscribing signature %d", signature.ID)
	}
	signature.NotifyByEmail = false
	return signature, nil
}
