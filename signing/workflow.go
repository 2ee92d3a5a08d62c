// Package signing implements the petition signing workflow: showing and
// submitting the signature form, confirming e-mail addresses and the
// sponsor variant of both.
package signing

import (
	"context"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/ratelimit"
	"github.com/petitions-gov-je/signatures-backend/stats"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Store is the persistence the workflow needs.
type Store interface {
	FindPetition(ctx context.Context, id int64) (models.Petition, error)
	FindSignature(ctx context.Context, id int64) (models.Signature, error)
	CreateSignature(ctx context.Context, signature *models.Signature, aliases bool) (models.Signature, bool, error)
	ValidateSignature(ctx context.Context, id int64, token string, v models.Validation) (bool, error)
	RefreshConfirmation(ctx context.Context, id int64, at time.Time) error
	MarkSeenSignedConfirmationPage(ctx context.Context, id int64) error
	Unsubscribe(ctx context.Context, id int64) error
	IncrementSignatureCount(ctx context.Context, petitionID int64, at time.Time, thresholds models.Thresholds) error
}

// Mailer sends notification e-mails about a signature.
type Mailer interface {
	Send(ctx context.Context, kind models.MailKind, signature models.Signature, petition models.Petition) error
}

// ConstituencyLookup resolves a postcode to a constituency id. An empty id
// means the postcode is unknown.
type ConstituencyLookup interface {
	Lookup(ctx context.Context, postcode string) (string, error)
}

// Limiter gates submissions.
type Limiter interface {
	Allow(ctx context.Context, submission ratelimit.Submission) ratelimit.Decision
}

// Session is the per-browser state the workflow reads and writes.
type Session interface {
	FormRequest(petitionID int64) (models.FormRequest, bool)
	SetFormRequest(petitionID int64, request models.FormRequest)
	DeleteFormRequest(petitionID int64)
	ImageLoadedAt(formToken string) (time.Time, bool)
	SetImageLoadedAt(formToken string, at time.Time)
	// ExpireFormRequests drops form requests made before before, across
	// all petitions.
	ExpireFormRequests(before time.Time)
	SignedToken(signatureID int64) (string, bool)
	ReplaceSignedTokens(signatureID int64, token string)
	DeleteSignedToken(signatureID int64)
	ThankYou(petitionID int64) (string, bool)
	SetThankYou(petitionID int64, email string)
}

// Workflow ties the signing steps to their collaborators.
type Workflow struct {
	Store          Store
	Mailer         Mailer
	Constituencies ConstituencyLookup
	Limiter        Limiter
	Tokens         models.TokenGenerator
	Config         Config
	// Now is optional; defaults to time.Now.
	Now func() time.Time
}

// Outcome says how a submission was handled.
type Outcome int

// Possible values for Outcome
const (
	// A new pending signature was created.
	Created Outcome = iota
	// The e-mail had already signed; the existing signature was used.
	Redirected
)

func (o Outcome) String() string {
	if o == Created {
		return "created"
	}
	return "redirected"
}

// SubmitResult is returned by a successful submission.
type SubmitResult struct {
	Petition  models.Petition
	Signature models.Signature
	Outcome   Outcome
}

// ThankYouResult carries what the thank-you page shows.
type ThankYouResult struct {
	Petition models.Petition
	// Email the petition was just signed with; empty if this session didn't sign.
	Email string
}

func (w *Workflow) now() time.Time {
	if w.Now != nil {
		return w.Now()
	}
	return time.Now()
}

func (w *Workflow) disposition(petition models.Petition) models.Disposition {
	return petition.Disposition(w.now(), w.Config.ClosedGracePeriod)
}

func (w *Workflow) findPetition(ctx context.Context, id int64) (models.Petition, error) {
	petition, err := w.Store.FindPetition(ctx, id)
	if err == models.ErrNoPetition {
		return petition, ErrNotFound
	}
	return petition, errors.Wrapf(err, "finding petition %d", id)
}

func (w *Workflow) findSignature(ctx context.Context, id int64) (models.Signature, error) {
	signature, err := w.Store.FindSignature(ctx, id)
	if err == models.ErrNoSignature {
		return signature, ErrNotFound
	}
	return signature, errors.Wrapf(err, "finding signature %d", id)
}

// openPetition returns the petition if it is open for signing.
func (w *Workflow) openPetition(ctx context.Context, id int64) (models.Petition, error) {
	petition, err := w.findPetition(ctx, id)
	if err != nil {
		return petition, err
	}
	d := w.disposition(petition)
	switch d.Kind {
	case models.DispositionOpen:
		return petition, nil
	case models.DispositionHidden, models.DispositionGathering:
		return petition, ErrNotFound
	}
	return petition, &NotOpenError{Petition: petition, Disposition: d}
}

// NewForm starts a signing form for a petition, recording a form request in
// the session. Expired form requests for every petition are purged first.
func (w *Workflow) NewForm(ctx context.Context, sess Session, petitionID int64) (models.Signature, error) {
	petition, err := w.openPetition(ctx, petitionID)
	if err != nil {
		return models.Signature{}, err
	}
	return w.newForm(sess, petition)
}

func (w *Workflow) newForm(sess Session, petition models.Petition) (models.Signature, error) {
	now := w.now()
	sess.ExpireFormRequests(now.Add(-w.Config.FormRequestLifetime))
	request, ok := sess.FormRequest(petition.ID)
	if !ok || request.Expired(w.Config.FormRequestLifetime, now) {
		token, err := w.Tokens.Generate()
		if err != nil {
			return models.Signature{}, errors.Wrap(err, "generating form token")
		}
		request = models.FormRequest{FormToken: token, FormRequestedAt: now}
		sess.SetFormRequest(petition.ID, request)
	}
	requestedAt := request.FormRequestedAt
	return models.Signature{
		PetitionID:      petition.ID,
		LocationCode:    models.DefaultLocationCode,
		FormToken:       request.FormToken,
		FormRequestedAt: &requestedAt,
	}, nil
}

// AcknowledgeForm records that the form's tracking image was loaded. Tokens
// that don't match the session's form request are ignored.
func (w *Workflow) AcknowledgeForm(sess Session, petitionID int64, formToken string) {
	request, ok := sess.FormRequest(petitionID)
	if ok && models.TokensMatch(request.FormToken, formToken) {
		sess.SetImageLoadedAt(formToken, w.now())
	}
}

// Confirm validates a form for preview without saving anything.
func (w *Workflow) Confirm(ctx context.Context, petitionID int64, form Form) (models.Signature, error) {
	if _, err := w.openPetition(ctx, petitionID); err != nil {
		return models.Signature{}, err
	}
	form.Normalize()
	if err := form.Validate(); err != nil {
		return models.Signature{}, err
	}
	return form.signature(petitionID, "", w.now()), nil
}

// Submit signs an open petition. A signer who already signed gets the
// existing signature back, and a second e-mail, instead of a new signature.
func (w *Workflow) Submit(ctx context.Context, sess Session, petitionID int64, form Form, ip string) (SubmitResult, error) {
	petition, err := w.openPetition(ctx, petitionID)
	if err != nil {
		stats.Submissions.WithLabelValues(submissionFailure(err)).Inc()
		return SubmitResult{}, err
	}
	return w.sign(ctx, sess, petition, form, ip, false)
}

func submissionFailure(err error) string {
	switch err.(type) {
	case *NotOpenError:
		return "not_open"
	case *ValidationError:
		return "invalid"
	case *RateLimitedError:
		return "rate_limited"
	}
	if err == ErrNotFound {
		return "not_found"
	}
	return "error"
}

// sign runs the part of a submission shared by signers and sponsors.
func (w *Workflow) sign(ctx context.Context, sess Session, petition models.Petition, form Form, ip string, sponsor bool) (SubmitResult, error) {
	form.Normalize()
	result, err := w.resolveOrCreate(ctx, sess, petition, form, ip, sponsor)
	if err != nil {
		stats.Submissions.WithLabelValues(submissionFailure(err)).Inc()
		return result, err
	}
	stats.Submissions.WithLabelValues(result.Outcome.String()).Inc()
	sess.SetThankYou(petition.ID, form.Email)
	return result, nil
}

func (w *Workflow) resolveOrCreate(ctx context.Context, sess Session, petition models.Petition, form Form, ip string, sponsor bool) (SubmitResult, error) {
	now := w.now()
	if err := form.Validate(); err != nil {
		return SubmitResult{}, err
	}
	decision := w.Limiter.Allow(ctx, ratelimit.Submission{IP: ip, Email: form.Email, Time: now})
	if !decision.Allowed {
		return SubmitResult{}, &RateLimitedError{Reason: decision.Reason}
	}

	signature := form.signature(petition.ID, ip, now)
	signature.Sponsor = sponsor
	signature.ConfirmationSentAt = now
	var err error
	if signature.PerishableToken, err = w.Tokens.Generate(); err != nil {
		return SubmitResult{}, errors.Wrap(err, "generating perishable token")
	}
	if signature.UnsubscribeToken, err = w.Tokens.Generate(); err != nil {
		return SubmitResult{}, errors.Wrap(err, "generating unsubscribe token")
	}
	if request, ok := sess.FormRequest(petition.ID); ok && !request.Expired(w.Config.FormRequestLifetime, now) {
		requestedAt := request.FormRequestedAt
		signature.FormToken = request.FormToken
		signature.FormRequestedAt = &requestedAt
		if loadedAt, ok := sess.ImageLoadedAt(request.FormToken); ok {
			signature.ImageLoadedAt = &loadedAt
		}
	}

	existing, created, err := w.Store.CreateSignature(ctx, &signature, w.Config.AliasResolution)
	if err != nil {
		return SubmitResult{}, errors.Wrap(err, "creating signature")
	}
	confirmation := models.MailConfirmation
	if sponsor {
		confirmation = models.MailSponsorConfirmation
	}
	if created {
		sess.DeleteFormRequest(petition.ID)
		w.send(ctx, confirmation, existing, petition)
		log.WithFields(log.Fields{"petition": petition.ID, "signature": existing.ID}).Info("Signature created")
		return SubmitResult{Petition: petition, Signature: existing, Outcome: Created}, nil
	}

	fields := log.Fields{"petition": petition.ID, "signature": existing.ID, "state": existing.State}
	if existing.State == models.StateValidated {
		w.send(ctx, models.MailDuplicate, existing, petition)
		log.WithFields(fields).Info("Duplicate signature of validated signature")
	} else {
		if err := w.Store.RefreshConfirmation(ctx, existing.ID, now); err != nil {
			return SubmitResult{}, errors.Wrapf(err, "refreshing confirmation of signature %d", existing.ID)
		}
		existing.ConfirmationSentAt = now
		w.send(ctx, confirmation, existing, petition)
		log.WithFields(fields).Info("Resending confirmation for pending signature")
	}
	return SubmitResult{Petition: petition, Signature: existing, Outcome: Redirected}, nil
}

// send hands a message to the mailer. Delivery problems are the mailer's to
// handle, so they are only logged here.
func (w *Workflow) send(ctx context.Context, kind models.MailKind, signature models.Signature, petition models.Petition) {
	if err := w.Mailer.Send(ctx, kind, signature, petition); err != nil {
		log.WithFields(log.Fields{
			"kind":      kind,
			"signature": signature.ID,
		}).WithError(err).Warn("Couldn't send e-mail")
	}
}

// ThankYou returns what the thank-you page for an open petition shows.
func (w *Workflow) ThankYou(ctx context.Context, sess Session, petitionID int64) (ThankYouResult, error) {
	petition, err := w.openPetition(ctx, petitionID)
	if err != nil {
		return ThankYouResult{}, err
	}
	email, _ := sess.ThankYou(petitionID)
	return ThankYouResult{Petition: petition, Email: email}, nil
}
