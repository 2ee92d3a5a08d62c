package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/session"
	"github.com/petitions-gov-je/signatures-backend/signing"
	log "github.com/sirupsen/logrus"
)

// A transparent 1x1 GIF, served as the form's tracking image.
var trackingPixel = []byte("GIF89a\x01\x00\x01\x00\x80\x00\x00\x00\x00\x00\xff\xff\xff!\xf9\x04\x01\x00\x00\x00\x00,\x00\x00\x00\x00\x01\x00\x01\x00\x00\x02\x02D\x01\x00;")

// Checkboxes arrive as "1", "true" or "on".
func checked(value string) bool {
	if value == "on" || value == "yes" {
		return true
	}
	b, _ := strconv.ParseBool(value)
	return b
}

// getForm reads a signature form from a JSON body or from form values.
func getForm(r *http.Request) (signing.Form, error) {
	var form signing.Form
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			return form, fmt.Errorf("couldn't parse signature: %v", err)
		}
		return form, nil
	}
	form = signing.Form{
		Name:          r.FormValue("name"),
		Email:         r.FormValue("email"),
		Postcode:      r.FormValue("postcode"),
		LocationCode:  r.FormValue("location_code"),
		UKCitizenship: checked(r.FormValue("uk_citizenship")),
		NotifyByEmail: checked(r.FormValue("notify_by_email")),
	}
	return form, nil
}

// newSignature is the handler for GET /petitions/{petition_id}/signatures/new.
// Returns a blank signature carrying the form token.
func (api *API) newSignature(r *http.Request, sess *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	signature, err := api.Workflow.NewForm(r.Context(), sess, petitionID)
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: signature}
}

// confirmSignature is the handler for POST /petitions/{petition_id}/signatures/new.
// Validates the form and echoes the normalized signature back for review.
func (api *API) confirmSignature(r *http.Request, _ *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	form, err := getForm(r)
	if err != nil {
		return badRequest("%v", err)
	}
	signature, err := api.Workflow.Confirm(r.Context(), petitionID, form)
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: signature}
}

// acknowledgeForm serves the tracking image of a signature form. The image is
// served whatever the token; only a matching token is recorded.
func (api *API) acknowledgeForm(w http.ResponseWriter, r *http.Request) {
	if petitionID, err := getID("petition_id", r); err == nil {
		sess := api.Sessions.Load(r)
		api.Workflow.AcknowledgeForm(sess, petitionID, mux.Vars(r)["form_token"])
		if err := sess.Save(r, w); err != nil {
			log.WithError(err).Error("Couldn't save session")
		}
	}
	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(trackingPixel)
}

// submission is what a signer sees after submitting the form. It never
// carries the stored signature, which may belong to someone else.
type submission struct {
	PetitionID int64  `json:"petition_id"`
	Outcome    string `json:"outcome"`
}

// createSignature is the handler for POST /petitions/{petition_id}/signatures.
// Signs the petition and redirects to the thank-you page.
func (api *API) createSignature(r *http.Request, sess *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	form, err := getForm(r)
	if err != nil {
		return badRequest("%v", err)
	}
	result, err := api.Workflow.Submit(r.Context(), sess, petitionID, form, clientIP(r))
	if err != nil {
		return errorResponse(err)
	}
	res := redirect(fmt.Sprintf("/petitions/%d/signatures/thank-you", petitionID), "")
	res.Response = submission{PetitionID: petitionID, Outcome: result.Outcome.String()}
	return res
}

type thankYouPage struct {
	Petition models.Petition `json:"petition"`
	Email    string          `json:"email,omitempty"`
}

func (api *API) thankYou(r *http.Request, sess *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	result, err := api.Workflow.ThankYou(r.Context(), sess, petitionID)
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: thankYouPage{Petition: result.Petition, Email: result.Email}}
}

// verify is the handler for GET /signatures/{signature_id}/verify?token=.
// Redirects to the signed page of the validated signature.
func (api *API) verify(r *http.Request, sess *session.Cookie) response {
	signatureID, err := getID("signature_id", r)
	if err != nil {
		return notFound()
	}
	result, err := api.Workflow.Verify(r.Context(), sess, signatureID, r.FormValue("token"), clientIP(r))
	if err != nil {
		return errorResponse(err)
	}
	if result.Outcome == models.Ignored {
		return redirect(petitionPath(result.Petition.ID), "")
	}
	return redirect(fmt.Sprintf("/signatures/%d/signed", signatureID), "")
}

func (api *API) signed(r *http.Request, sess *session.Cookie) response {
	signatureID, err := getID("signature_id", r)
	if err != nil {
		return notFound()
	}
	result, err := api.Workflow.Signed(r.Context(), sess, signatureID)
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: result.Signature}
}

func (api *API) unsubscribe(r *http.Request, _ *session.Cookie) response {
	signatureID, err := getID("signature_id", r)
	if err != nil {
		return notFound()
	}
	signature, err := api.Workflow.Unsubscribe(r.Context(), signatureID, r.FormValue("token"))
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: signature}
}

func (api *API) newSponsor(r *http.Request, sess *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	signature, err := api.Workflow.SponsorForm(r.Context(), sess, petitionID, mux.Vars(r)["token"])
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: signature}
}

func (api *API) createSponsor(r *http.Request, sess *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	form, err := getForm(r)
	if err != nil {
		return badRequest("%v", err)
	}
	token := mux.Vars(r)["token"]
	result, err := api.Workflow.SponsorSubmit(r.Context(), sess, petitionID, token, form, clientIP(r))
	if err != nil {
		return errorResponse(err)
	}
	res := redirect(fmt.Sprintf("/petitions/%d/sponsors/%s/thank-you", petitionID, token), "")
	res.Response = submission{PetitionID: petitionID, Outcome: result.Outcome.String()}
	return res
}

func (api *API) sponsorThankYou(r *http.Request, sess *session.Cookie) response {
	petitionID, err := getID("petition_id", r)
	if err != nil {
		return notFound()
	}
	result, err := api.Workflow.SponsorThankYou(r.Context(), sess, petitionID, mux.Vars(r)["token"])
	if err != nil {
		return errorResponse(err)
	}
	return response{StatusCode: http.StatusOK, Response: thankYouPage{Petition: result.Petition, Email: result.Email}}
}
