package api

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"os"
	"strconv"
	"time"

	raven "github.com/getsentry/raven-go"
	"github.com/gorilla/mux"
	"github.com/petitions-gov-je/signatures-backend/email"
	"github.com/petitions-gov-je/signatures-backend/session"
	"github.com/petitions-gov-je/signatures-backend/signing"
	"github.com/petitions-gov-je/signatures-backend/stats"
	log "github.com/sirupsen/logrus"
)

////////////////////////////////
//  *****   REST API   *****  //
////////////////////////////////

// API is the HTTP API that this service provides.
// All requests respond with an response JSON, with fields:
// {
//     status_code // HTTP status code of request
//     message // Any error message accompanying the status_code. If 200, empty.
//     notice // Message to show the signer, if any.
//     redirect // Where the signer goes next, also sent as Location.
//     response // Response data (as JSON) from this request.
// }
// POST requests accept either form values or a JSON body.
type API struct {
	Workflow  *signing.Workflow
	Sessions  *session.Store
	Blacklist BlacklistStore
	// Stats is optional; without it /api/stats is not served.
	Stats stats.Store
}

// BlacklistStore stores addresses that bounced or complained.
type BlacklistStore interface {
	PutBlacklistedEmail(email string, reason string, timestamp string) error
}

type response struct {
	StatusCode int         `json:"status_code"`
	Message    string      `json:"message"`
	Notice     string      `json:"notice,omitempty"`
	Redirect   string      `json:"redirect,omitempty"`
	Response   interface{} `json:"response"`
}

type apiHandler func(r *http.Request, sess *session.Cookie) response

func (api *API) wrapper(handler apiHandler) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := api.Sessions.Load(r)
		response := handler(r, sess)
		if response.StatusCode == http.StatusInternalServerError {
			packet := raven.NewPacket(response.Message, raven.NewHttp(r))
			raven.Capture(packet, nil)
		}
		if err := sess.Save(r, w); err != nil {
			log.WithError(err).Error("Couldn't save session")
			raven.CaptureError(err, nil)
		}
		if len(response.Redirect) > 0 {
			w.Header().Set("Location", response.Redirect)
		}
		writeJSON(w, response)
	}
}

func pingHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
}

// RegisterHandlers binds API functions to the given router,
// and returns the resulting handler.
func (api *API) RegisterHandlers(router *mux.Router) http.Handler {
	router.Use(metricsMiddleware)

	petition := router.PathPrefix("/petitions/{petition_id:[0-9]+}").Subrouter()
	petition.HandleFunc("/signatures/new", api.wrapper(api.newSignature)).Methods(http.MethodGet)
	petition.HandleFunc("/signatures/new", api.wrapper(api.confirmSignature)).Methods(http.MethodPost)
	petition.HandleFunc("/signatures/new/{form_token:[A-Za-z0-9_-]+}.gif", api.acknowledgeForm).Methods(http.MethodGet)
	petition.Handle("/signatures", throttleHandler(time.Minute, 60,
		http.HandlerFunc(api.wrapper(api.createSignature)))).Methods(http.MethodPost)
	petition.HandleFunc("/signatures/thank-you", api.wrapper(api.thankYou)).Methods(http.MethodGet)
	petition.HandleFunc("/sponsors/{token}", api.wrapper(api.newSponsor)).Methods(http.MethodGet)
	petition.Handle("/sponsors/{token}", throttleHandler(time.Minute, 60,
		http.HandlerFunc(api.wrapper(api.createSponsor)))).Methods(http.MethodPost)
	petition.HandleFunc("/sponsors/{token}/thank-you", api.wrapper(api.sponsorThankYou)).Methods(http.MethodGet)

	signature := router.PathPrefix("/signatures/{signature_id:[0-9]+}").Subrouter()
	signature.HandleFunc("/verify", api.wrapper(api.verify)).Methods(http.MethodGet)
	signature.HandleFunc("/signed", api.wrapper(api.signed)).Methods(http.MethodGet)
	signature.HandleFunc("/unsubscribe", api.wrapper(api.unsubscribe)).Methods(http.MethodGet)

	router.HandleFunc("/sns", HandleSESNotification(api.Blacklist)).Methods(http.MethodPost)
	router.HandleFunc("/api/ping", pingHandler)
	if api.Stats != nil {
		router.HandleFunc("/api/stats", api.wrapper(api.signatureStats)).Methods(http.MethodGet)
	}
	router.Handle("/metrics", stats.Handler())
	return middleware(router)
}

// Retrieves path variable `name` as an id.
func getID(name string, r *http.Request) (int64, error) {
	raw := mux.Vars(r)[name]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("path variable %s is not an id: %q", name, raw)
	}
	return id, nil
}

// Writes `v` as a JSON object to http.ResponseWriter `w`. If an error
// occurs, writes `http.StatusInternalServerError` to `w`.
func writeJSON(w http.ResponseWriter, apiResponse response) {
	b, err := json.MarshalIndent(apiResponse, "", "  ")
	if err != nil {
		msg := fmt.Sprintf("Internal error: could not format JSON. (%s)\n", err)
		http.Error(w, msg, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(apiResponse.StatusCode)
	fmt.Fprintf(w, "%s\n", b)
}

func badRequest(format string, a ...interface{}) response {
	return response{
		StatusCode: http.StatusBadRequest,
		Message:    fmt.Sprintf(format, a...),
	}
}

func serverError(format string, a ...interface{}) response {
	return response{
		StatusCode: http.StatusInternalServerError,
		Message:    fmt.Sprintf(format, a...),
	}
}

func notFound() response {
	return response{StatusCode: http.StatusNotFound, Message: "Not Found"}
}

func redirect(location string, notice string) response {
	return response{StatusCode: http.StatusSeeOther, Redirect: location, Notice: notice}
}

func petitionPath(id int64) string {
	return fmt.Sprintf("/petitions/%d", id)
}

// errorResponse turns an error from the signing workflow into a response.
// Anything the workflow didn't classify is a server error.
func errorResponse(err error) response {
	switch e := err.(type) {
	case *signing.NotOpenError:
		return redirect(petitionPath(e.Petition.ID), e.Notice())
	case *signing.RedirectError:
		return redirect(petitionPath(e.PetitionID), e.Notice())
	case *signing.RateLimitedError:
		return response{
			StatusCode: http.StatusTooManyRequests,
			Message:    e.Error(),
			Notice:     signing.RateLimitedNotice,
		}
	case *signing.ValidationError:
		return response{
			StatusCode: http.StatusBadRequest,
			Message:    e.Error(),
			Response:   e.Errors,
		}
	}
	if err == signing.ErrNotFound {
		return notFound()
	}
	log.WithError(err).Error("Request failed")
	return serverError("Internal error: %v", err)
}

func (api *API) signatureStats(r *http.Request, _ *session.Cookie) response {
	totals, err := stats.Get(r.Context(), api.Stats)
	if err != nil {
		return serverError("Couldn't load signature totals: %v", err)
	}
	return response{StatusCode: http.StatusOK, Response: totals}
}

type ravenExtraContent string

// Class satisfies raven's Interface interface so we can send this as extra context.
// https://github.com/getsentry/raven-go/issues/125
func (r ravenExtraContent) Class() string {
	return "extra"
}

func (r ravenExtraContent) MarshalJSON() ([]byte, error) {
	return []byte(r), nil
}

// HandleSESNotification handles AWS SES bounces and complaints submitted to a webhook
// via AWS SNS (Simple Notification Service).
// The SNS webhook is configured to include a secret API key stored in the environment.
func HandleSESNotification(database BlacklistStore) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		keyParam := r.URL.Query()["amazon_authorize_key"]
		if len(keyParam) == 0 || keyParam[0] != os.Getenv("AMAZON_AUTHORIZE_KEY") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		body, err := ioutil.ReadAll(r.Body)
		if err != nil {
			raven.CaptureError(err, nil)
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		data := &email.BlacklistRequest{}
		err = json.Unmarshal(body, data)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			raven.CaptureError(err, nil, ravenExtraContent(body))
			return
		}

		tags := map[string]string{"notification_type": data.Reason}
		raven.CaptureMessage("Received SES notification", tags, ravenExtraContent(data.Raw))

		for _, recipient := range data.Recipients {
			err = database.PutBlacklistedEmail(recipient.EmailAddress, data.Reason, data.Timestamp)
			if err != nil {
				raven.CaptureError(err, nil)
			}
		}

		w.WriteHeader(http.StatusOK)
	}
}
