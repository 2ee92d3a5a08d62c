package email

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/stats"
	"github.com/petitions-gov-je/signatures-backend/util"
	log "github.com/sirupsen/logrus"
)

type blacklistStore interface {
	PutBlacklistedEmail(email string, reason string, timestamp string) error
	IsBlacklistedEmail(string) (bool, error)
}

// Config stores variables needed to submit emails for sending, as well as
// to generate the templates.
type Config struct {
	auth               smtp.Auth
	username           string
	password           string
	submissionHostname string
	port               string
	sender             string
	website            string // Needed to generate email template text.
	database           blacklistStore
}

// MakeConfigFromEnv initializes our email config object with
// environment variables. Without SMTP_ENDPOINT, mail is logged rather than
// sent.
func MakeConfigFromEnv(database blacklistStore) (Config, error) {
	// create config
	varErrs := util.Errors{}
	c := Config{
		submissionHostname: util.EnvOrDefault("SMTP_ENDPOINT", nil),
		sender:             util.RequireEnv("SMTP_FROM_ADDRESS", &varErrs),
		website:            strings.TrimSuffix(util.RequireEnv("FRONTEND_WEBSITE_LINK", &varErrs), "/"),
		database:           database,
	}
	if len(c.submissionHostname) > 0 {
		c.username = util.RequireEnv("SMTP_USERNAME", &varErrs)
		c.password = util.RequireEnv("SMTP_PASSWORD", &varErrs)
		c.port = util.RequireEnv("SMTP_PORT", &varErrs)
	}
	if len(varErrs) > 0 {
		return c, varErrs
	}
	if len(c.submissionHostname) == 0 {
		log.Warn("SMTP_ENDPOINT not set, e-mails will be logged instead of sent")
		return c, nil
	}
	log.Printf("Establishing auth connection with SMTP server %s", c.submissionHostname)
	// create auth
	client, err := smtp.Dial(fmt.Sprintf("%s:%s", c.submissionHostname, c.port))
	if err != nil {
		return c, err
	}
	defer client.Close()
	err = client.StartTLS(&tls.Config{ServerName: c.submissionHostname})
	if err != nil {
		return c, fmt.Errorf("SMTP server doesn't support STARTTLS")
	}
	ok, auths := client.Extension("AUTH")
	if !ok {
		return c, fmt.Errorf("remote SMTP server doesn't support any authentication mechanisms")
	}
	if strings.Contains(auths, "PLAIN") {
		c.auth = smtp.PlainAuth("", c.username, c.password, c.submissionHostname)
	} else if strings.Contains(auths, "CRAM-MD5") {
		c.auth = smtp.CRAMMD5Auth(c.username, c.password)
	} else {
		return c, fmt.Errorf("SMTP server doesn't support PLAIN or CRAM-MD5 authentication")
	}
	return c, nil
}

func emailText(kind models.MailKind, signature models.Signature, petition models.Petition, website string) string {
	return fmt.Sprintf(templates[kind],
		signature.Name, petition.Action, website, signature.ID,
		signature.PerishableToken, signature.UnsubscribeToken, petition.ID)
}

// Send [interface signing.Mailer] sends a message of the given kind about
// signature to the address stored on it.
func (c Config) Send(ctx context.Context, kind models.MailKind, signature models.Signature, petition models.Petition) error {
	if _, ok := templates[kind]; !ok {
		return fmt.Errorf("unknown e-mail kind %q", kind)
	}
	err := c.sendEmail(subjects[kind], emailText(kind, signature, petition, c.website), signature.Email)
	status := "sent"
	if _, ok := err.(blacklistedError); ok {
		status = "blacklisted"
	} else if err != nil {
		status = "failed"
	}
	stats.Emails.WithLabelValues(string(kind), status).Inc()
	return err
}

// blacklistedError is returned when the recipient has bounced or complained.
type blacklistedError string

func (e blacklistedError) Error() string {
	return fmt.Sprintf("address %s is blacklisted", string(e))
}

func (c Config) sendEmail(subject string, body string, address string) error {
	blacklisted, err := c.database.IsBlacklistedEmail(address)
	if err != nil {
		return err
	}
	if blacklisted {
		return blacklistedError(address)
	}
	message := fmt.Sprintf("From: %s\nTo: %s\nSubject: %s\n\n%s",
		c.sender, address, subject, body)
	if c.submissionHostname == "" {
		log.WithField("to", address).Warn("Email host not configured, not sending email")
		log.Println(message)
		return nil
	}
	return smtp.SendMail(fmt.Sprintf("%s:%s", c.submissionHostname, c.port),
		c.auth,
		c.sender, []string{address}, []byte(message))
}

// Recipients lists the email addresses that have triggered a bounce or complaint.
type Recipients []struct {
	EmailAddress string `json:"emailAddress"`
}

// BlacklistRequest represents a submission for a particular email address to be blacklisted.
type BlacklistRequest struct {
	Reason     string
	Timestamp  string
	Recipients Recipients
	Raw        string
}

// UnmarshalJSON wrangles the JSON posted by AWS SNS into something easier to access
// and generalized across notification types.
func (r *BlacklistRequest) UnmarshalJSON(b []byte) error {
	// Message holds stringified JSON, so it is unmarshalled in two steps.
	var wrapper struct {
		Message   string
		Timestamp string
	}
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return fmt.Errorf("failed to load notification wrapper: %v", err)
	}

	type Complaint struct {
		*Recipients `json:"complainedRecipients"`
	}

	type Bounce struct {
		*Recipients `json:"bouncedRecipients"`
	}

	// Only one of Complaint or Bounce carries recipients, so both point at
	// the same list.
	var recipients Recipients
	msg := struct {
		NotificationType string `json:"notificationType"`
		Complaint        `json:"complaint"`
		Bounce           `json:"bounce"`
	}{
		Complaint: Complaint{Recipients: &recipients},
		Bounce:    Bounce{Recipients: &recipients},
	}

	if err := json.Unmarshal([]byte(wrapper.Message), &msg); err != nil {
		return fmt.Errorf("failed to load notification message: %v", err)
	}

	*r = BlacklistRequest{
		Raw:        wrapper.Message,
		Timestamp:  wrapper.Timestamp,
		Reason:     msg.NotificationType,
		Recipients: recipients,
	}
	return nil
}
