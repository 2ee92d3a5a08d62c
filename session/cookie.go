package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
	"github.com/petitions-gov-je/signatures-backend/util"
	log "github.com/sirupsen/logrus"
)

const (
	sessionName         = "petitions_session"
	acknowledgementName = "petitions_acknowledgements"
	dataKey             = "data"
)

// Store loads and saves sessions in encrypted, signed cookies.
type Store struct {
	cookies *sessions.CookieStore
}

// NewStore creates a Store. encryptionKey must be 16, 24 or 32 bytes long.
func NewStore(secret []byte, encryptionKey []byte) *Store {
	cookies := sessions.NewCookieStore(secret, encryptionKey)
	cookies.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Store{cookies: cookies}
}

// NewStoreFromEnv creates a Store from SESSION_SECRET and
// SESSION_ENCRYPTION_KEY.
func NewStoreFromEnv() (*Store, error) {
	errs := util.Errors{}
	secret := util.RequireEnv("SESSION_SECRET", &errs)
	encryptionKey := util.RequireEnv("SESSION_ENCRYPTION_KEY", &errs)
	switch len(encryptionKey) {
	case 0, 16, 24, 32:
	default:
		errs = append(errs, fmt.Errorf("SESSION_ENCRYPTION_KEY must be 16, 24 or 32 bytes, got %d", len(encryptionKey)))
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return NewStore([]byte(secret), []byte(encryptionKey)), nil
}

// Cookie is a Data loaded from a request's cookies.
type Cookie struct {
	*Data
	main *sessions.Session
	acks *sessions.Session
}

// Load reads the session from r. Cookies that can't be decoded, e.g. after
// a key rotation, are replaced by an empty session.
func (s *Store) Load(r *http.Request) *Cookie {
	c := &Cookie{Data: &Data{}}
	var err error
	if c.main, err = s.cookies.Get(r, sessionName); err != nil {
		log.WithError(err).Debug("Discarding unreadable session cookie")
	}
	if c.acks, err = s.cookies.Get(r, acknowledgementName); err != nil {
		log.WithError(err).Debug("Discarding unreadable acknowledgement cookie")
	}
	if raw, ok := c.main.Values[dataKey].(string); ok {
		if err := json.Unmarshal([]byte(raw), c.Data); err != nil {
			log.WithError(err).Debug("Discarding malformed session data")
			c.Data = &Data{}
		}
	}
	if raw, ok := c.acks.Values[dataKey].(string); ok {
		acks := map[string]time.Time{}
		if err := json.Unmarshal([]byte(raw), &acks); err == nil {
			c.Acknowledgements = acks
		}
	}
	c.init()
	return c
}

// Save writes the session back as cookies on w.
func (c *Cookie) Save(r *http.Request, w http.ResponseWriter) error {
	data, err := json.Marshal(c.Data)
	if err != nil {
		return err
	}
	acks, err := json.Marshal(c.Acknowledgements)
	if err != nil {
		return err
	}
	c.main.Values[dataKey] = string(data)
	c.acks.Values[dataKey] = string(acks)
	if err := c.main.Save(r, w); err != nil {
		return err
	}
	return c.acks.Save(r, w)
}
