// Package constituency resolves postcodes to parliamentary constituencies.
package constituency

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/util"
	"github.com/pkg/errors"
)

// Lookuper finds the constituency id for a normalized postcode. An empty id
// with a nil error means the postcode is unknown.
type Lookuper interface {
	Lookup(ctx context.Context, postcode string) (string, error)
}

// Client queries a constituency API over HTTP. The API answers
// GET {URL}/postcodes/{postcode} with {"constituency_id": "..."} and 404 for
// unknown postcodes.
type Client struct {
	URL  string
	HTTP *http.Client
}

type lookupResponse struct {
	ConstituencyID string `json:"constituency_id"`
}

// Lookup [interface Lookuper]
func (c Client) Lookup(ctx context.Context, postcode string) (string, error) {
	postcode = models.NormalizePostcode(postcode)
	if len(postcode) == 0 {
		return "", nil
	}
	endpoint := fmt.Sprintf("%s/postcodes/%s", strings.TrimSuffix(c.URL, "/"), url.PathEscape(postcode))
	req, err := http.NewRequest(http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req.WithContext(ctx))
	if err != nil {
		return "", errors.Wrap(err, "constituency lookup")
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("constituency lookup for %s: unexpected status %d", postcode, resp.StatusCode)
	}
	var body lookupResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errors.Wrap(err, "decoding constituency lookup")
	}
	return body.ConstituencyID, nil
}

// Static is a fixed postcode to constituency table.
type Static map[string]string

// Lookup [interface Lookuper]
func (s Static) Lookup(_ context.Context, postcode string) (string, error) {
	return s[models.NormalizePostcode(postcode)], nil
}

var configDefaults = map[string]string{
	"CONSTITUENCY_CACHE_TTL": "24h",
}

// NewFromEnv builds a cached Client for CONSTITUENCY_API_URL. Without it,
// every postcode is unknown.
func NewFromEnv() (Lookuper, error) {
	errs := util.Errors{}
	ttl := util.EnvDuration("CONSTITUENCY_CACHE_TTL", configDefaults, &errs)
	if len(errs) > 0 {
		return nil, errs
	}
	apiURL := util.EnvOrDefault("CONSTITUENCY_API_URL", configDefaults)
	if len(apiURL) == 0 {
		return Static{}, nil
	}
	client := Client{URL: apiURL, HTTP: &http.Client{Timeout: 5 * time.Second}}
	return NewCache(client, ttl), nil
}
