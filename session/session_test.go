package session

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
)

var now = time.Date(2019, 4, 18, 6, 0, 0, 0, time.UTC)

func TestExpireFormRequests(t *testing.T) {
	d := New()
	d.SetFormRequest(100000, models.FormRequest{FormToken: "wYonHKjTeW7mtTusqDv", FormRequestedAt: now.Add(-48 * time.Hour)})
	d.SetImageLoadedAt("wYonHKjTeW7mtTusqDv", now.Add(-48*time.Hour))
	d.SetFormRequest(100001, models.FormRequest{FormToken: "m8aLsmzvUTVHSgGVBeh", FormRequestedAt: now.Add(-2 * time.Hour)})
	d.SetImageLoadedAt("m8aLsmzvUTVHSgGVBeh", now.Add(-2*time.Hour))

	d.ExpireFormRequests(now.Add(-24 * time.Hour))

	if _, ok := d.FormRequest(100000); ok {
		t.Errorf("Expected the 2-day-old form request to be purged")
	}
	if _, ok := d.ImageLoadedAt("wYonHKjTeW7mtTusqDv"); ok {
		t.Errorf("Expected the 2-day-old acknowledgement to be purged")
	}
	if _, ok := d.FormRequest(100001); !ok {
		t.Errorf("Expected the 2-hour-old form request to be kept")
	}
	if _, ok := d.ImageLoadedAt("m8aLsmzvUTVHSgGVBeh"); !ok {
		t.Errorf("Expected the 2-hour-old acknowledgement to be kept")
	}
}

func TestDeleteFormRequestDeletesAcknowledgement(t *testing.T) {
	d := New()
	d.SetFormRequest(1, models.FormRequest{FormToken: "token", FormRequestedAt: now})
	d.SetImageLoadedAt("token", now)
	d.DeleteFormRequest(1)
	if _, ok := d.FormRequest(1); ok {
		t.Errorf("Expected form request to be deleted")
	}
	if _, ok := d.ImageLoadedAt("token"); ok {
		t.Errorf("Expected acknowledgement to be deleted")
	}
}

func TestReplaceSignedTokens(t *testing.T) {
	d := New()
	d.ReplaceSignedTokens(1, "one")
	d.SignedTokens["2"] = "two"
	d.ReplaceSignedTokens(3, "three")
	if len(d.SignedTokens) != 1 {
		t.Errorf("Expected only one signed token, got %v", d.SignedTokens)
	}
	if token, ok := d.SignedToken(3); !ok || token != "three" {
		t.Errorf("Expected signed token for 3, got %q", token)
	}
	d.DeleteSignedToken(3)
	if _, ok := d.SignedToken(3); ok {
		t.Errorf("Expected signed token to be deleted")
	}
}

func TestCookieRoundTrip(t *testing.T) {
	store := NewStore([]byte("test-session-secret-test-session"), []byte("0123456789abcdef0123456789abcdef"))

	r := httptest.NewRequest("GET", "/petitions/1/signatures/new", nil)
	w := httptest.NewRecorder()
	c := store.Load(r)
	c.SetFormRequest(1, models.FormRequest{FormToken: "D8MxrkwNexP1NgxpZq", FormRequestedAt: now})
	c.SetImageLoadedAt("D8MxrkwNexP1NgxpZq", now.Add(time.Second))
	c.ReplaceSignedTokens(42, "signed")
	c.SetThankYou(1, "suzie@example.com")
	if err := c.Save(r, w); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	next := httptest.NewRequest("GET", "/petitions/1/signatures/thank-you", nil)
	for _, cookie := range w.Result().Cookies() {
		next.AddCookie(cookie)
	}
	loaded := store.Load(next)
	request, ok := loaded.FormRequest(1)
	if !ok || request.FormToken != "D8MxrkwNexP1NgxpZq" || !request.FormRequestedAt.Equal(now) {
		t.Errorf("Form request not restored: %+v", request)
	}
	if at, ok := loaded.ImageLoadedAt("D8MxrkwNexP1NgxpZq"); !ok || !at.Equal(now.Add(time.Second)) {
		t.Errorf("Acknowledgement not restored: %v", at)
	}
	if token, _ := loaded.SignedToken(42); token != "signed" {
		t.Errorf("Signed token not restored: %q", token)
	}
	if email, _ := loaded.ThankYou(1); email != "suzie@example.com" {
		t.Errorf("Thank-you marker not restored: %q", email)
	}
}

func TestCookieFromAnotherKeyIsDiscarded(t *testing.T) {
	other := NewStore([]byte("another-secret-another-secret-12"), []byte("fedcba9876543210fedcba9876543210"))
	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	c := other.Load(r)
	c.SetThankYou(1, "suzie@example.com")
	c.Save(r, w)

	store := NewStore([]byte("test-session-secret-test-session"), []byte("0123456789abcdef0123456789abcdef"))
	next := httptest.NewRequest("GET", "/", nil)
	for _, cookie := range w.Result().Cookies() {
		next.AddCookie(cookie)
	}
	loaded := store.Load(next)
	if _, ok := loaded.ThankYou(1); ok {
		t.Errorf("Expected a cookie signed with another key to be ignored")
	}
	// Still writable.
	loaded.SetThankYou(2, "ted@example.com")
	if err := loaded.Save(next, httptest.NewRecorder()); err != nil {
		t.Errorf("Save failed: %v", err)
	}
}

func TestNewStoreFromEnvRejectsBadKey(t *testing.T) {
	t.Setenv("SESSION_SECRET", "secret")
	t.Setenv("SESSION_ENCRYPTION_KEY", "short")
	if _, err := NewStoreFromEnv(); err == nil {
		t.Errorf("Expected a 5-byte encryption key to be rejected")
	}
}
