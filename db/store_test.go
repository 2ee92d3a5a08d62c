package db_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/petitions-gov-je/signatures-backend/db"
	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/ratelimit"
)

// Tests shared by every Database implementation.
var storeTests = []struct {
	name string
	test func(t *testing.T, database db.Database)
}{
	{"PetitionRoundTrip", testPetitionRoundTrip},
	{"IncrementSignatureCount", testIncrementSignatureCount},
	{"CreateSignature", testCreateSignature},
	{"CreateSignatureAliases", testCreateSignatureAliases},
	{"CanonicalPrefersUntagged", testCanonicalPrefersUntagged},
	{"TerminalSignaturesDontBlock", testTerminalSignaturesDontBlock},
	{"ConcurrentCreateSignature", testConcurrentCreateSignature},
	{"ValidateSignature", testValidateSignature},
	{"ConcurrentValidateSignature", testConcurrentValidateSignature},
	{"SignatureUpdates", testSignatureUpdates},
	{"RateLimitPolicy", testRateLimitPolicy},
	{"RateLimitEvents", testRateLimitEvents},
	{"Blacklist", testBlacklist},
}

func runStoreTests(t *testing.T, database db.Database) {
	for _, st := range storeTests {
		t.Run(st.name, func(t *testing.T) {
			if err := database.ClearTables(); err != nil {
				t.Fatal(err)
			}
			st.test(t, database)
		})
	}
}

var now = time.Date(2019, 4, 18, 6, 0, 0, 0, time.UTC)

func putOpenPetition(t *testing.T, database db.Database) models.Petition {
	petition := models.Petition{Action: "Do something", State: models.PetitionOpen, OpenedAt: &now}
	if err := database.PutPetition(context.Background(), &petition); err != nil {
		t.Fatalf("PutPetition failed: %v", err)
	}
	return petition
}

func newSignature(petitionID int64, email string) *models.Signature {
	return &models.Signature{
		PetitionID:         petitionID,
		Name:               "Suzie Signer",
		Email:              email,
		Postcode:           "SW1A1AA",
		LocationCode:       "GB",
		UKCitizenship:      true,
		IPAddress:          "192.168.1.1",
		State:              models.StatePending,
		PerishableToken:    "perishable-" + email,
		UnsubscribeToken:   "unsubscribe-" + email,
		ConfirmationSentAt: now,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

func testPetitionRoundTrip(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	found, err := database.FindPetition(context.Background(), petition.ID)
	if err != nil {
		t.Fatalf("FindPetition failed: %v", err)
	}
	if found.Action != petition.Action || found.State != models.PetitionOpen {
		t.Errorf("Expected %v and %v to be the same", petition, found)
	}
	if _, err := database.FindPetition(context.Background(), petition.ID+1000); err != models.ErrNoPetition {
		t.Errorf("Expected ErrNoPetition for unknown id, got %v", err)
	}
}

func testIncrementSignatureCount(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	thresholds := models.Thresholds{Response: 2, Debate: 3}
	for i := 0; i < 4; i++ {
		at := now.Add(time.Duration(i) * time.Hour)
		if err := database.IncrementSignatureCount(context.Background(), petition.ID, at, thresholds); err != nil {
			t.Fatalf("IncrementSignatureCount failed: %v", err)
		}
	}
	found, _ := database.FindPetition(context.Background(), petition.ID)
	if found.SignatureCount != 4 {
		t.Errorf("Expected signature count 4, got %d", found.SignatureCount)
	}
	if found.ResponseThresholdReachedAt == nil || !found.ResponseThresholdReachedAt.Equal(now.Add(time.Hour)) {
		t.Errorf("Expected response threshold stamped once at the 2nd signature, got %v", found.ResponseThresholdReachedAt)
	}
	if found.DebateThresholdReachedAt == nil || !found.DebateThresholdReachedAt.Equal(now.Add(2*time.Hour)) {
		t.Errorf("Expected debate threshold stamped at the 3rd signature, got %v", found.DebateThresholdReachedAt)
	}
}

func testCreateSignature(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	created, ok, err := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), true)
	if err != nil || !ok {
		t.Fatalf("Expected signature to be created, got %v (%v)", ok, err)
	}
	if created.ID == 0 || created.NormalizedEmail != "suzie@example.com" {
		t.Errorf("Unexpected created signature %+v", created)
	}
	existing, ok, err := database.CreateSignature(context.Background(), newSignature(petition.ID, "Suzie@Example.com"), true)
	if err != nil || ok {
		t.Fatalf("Expected duplicate to be returned, got %v (%v)", ok, err)
	}
	if existing.ID != created.ID {
		t.Errorf("Expected duplicate of %d, got %d", created.ID, existing.ID)
	}
	// Another petition is unaffected.
	other := putOpenPetition(t, database)
	if _, ok, _ := database.CreateSignature(context.Background(), newSignature(other.ID, "suzie@example.com"), true); !ok {
		t.Errorf("Expected a signature on another petition to be created")
	}
}

func testCreateSignatureAliases(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	original, _, err := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), true)
	if err != nil {
		t.Fatal(err)
	}
	existing, ok, err := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie+petitions@example.com"), true)
	if err != nil || ok || existing.ID != original.ID {
		t.Errorf("Expected alias to resolve to %d, got %d created=%v (%v)", original.ID, existing.ID, ok, err)
	}
	_, ok, err = database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie+petitions@example.com"), false)
	if err != nil || !ok {
		t.Errorf("Expected alias to be created when alias resolution is off, got %v (%v)", ok, err)
	}
}

func testCanonicalPrefersUntagged(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie+one@example.com"), false)
	untagged, _, _ := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), false)
	database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie+two@example.com"), false)
	found, err := database.FindSignatureByCanonicalEmail(context.Background(), petition.ID, "suzie@example.com")
	if err != nil {
		t.Fatal(err)
	}
	if found.ID != untagged.ID {
		t.Errorf("Expected untagged signature %d, got %d", untagged.ID, found.ID)
	}
}

func testTerminalSignaturesDontBlock(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	first, _, _ := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), true)
	if err := database.PutSignatureState(context.Background(), first.ID, models.StateFraudulent); err != nil {
		t.Fatal(err)
	}
	second, ok, err := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), true)
	if err != nil || !ok || second.ID == first.ID {
		t.Errorf("Expected a fraudulent signature not to block a new one, got %+v created=%v (%v)", second, ok, err)
	}
}

func testConcurrentCreateSignature(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	var wg sync.WaitGroup
	var mu sync.Mutex
	created := 0
	ids := map[int64]bool{}
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			email := "suzie@example.com"
			if i%2 == 1 {
				email = fmt.Sprintf("suzie+%d@example.com", i)
			}
			signature, ok, err := database.CreateSignature(context.Background(), newSignature(petition.ID, email), true)
			if err != nil {
				t.Errorf("CreateSignature failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			ids[signature.ID] = true
			if ok {
				created++
			}
		}(i)
	}
	wg.Wait()
	if created != 1 || len(ids) != 1 {
		t.Errorf("Expected exactly one signature created, got %d created and ids %v", created, ids)
	}
}

func testValidateSignature(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	signature, _, _ := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), true)
	validation := models.Validation{At: now.Add(time.Hour), IP: "10.0.0.1", ConstituencyID: "3415", SignedToken: "signed"}
	if ok, err := database.ValidateSignature(context.Background(), signature.ID, "wrong", validation); ok || err != nil {
		t.Errorf("Expected wrong token not to validate, got %v (%v)", ok, err)
	}
	if ok, err := database.ValidateSignature(context.Background(), signature.ID, signature.PerishableToken, validation); !ok || err != nil {
		t.Fatalf("Expected signature to validate, got %v (%v)", ok, err)
	}
	if ok, _ := database.ValidateSignature(context.Background(), signature.ID, signature.PerishableToken, validation); ok {
		t.Errorf("Expected second validation to be a no-op")
	}
	found, _ := database.FindSignature(context.Background(), signature.ID)
	if found.State != models.StateValidated || found.ConstituencyID != "3415" ||
		found.SignedToken != "signed" || found.ValidatedIP != "10.0.0.1" ||
		found.ValidatedAt == nil || !found.ValidatedAt.Equal(validation.At) {
		t.Errorf("Validation not stored: %+v", found)
	}
}

func testConcurrentValidateSignature(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	signature, _, _ := database.CreateSignature(context.Background(), newSignature(petition.ID, "suzie@example.com"), true)
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := database.ValidateSignature(context.Background(), signature.ID, signature.PerishableToken,
				models.Validation{At: now, SignedToken: fmt.Sprintf("signed-%d", i)})
			if err != nil {
				t.Errorf("ValidateSignature failed: %v", err)
			}
			if ok {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if winners != 1 {
		t.Errorf("Expected exactly one winner, got %d", winners)
	}
}

func testSignatureUpdates(t *testing.T, database db.Database) {
	petition := putOpenPetition(t, database)
	signature := newSignature(petition.ID, "suzie@example.com")
	signature.NotifyByEmail = true
	created, _, _ := database.CreateSignature(context.Background(), signature, true)
	later := now.Add(48 * time.Hour)
	database.RefreshConfirmation(context.Background(), created.ID, later)
	database.MarkSeenSignedConfirmationPage(context.Background(), created.ID)
	database.Unsubscribe(context.Background(), created.ID)
	found, err := database.FindSignature(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !found.ConfirmationSentAt.Equal(later) || !found.SeenSignedConfirmationPage || found.NotifyByEmail {
		t.Errorf("Updates not stored: %+v", found)
	}
	totals, err := database.SignatureTotals(context.Background())
	if err != nil || totals["pending"] != 1 {
		t.Errorf("Expected one pending signature in totals, got %v (%v)", totals, err)
	}
	if _, err := database.FindSignature(context.Background(), created.ID+1000); err != models.ErrNoSignature {
		t.Errorf("Expected ErrNoSignature, got %v", err)
	}
}

func testRateLimitPolicy(t *testing.T, database db.Database) {
	policy, err := database.RateLimitPolicy(context.Background())
	if err != nil || policy != ratelimit.DefaultPolicy {
		t.Errorf("Expected default policy, got %+v (%v)", policy, err)
	}
	stored := ratelimit.Policy{
		BurstRate: 5, BurstPeriod: 30 * time.Second,
		SustainedRate: 50, SustainedPeriod: time.Hour,
		AllowedDomains: "example.com", AllowedIPs: "127.0.0.1",
	}
	for i := 0; i < 2; i++ {
		if err := database.PutRateLimitPolicy(context.Background(), stored); err != nil {
			t.Fatalf("PutRateLimitPolicy failed: %v", err)
		}
	}
	policy, _ = database.RateLimitPolicy(context.Background())
	if policy != stored {
		t.Errorf("Expected %+v, got %+v", stored, policy)
	}
}

func testRateLimitEvents(t *testing.T, database db.Database) {
	windows := []ratelimit.Window{{Name: "burst", Rate: 2, Period: time.Minute}}
	for i := 0; i < 2; i++ {
		if blocked, err := database.Hit(context.Background(), "ip:10.0.0.1", now, windows); blocked != -1 || err != nil {
			t.Fatalf("Hit %d: expected to be recorded, got %d (%v)", i, blocked, err)
		}
	}
	if blocked, _ := database.Hit(context.Background(), "ip:10.0.0.1", now, windows); blocked != 0 {
		t.Errorf("Expected third hit to be blocked by window 0, got %d", blocked)
	}
	pruned, err := database.Prune(context.Background(), now.Add(time.Second))
	if err != nil || pruned != 2 {
		t.Errorf("Expected two events pruned, got %d (%v)", pruned, err)
	}
}

func testBlacklist(t *testing.T, database db.Database) {
	if err := database.PutBlacklistedEmail("Fail@Example.com", "bounce", "2019-04-18T06:00:00Z"); err != nil {
		t.Fatal(err)
	}
	if blacklisted, err := database.IsBlacklistedEmail("fail@example.com"); !blacklisted || err != nil {
		t.Errorf("Expected address to be blacklisted, got %v (%v)", blacklisted, err)
	}
	if blacklisted, _ := database.IsBlacklistedEmail("ok@example.com"); blacklisted {
		t.Errorf("Expected address not to be blacklisted")
	}
}
