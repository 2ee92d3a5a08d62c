package db

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/petitions-gov-je/signatures-backend/models"
	"github.com/petitions-gov-je/signatures-backend/ratelimit"
)

// MemDatabase is an in-memory Database for tests and local development. A
// single mutex serializes every operation, which gives it the same
// one-winner guarantees as the SQL conditional updates.
type MemDatabase struct {
	mu         sync.Mutex
	petitions  map[int64]models.Petition
	signatures map[int64]models.Signature
	policy     *ratelimit.Policy
	events     *ratelimit.MemoryStore
	blacklist  map[string]EmailBlacklistData
	nextID     int64
}

// InitMemDatabase creates an empty MemDatabase.
func InitMemDatabase() *MemDatabase {
	return &MemDatabase{
		petitions:  make(map[int64]models.Petition),
		signatures: make(map[int64]models.Signature),
		events:     ratelimit.NewMemoryStore(),
		blacklist:  make(map[string]EmailBlacklistData),
	}
}

func (db *MemDatabase) id() int64 {
	db.nextID++
	return db.nextID
}

// FindPetition retrieves a petition by id.
func (db *MemDatabase) FindPetition(_ context.Context, id int64) (models.Petition, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	petition, ok := db.petitions[id]
	if !ok {
		return models.Petition{}, models.ErrNoPetition
	}
	return petition, nil
}

// PutPetition inserts a petition if it has no id yet, and replaces it otherwise.
func (db *MemDatabase) PutPetition(_ context.Context, petition *models.Petition) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if petition.ID == 0 {
		petition.ID = db.id()
	}
	if petition.CreatedAt.IsZero() {
		petition.CreatedAt = time.Now()
	}
	db.petitions[petition.ID] = *petition
	return nil
}

// IncrementSignatureCount adds one to a petition's count and stamps
// thresholds reached for the first time.
func (db *MemDatabase) IncrementSignatureCount(_ context.Context, petitionID int64, at time.Time, thresholds models.Thresholds) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	petition, ok := db.petitions[petitionID]
	if !ok {
		return nil
	}
	petition.SignatureCount++
	if petition.ResponseThresholdReachedAt == nil && reached(petition.SignatureCount, thresholds.Response) {
		petition.ResponseThresholdReachedAt = &at
	}
	if petition.DebateThresholdReachedAt == nil && reached(petition.SignatureCount, thresholds.Debate) {
		petition.DebateThresholdReachedAt = &at
	}
	db.petitions[petitionID] = petition
	return nil
}

// FindSignature retrieves a signature by id.
func (db *MemDatabase) FindSignature(_ context.Context, id int64) (models.Signature, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	signature, ok := db.signatures[id]
	if !ok {
		return models.Signature{}, models.ErrNoSignature
	}
	return signature, nil
}

// liveSignatures returns the live signatures of a petition matching keep,
// ordered by id. Callers must hold the lock.
func (db *MemDatabase) liveSignatures(petitionID int64, keep func(models.Signature) bool) []models.Signature {
	matches := []models.Signature{}
	for _, signature := range db.signatures {
		if signature.PetitionID == petitionID && signature.State.Live() && keep(signature) {
			matches = append(matches, signature)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches
}

// memQueries implements the lookups for a caller that already holds the lock.
type memQueries struct {
	db *MemDatabase
}

func (q memQueries) FindSignatureByEmail(_ context.Context, petitionID int64, normalizedEmail string) (models.Signature, error) {
	matches := q.db.liveSignatures(petitionID, func(s models.Signature) bool {
		return s.NormalizedEmail == normalizedEmail
	})
	if len(matches) == 0 {
		return models.Signature{}, models.ErrNoSignature
	}
	return matches[0], nil
}

func (q memQueries) FindSignatureByCanonicalEmail(_ context.Context, petitionID int64, canonicalEmail string) (models.Signature, error) {
	matches := q.db.liveSignatures(petitionID, func(s models.Signature) bool {
		return s.CanonicalEmail == canonicalEmail
	})
	if len(matches) == 0 {
		return models.Signature{}, models.ErrNoSignature
	}
	for _, match := range matches {
		if match.NormalizedEmail == match.CanonicalEmail {
			return match, nil
		}
	}
	return matches[0], nil
}

// FindSignatureByEmail retrieves the live signature of petitionID with this
// normalized email.
func (db *MemDatabase) FindSignatureByEmail(ctx context.Context, petitionID int64, normalizedEmail string) (models.Signature, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memQueries{db}.FindSignatureByEmail(ctx, petitionID, normalizedEmail)
}

// FindSignatureByCanonicalEmail retrieves the live signature of petitionID
// with this canonical email.
func (db *MemDatabase) FindSignatureByCanonicalEmail(ctx context.Context, petitionID int64, canonicalEmail string) (models.Signature, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	return memQueries{db}.FindSignatureByCanonicalEmail(ctx, petitionID, canonicalEmail)
}

// CreateSignature resolves duplicates and inserts under the database lock.
func (db *MemDatabase) CreateSignature(ctx context.Context, signature *models.Signature, aliases bool) (models.Signature, bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	signature.NormalizedEmail = models.NormalizeEmail(signature.Email)
	signature.CanonicalEmail = models.CanonicalEmail(signature.Email)
	existing, found, err := models.ResolveDuplicate(ctx, memQueries{db}, signature.PetitionID, signature.Email, aliases)
	if err != nil || found {
		return existing, false, err
	}
	signature.ID = db.id()
	db.signatures[signature.ID] = *signature
	return *signature, true, nil
}

// ValidateSignature moves a pending signature to validated if token is still
// its perishable token.
func (db *MemDatabase) ValidateSignature(_ context.Context, id int64, token string, v models.Validation) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	signature, ok := db.signatures[id]
	if !ok || signature.State != models.StatePending || signature.PerishableToken != token {
		return false, nil
	}
	signature.Apply(v)
	db.signatures[id] = signature
	return true, nil
}

func (db *MemDatabase) updateSignature(id int64, update func(*models.Signature)) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if signature, ok := db.signatures[id]; ok {
		update(&signature)
		db.signatures[id] = signature
	}
}

// RefreshConfirmation restarts the lifetime of a signature's confirmation link.
func (db *MemDatabase) RefreshConfirmation(_ context.Context, id int64, at time.Time) error {
	db.updateSignature(id, func(s *models.Signature) {
		s.ConfirmationSentAt = at
		s.UpdatedAt = at
	})
	return nil
}

// MarkSeenSignedConfirmationPage records that the signer saw the signed page.
func (db *MemDatabase) MarkSeenSignedConfirmationPage(_ context.Context, id int64) error {
	db.updateSignature(id, func(s *models.Signature) { s.SeenSignedConfirmationPage = true })
	return nil
}

// Unsubscribe turns off notification e-mails for a signature.
func (db *MemDatabase) Unsubscribe(_ context.Context, id int64) error {
	db.updateSignature(id, func(s *models.Signature) { s.NotifyByEmail = false })
	return nil
}

// PutSignatureState overrides a signature's state, the way moderators and
// anti-fraud jobs do.
func (db *MemDatabase) PutSignatureState(_ context.Context, id int64, state models.SignatureState) error {
	db.updateSignature(id, func(s *models.Signature) { s.State = state })
	return nil
}

// SignatureTotals [interface stats.Store] counts signatures by state.
func (db *MemDatabase) SignatureTotals(_ context.Context) (map[string]int64, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	totals := make(map[string]int64)
	for _, signature := range db.signatures {
		totals[string(signature.State)]++
	}
	return totals, nil
}

// RateLimitPolicy [interface ratelimit.PolicySource] returns the stored
// policy, or ratelimit.DefaultPolicy.
func (db *MemDatabase) RateLimitPolicy(_ context.Context) (ratelimit.Policy, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.policy == nil {
		return ratelimit.DefaultPolicy, nil
	}
	return *db.policy, nil
}

// PutRateLimitPolicy stores the policy.
func (db *MemDatabase) PutRateLimitPolicy(_ context.Context, policy ratelimit.Policy) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.policy = &policy
	return nil
}

func (db *MemDatabase) eventStore() *ratelimit.MemoryStore {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.events
}

// Hit [interface ratelimit.Store]
func (db *MemDatabase) Hit(ctx context.Context, key string, now time.Time, windows []ratelimit.Window) (int, error) {
	return db.eventStore().Hit(ctx, key, now, windows)
}

// Prune [interface ratelimit.Store]
func (db *MemDatabase) Prune(ctx context.Context, before time.Time) (int64, error) {
	return db.eventStore().Prune(ctx, before)
}

// PutBlacklistedEmail adds a bounce or complaint notification to the email blacklist.
func (db *MemDatabase) PutBlacklistedEmail(email string, reason string, timestamp string) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	email = models.NormalizeEmail(email)
	db.blacklist[email] = EmailBlacklistData{Email: email, Reason: reason, Timestamp: timestamp}
	return nil
}

// IsBlacklistedEmail returns true iff we've blacklisted the passed email address for sending.
func (db *MemDatabase) IsBlacklistedEmail(email string) (bool, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	_, ok := db.blacklist[models.NormalizeEmail(email)]
	return ok, nil
}

// ClearTables empties the database.
func (db *MemDatabase) ClearTables() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.petitions = make(map[int64]models.Petition)
	db.signatures = make(map[int64]models.Signature)
	db.policy = nil
	db.events = ratelimit.NewMemoryStore()
	db.blacklist = make(map[string]EmailBlacklistData)
	return nil
}
