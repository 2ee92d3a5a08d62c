package models

import (
	"context"
	"errors"
	"testing"
)

func TestCanonicalEmail(t *testing.T) {
	var tests = []struct {
		in, out string
	}{
		{"ted@example.com", "ted@example.com"},
		{"Ted+Petitions@Example.COM", "ted@example.com"},
		{"ted+a+b@example.com", "ted@example.com"},
		{"+ted@example.com", "+ted@example.com"},
		{"ted@bücher.example", "ted@xn--bcher-kva.example"},
		{"not-an-address", "not-an-address"},
	}
	for _, test := range tests {
		if got := CanonicalEmail(test.in); got != test.out {
			t.Errorf("CanonicalEmail(%q) = %q, want %q", test.in, got, test.out)
		}
	}
}

func TestEmailDomain(t *testing.T) {
	if domain := EmailDomain("Ted@Example.com"); domain != "example.com" {
		t.Errorf("Expected example.com, got %s", domain)
	}
	if domain := EmailDomain("ted@"); domain != "" {
		t.Errorf("Expected no domain, got %s", domain)
	}
}

// mockFinder indexes signatures by their normalized and canonical addresses.
type mockFinder struct {
	byEmail     map[string]Signature
	byCanonical map[string]Signature
	err         error
}

func (m mockFinder) FindSignatureByEmail(_ context.Context, _ int64, email string) (Signature, error) {
	if m.err != nil {
		return Signature{}, m.err
	}
	if s, ok := m.byEmail[email]; ok {
		return s, nil
	}
	return Signature{}, ErrNoSignature
}

func (m mockFinder) FindSignatureByCanonicalEmail(_ context.Context, _ int64, email string) (Signature, error) {
	if s, ok := m.byCanonical[email]; ok {
		return s, nil
	}
	return Signature{}, ErrNoSignature
}

func TestResolveDuplicateAlias(t *testing.T) {
	original := Signature{ID: 1, Email: "ted@example.com"}
	finder := mockFinder{
		byEmail:     map[string]Signature{"ted@example.com": original},
		byCanonical: map[string]Signature{"ted@example.com": original},
	}
	signature, found, err := ResolveDuplicate(context.Background(), finder, 1, "ted+petitions@example.com", true)
	if err != nil || !found || signature.ID != 1 {
		t.Errorf("Expected alias to resolve to signature 1, got %v %v %v", signature.ID, found, err)
	}
	_, found, err = ResolveDuplicate(context.Background(), finder, 1, "ted+petitions@example.com", false)
	if err != nil || found {
		t.Errorf("Expected no match with alias resolution disabled")
	}
}

func TestResolveDuplicateExactWins(t *testing.T) {
	tagged := Signature{ID: 1, Email: "ted+petitions@example.com"}
	plain := Signature{ID: 2, Email: "ted@example.com"}
	finder := mockFinder{
		byEmail: map[string]Signature{
			"ted+petitions@example.com": tagged,
			"ted@example.com":           plain,
		},
		byCanonical: map[string]Signature{"ted@example.com": tagged},
	}
	signature, found, _ := ResolveDuplicate(context.Background(), finder, 1, "TED@example.com", true)
	if !found || signature.ID != 2 {
		t.Errorf("Expected exact match (2) to win, got %d", signature.ID)
	}
	signature, found, _ = ResolveDuplicate(context.Background(), finder, 1, "ted+petitions@example.com", true)
	if !found || signature.ID != 1 {
		t.Errorf("Expected exact match (1) to win, got %d", signature.ID)
	}
}

func TestResolveDuplicateStoreError(t *testing.T) {
	finder := mockFinder{err: errors.New("connection refused")}
	_, _, err := ResolveDuplicate(context.Background(), finder, 1, "ted@example.com", true)
	if err == nil {
		t.Error("Expected store errors to be returned")
	}
}
