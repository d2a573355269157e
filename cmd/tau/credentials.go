package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/tau-run/tau/internal/atomicfile"
)

// CredentialKind distinguishes a static secret from one an OAuth2
// refresh token can mint a fresh access token for.
type CredentialKind string

const (
	CredentialKindAPIKey CredentialKind = "api_key"
	CredentialKindOAuth2 CredentialKind = "oauth2"
)

// CredentialRecord is one entry in the credential store: a provider's
// secret, how it was obtained, and (for an oauth2-kind entry) the
// timestamps needed to decide whether it wants refreshing before use.
// Grounded on the shape internal/auth/oauth.go's AuthResult/UserInfo
// pairing implies for a persisted provider credential, narrowed to what
// a CLI resolving one token per run needs rather than a multi-user
// web session store.
type CredentialRecord struct {
	Provider          string         `json:"provider"`
	Kind              CredentialKind `json:"kind"`
	ValueRef          string         `json:"value_ref"`
	RefreshedAtUnixMs int64          `json:"refreshed_at_unix_ms"`
	ExpiresAtUnixMs   *int64         `json:"expires_at_unix_ms,omitempty"`

	// RefreshToken is only populated for CredentialKindOAuth2 entries;
	// ValueRef holds the current access token.
	RefreshToken string `json:"refresh_token,omitempty"`
}

func (r CredentialRecord) expired(now time.Time) bool {
	if r.ExpiresAtUnixMs == nil {
		return false
	}
	return now.UnixMilli() >= *r.ExpiresAtUnixMs
}

// CredentialStore is the on-disk JSON file every preflight and transport
// command resolves provider credentials from: <tau-root>/credentials.json,
// a map of store id to CredentialRecord. Direct --api-key flags always
// win over a store lookup. Refreshed oauth2 entries are written back
// through the atomic file writer so a concurrent reader never observes
// a torn credentials file.
type CredentialStore struct {
	path    string
	entries map[string]CredentialRecord
}

// loadCredentialStore reads path if it exists; a missing file is an
// empty store rather than an error, since a deployment may rely entirely
// on direct flags/env vars. It also accepts the flat string-map shape an
// older store file may still be in, upgrading each entry to an api_key
// record in memory (the upgrade is persisted on the next write-back).
func loadCredentialStore(path string) (*CredentialStore, error) {
	store := &CredentialStore{path: path, entries: map[string]CredentialRecord{}}
	body, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return store, nil
		}
		return nil, fmt.Errorf("credentials: read %s: %w", path, err)
	}

	if err := json.Unmarshal(body, &store.entries); err == nil {
		return store, nil
	}

	var flat map[string]string
	if err := json.Unmarshal(body, &flat); err != nil {
		return nil, fmt.Errorf("credentials: parse %s: %w", path, err)
	}
	for id, value := range flat {
		store.entries[id] = CredentialRecord{Kind: CredentialKindAPIKey, ValueRef: value}
	}
	return store, nil
}

// save persists the store's entries through the atomic file writer.
func (s *CredentialStore) save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("credentials: create directory: %w", err)
	}
	body, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("credentials: encode: %w", err)
	}
	return atomicfile.WriteText(s.path, body)
}

// put sets id's record and persists the store.
func (s *CredentialStore) put(id string, record CredentialRecord) error {
	s.entries[id] = record
	return s.save()
}

// oauth2RefreshConfig resolves the provider-specific token endpoint an
// oauth2-kind credential refreshes against. Only providers a deployment
// has actually registered a client for are refreshable; every other
// provider's oauth2 entries are used as-is until they expire.
type oauth2RefreshConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

var oauth2Providers = map[string]oauth2RefreshConfig{}

// resolveCredential implements direct flag > store id lookup: a non-blank
// directValue always wins; otherwise storeID is looked up in store. An
// oauth2-kind entry past its expiry is refreshed in place before its
// value_ref is returned, provided its provider has a registered
// oauth2RefreshConfig; a provider with none just returns its (possibly
// stale) last-known access token.
func resolveCredential(store *CredentialStore, directValue, storeID string) (string, error) {
	if strings.TrimSpace(directValue) != "" {
		return directValue, nil
	}
	if strings.TrimSpace(storeID) == "" {
		return "", nil
	}
	record, ok := store.entries[storeID]
	if !ok {
		return "", fmt.Errorf("credentials: no entry %q in %s", storeID, store.path)
	}
	if record.Kind != CredentialKindOAuth2 || !record.expired(time.Now()) {
		return record.ValueRef, nil
	}
	cfg, ok := oauth2Providers[record.Provider]
	if !ok || record.RefreshToken == "" {
		return record.ValueRef, nil
	}

	refreshed, err := refreshOAuth2Credential(context.Background(), cfg, record)
	if err != nil {
		return "", fmt.Errorf("credentials: refresh %q: %w", storeID, err)
	}
	if err := store.put(storeID, refreshed); err != nil {
		return "", err
	}
	return refreshed.ValueRef, nil
}

// refreshOAuth2Credential exchanges record's refresh token for a new
// access token via golang.org/x/oauth2, grounded on the token exchange
// internal/auth/oauth.go's GenericOAuthProvider.Exchange performs for
// the authorization-code flow, adapted to the refresh-token grant.
func refreshOAuth2Credential(ctx context.Context, cfg oauth2RefreshConfig, record CredentialRecord) (CredentialRecord, error) {
	conf := oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: cfg.TokenURL},
	}
	src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: record.RefreshToken})
	token, err := src.Token()
	if err != nil {
		return CredentialRecord{}, err
	}

	now := time.Now()
	refreshed := record
	refreshed.ValueRef = token.AccessToken
	refreshed.RefreshedAtUnixMs = now.UnixMilli()
	if token.RefreshToken != "" {
		refreshed.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		ms := token.Expiry.UnixMilli()
		refreshed.ExpiresAtUnixMs = &ms
	}
	return refreshed, nil
}

func defaultCredentialStorePath(tauRoot string) string {
	return filepath.Join(tauRoot, "credentials.json")
}
