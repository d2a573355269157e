package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadCredentialStoreMissingFileIsEmpty(t *testing.T) {
	store, err := loadCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	require.Empty(t, store.entries)
}

func TestLoadCredentialStoreUpgradesFlatShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"default":"sk-ant-old"}`), 0o600))

	store, err := loadCredentialStore(path)
	require.NoError(t, err)
	require.Equal(t, CredentialKindAPIKey, store.entries["default"].Kind)
	require.Equal(t, "sk-ant-old", store.entries["default"].ValueRef)
}

func TestCredentialStorePutPersistsAtomically(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.json")
	store, err := loadCredentialStore(path)
	require.NoError(t, err)

	record := CredentialRecord{Provider: "anthropic", Kind: CredentialKindAPIKey, ValueRef: "sk-ant-x", RefreshedAtUnixMs: 1000}
	require.NoError(t, store.put("default", record))
	require.FileExists(t, path)

	reloaded, err := loadCredentialStore(path)
	require.NoError(t, err)
	require.Equal(t, record, reloaded.entries["default"])

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1, "no leftover temp file")
}

func TestResolveCredentialDirectValueWinsOverStore(t *testing.T) {
	store, err := loadCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	require.NoError(t, store.put("default", CredentialRecord{Kind: CredentialKindAPIKey, ValueRef: "from-store"}))

	value, err := resolveCredential(store, "from-flag", "default")
	require.NoError(t, err)
	require.Equal(t, "from-flag", value)
}

func TestResolveCredentialLooksUpStoreID(t *testing.T) {
	store, err := loadCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	require.NoError(t, store.put("work", CredentialRecord{Kind: CredentialKindAPIKey, ValueRef: "sk-ant-work"}))

	value, err := resolveCredential(store, "", "work")
	require.NoError(t, err)
	require.Equal(t, "sk-ant-work", value)
}

func TestResolveCredentialUnknownStoreIDErrors(t *testing.T) {
	store, err := loadCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)

	_, err = resolveCredential(store, "", "missing")
	require.Error(t, err)
}

func TestResolveCredentialNonExpiredOAuth2UsesStoredValue(t *testing.T) {
	store, err := loadCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	future := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, store.put("google", CredentialRecord{
		Provider: "google", Kind: CredentialKindOAuth2, ValueRef: "access-token",
		ExpiresAtUnixMs: &future,
	}))

	value, err := resolveCredential(store, "", "google")
	require.NoError(t, err)
	require.Equal(t, "access-token", value)
}

func TestResolveCredentialExpiredOAuth2WithoutProviderConfigReturnsStaleValue(t *testing.T) {
	store, err := loadCredentialStore(filepath.Join(t.TempDir(), "credentials.json"))
	require.NoError(t, err)
	past := time.Now().Add(-time.Hour).UnixMilli()
	require.NoError(t, store.put("google", CredentialRecord{
		Provider: "google", Kind: CredentialKindOAuth2, ValueRef: "stale-token",
		RefreshToken: "refresh-xyz", ExpiresAtUnixMs: &past,
	}))

	value, err := resolveCredential(store, "", "google")
	require.NoError(t, err)
	require.Equal(t, "stale-token", value, "no registered oauth2Providers entry means no refresh attempt")
}

func TestCredentialRecordExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute).UnixMilli()
	future := now.Add(time.Minute).UnixMilli()

	require.False(t, CredentialRecord{}.expired(now), "no expiry set never expires")
	require.True(t, CredentialRecord{ExpiresAtUnixMs: &past}.expired(now))
	require.False(t, CredentialRecord{ExpiresAtUnixMs: &future}.expired(now))
}

func TestDefaultCredentialStorePath(t *testing.T) {
	require.Equal(t, filepath.Join("/tau", "credentials.json"), defaultCredentialStorePath("/tau"))
}

func TestCredentialRecordJSONShape(t *testing.T) {
	expires := int64(1700000000000)
	record := CredentialRecord{
		Provider: "anthropic", Kind: CredentialKindAPIKey, ValueRef: "sk-ant-x",
		RefreshedAtUnixMs: 1699999999000, ExpiresAtUnixMs: &expires,
	}
	body, err := json.Marshal(record)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	require.Equal(t, "anthropic", decoded["provider"])
	require.Equal(t, "api_key", decoded["kind"])
	require.Equal(t, "sk-ant-x", decoded["value_ref"])
	require.Contains(t, decoded, "expires_at_unix_ms")
}
