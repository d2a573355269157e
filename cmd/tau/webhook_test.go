package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChannelFromPath(t *testing.T) {
	require.Equal(t, "github", channelFromPath("/webhook/github"))
	require.Equal(t, "github", channelFromPath("/webhook/github/"))
	require.Equal(t, "", channelFromPath("/webhook/"))
	require.Equal(t, "", channelFromPath("/other/github"))
}

func TestWebhookHandlerIngestsValidGitHubSignature(t *testing.T) {
	definitionsDir := t.TempDir()
	store := &CredentialStore{entries: map[string]CredentialRecord{
		"webhook:github": {ValueRef: "shh"},
	}}
	handler := &webhookHandler{definitionsDir: definitionsDir, store: store}

	body := []byte(`{"ping":true}`)
	mac := hmac.New(sha256.New, []byte("shh"))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(string(body)))
	req.Header.Set("X-Tau-Signature", sig)
	req.Header.Set("X-Tau-Algorithm", "github_sha256")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	entries, err := os.ReadDir(definitionsDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestWebhookHandlerRejectsBadSignature(t *testing.T) {
	definitionsDir := t.TempDir()
	store := &CredentialStore{entries: map[string]CredentialRecord{
		"webhook:github": {ValueRef: "shh"},
	}}
	handler := &webhookHandler{definitionsDir: definitionsDir, store: store}

	req := httptest.NewRequest(http.MethodPost, "/webhook/github", strings.NewReader(`{}`))
	req.Header.Set("X-Tau-Signature", "sha256=deadbeef")
	req.Header.Set("X-Tau-Algorithm", "github_sha256")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	entries, err := os.ReadDir(definitionsDir)
	require.NoError(t, err)
	require.Len(t, entries, 0)
}

func TestWebhookHandlerUnknownChannelUnauthorized(t *testing.T) {
	store := &CredentialStore{entries: map[string]CredentialRecord{}}
	handler := &webhookHandler{definitionsDir: t.TempDir(), store: store}

	req := httptest.NewRequest(http.MethodPost, "/webhook/unknown", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhookHandlerRejectsNonPost(t *testing.T) {
	handler := &webhookHandler{definitionsDir: t.TempDir(), store: &CredentialStore{entries: map[string]CredentialRecord{}}}
	req := httptest.NewRequest(http.MethodGet, "/webhook/github", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
