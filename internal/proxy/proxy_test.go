package proxy

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tau-run/tau/pkg/models"
)

func newTestProxy(t *testing.T, upstream *httptest.Server) (*Proxy, string) {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	require.NoError(t, err)
	logPath := filepath.Join(t.TempDir(), "attribution.jsonl")
	return New(Config{Upstream: u, AttributionLogPath: logPath}), logPath
}

func readRecords(t *testing.T, path string) []models.AttributionRecord {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []models.AttributionRecord
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var rec models.AttributionRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
		out = append(out, rec)
	}
	return out
}

func TestServeHTTPRejectsMissingAttributionHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("upstream should not be reached")
	}))
	defer upstream.Close()

	p, logPath := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, ErrMissingAttribution, body["error_code"])

	records := readRecords(t, logPath)
	require.Len(t, records, 1)
	require.Equal(t, ErrMissingAttribution, records[0].ErrorCode)
}

func TestServeHTTPForwardsOnlyAllowedHeaders(t *testing.T) {
	var gotHeaders http.Header
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	p, logPath := newTestProxy(t, upstream)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{"prompt":"hi"}`))
	req.Header.Set(headerRolloutID, "rollout-1")
	req.Header.Set(headerAttemptID, "attempt-1")
	req.Header.Set("X-Secret-Internal", "should-not-forward")
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "rollout-1", gotHeaders.Get(headerRolloutID))
	require.Empty(t, gotHeaders.Get("X-Secret-Internal"))

	records := readRecords(t, logPath)
	require.Len(t, records, 1)
	require.Equal(t, "rollout-1", records[0].RolloutID)
	require.Equal(t, "attempt-1", records[0].AttemptID)
	require.Equal(t, http.StatusOK, records[0].StatusCode)
	require.Greater(t, records[0].ResponseBytes, 0)
	require.Greater(t, records[0].RequestBytes, 0)
}

func TestServeHTTPAssignsIncreasingSequenceNumbers(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	p, logPath := newTestProxy(t, upstream)

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
		req.Header.Set(headerRolloutID, "r")
		req.Header.Set(headerAttemptID, "a")
		p.ServeHTTP(httptest.NewRecorder(), req)
	}

	records := readRecords(t, logPath)
	require.Len(t, records, 3)
	require.Equal(t, int64(1), records[0].Sequence)
	require.Equal(t, int64(2), records[1].Sequence)
	require.Equal(t, int64(3), records[2].Sequence)
}

func TestServeHTTPRecordsErrorWhenUpstreamUnreachable(t *testing.T) {
	u, err := url.Parse("http://127.0.0.1:1")
	require.NoError(t, err)
	logPath := filepath.Join(t.TempDir(), "attribution.jsonl")
	p := New(Config{Upstream: u, AttributionLogPath: logPath})

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", bytes.NewBufferString(`{}`))
	req.Header.Set(headerRolloutID, "r")
	req.Header.Set(headerAttemptID, "a")
	rec := httptest.NewRecorder()
	p.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadGateway, rec.Code)

	records := readRecords(t, logPath)
	require.Len(t, records, 1)
	require.Equal(t, "io_error", records[0].ErrorCode)
}
