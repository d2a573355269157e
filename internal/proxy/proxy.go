// Package proxy implements the training attribution reverse proxy: a
// thin net/http/httputil.ReverseProxy pass-through in front of
// /v1/chat/completions that requires rollout/attempt attribution
// headers on every request and appends a JSONL record of what it
// forwarded.
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tau-run/tau/internal/atomicfile"
	"github.com/tau-run/tau/pkg/models"
)

const (
	headerRolloutID = "X-Rollout-Id"
	headerAttemptID = "X-Attempt-Id"
	headerTraceID   = "X-Trace-Id"

	// ErrMissingAttribution is the error code returned when a request is
	// missing or has blank rollout/attempt attribution headers.
	ErrMissingAttribution = "training_proxy_missing_or_invalid_attribution_header"
)

// defaultAllowedHeaders is the set of request headers forwarded
// upstream; everything else is stripped by the Director.
var defaultAllowedHeaders = []string{
	"Content-Type",
	"Authorization",
	headerRolloutID,
	headerAttemptID,
	headerTraceID,
}

// Config holds the Proxy's construction inputs.
type Config struct {
	Upstream           *url.URL
	AttributionLogPath string
	AllowedHeaders     []string
	Now                func() time.Time
}

func (c Config) withDefaults() Config {
	if len(c.AllowedHeaders) == 0 {
		c.AllowedHeaders = defaultAllowedHeaders
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Proxy forwards /v1/chat/completions to cfg.Upstream, per §4.K: reject
// requests missing attribution headers, forward only the allow-listed
// headers, copy the upstream body and content-type verbatim, and append
// one JSONL attribution record per request regardless of outcome.
type Proxy struct {
	cfg      Config
	handler  http.Handler
	sequence atomic.Int64
}

// New constructs a Proxy. It never touches the network itself; callers
// mount Proxy at the desired path via http.Handle.
func New(cfg Config) *Proxy {
	cfg = cfg.withDefaults()
	p := &Proxy{cfg: cfg}

	rp := &httputil.ReverseProxy{
		Director: p.director,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			writeJSONError(w, http.StatusBadGateway, "io_error", err.Error())
			if rec, ok := w.(*recorder); ok {
				rec.errorCode = "io_error"
				rec.errorMessage = err.Error()
			}
		},
	}
	p.handler = rp
	return p
}

// ServeHTTP enforces the attribution-header precondition and, if it
// holds, delegates to the underlying reverse proxy with byte-counting
// and attribution logging wrapped around it. Exactly one attribution
// record is appended per request, whether it succeeds, fails upstream,
// or is rejected for missing attribution headers.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := p.cfg.Now()

	rollout := strings.TrimSpace(r.Header.Get(headerRolloutID))
	attempt := strings.TrimSpace(r.Header.Get(headerAttemptID))
	if rollout == "" || attempt == "" {
		writeJSONError(w, http.StatusBadRequest, ErrMissingAttribution, "missing or blank x-rollout-id/x-attempt-id")
		p.appendAttribution(models.AttributionRecord{
			RolloutID:    rollout,
			AttemptID:    attempt,
			Sequence:     p.sequence.Add(1),
			TraceID:      r.Header.Get(headerTraceID),
			StatusCode:   http.StatusBadRequest,
			ErrorCode:    ErrMissingAttribution,
			ErrorMessage: "missing or blank x-rollout-id/x-attempt-id",
			DurationMS:   p.cfg.Now().Sub(start).Milliseconds(),
			TimestampMS:  p.cfg.Now().UnixMilli(),
		})
		return
	}

	var reqBody []byte
	if r.Body != nil {
		reqBody, _ = io.ReadAll(r.Body)
		r.Body = io.NopCloser(bytes.NewReader(reqBody))
	}

	rec := recorder{ResponseWriter: w, status: http.StatusOK}
	p.handler.ServeHTTP(&rec, r)

	p.appendAttribution(models.AttributionRecord{
		RolloutID:     rollout,
		AttemptID:     attempt,
		Sequence:      p.sequence.Add(1),
		TraceID:       r.Header.Get(headerTraceID),
		RequestBytes:  len(reqBody),
		ResponseBytes: rec.bytesWritten,
		StatusCode:    rec.status,
		ErrorCode:     rec.errorCode,
		ErrorMessage:  rec.errorMessage,
		DurationMS:    p.cfg.Now().Sub(start).Milliseconds(),
		TimestampMS:   p.cfg.Now().UnixMilli(),
	})
}

// director strips every header not on the allow-list and points the
// request at the configured upstream, per the teacher's header
// allow-listing style (internal/channels/registry.go's channel
// metadata forwarding narrows to a fixed field set rather than passing
// everything through).
func (p *Proxy) director(r *http.Request) {
	allowed := make(http.Header, len(p.cfg.AllowedHeaders))
	for _, name := range p.cfg.AllowedHeaders {
		if v := r.Header.Values(name); len(v) > 0 {
			allowed[http.CanonicalHeaderKey(name)] = v
		}
	}
	r.Header = allowed

	r.URL.Scheme = p.cfg.Upstream.Scheme
	r.URL.Host = p.cfg.Upstream.Host
	r.Host = p.cfg.Upstream.Host
}

func writeJSONError(w http.ResponseWriter, status int, code, message string) {
	body, _ := json.Marshal(map[string]string{"error_code": code, "error_message": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func (p *Proxy) appendAttribution(rec models.AttributionRecord) {
	if p.cfg.AttributionLogPath == "" {
		return
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	_ = atomicfile.AppendLine(p.cfg.AttributionLogPath, line)
}

// recorder wraps http.ResponseWriter to capture the status code and
// response byte count the reverse proxy writes, without buffering the
// body (the upstream body is streamed straight through).
type recorder struct {
	http.ResponseWriter
	status       int
	bytesWritten int
	wroteHeader  bool
	errorCode    string
	errorMessage string
}

func (r *recorder) WriteHeader(status int) {
	if !r.wroteHeader {
		r.status = status
		r.wroteHeader = true
	}
	r.ResponseWriter.WriteHeader(status)
}

func (r *recorder) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.status = http.StatusOK
		r.wroteHeader = true
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytesWritten += n
	return n, err
}
