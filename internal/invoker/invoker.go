// Package invoker performs the outbound HTTP request for one job
// firing and reduces whatever happened to a structured outcome. It
// never returns an error to the dispatcher; every failure mode becomes
// a categorized outcome instead.
package invoker

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/cronmaster/internal/store"
)

const (
	// DefaultUserAgent identifies requests when the job template does
	// not set its own.
	DefaultUserAgent = "CronMaster/1.0"

	// DefaultTimeout is the hard wall-clock cap on one invocation,
	// connection establishment and body read included.
	DefaultTimeout = 30 * time.Second

	maxRedirects = 5
)

// Invoker executes job HTTP requests. Safe for concurrent use.
type Invoker struct {
	client    *http.Client
	userAgent string
	timeout   time.Duration
	bodyLimit int
}

// Option tweaks Invoker construction.
type Option func(*Invoker)

// WithUserAgent overrides the default User-Agent.
func WithUserAgent(ua string) Option {
	return func(inv *Invoker) {
		if ua != "" {
			inv.userAgent = ua
		}
	}
}

// WithTimeout overrides the per-invocation timeout.
func WithTimeout(d time.Duration) Option {
	return func(inv *Invoker) {
		if d > 0 {
			inv.timeout = d
		}
	}
}

// WithBodyLimit overrides the captured response body cap.
func WithBodyLimit(n int) Option {
	return func(inv *Invoker) {
		if n > 0 {
			inv.bodyLimit = n
		}
	}
}

// New builds an Invoker with the redirect policy applied: at most five
// hops, same scheme+host only keeps credentials, a cross-origin hop
// drops the Authorization header.
func New(opts ...Option) *Invoker {
	inv := &Invoker{
		userAgent: DefaultUserAgent,
		timeout:   DefaultTimeout,
		bodyLimit: 10 * 1024,
	}
	for _, opt := range opts {
		opt(inv)
	}
	inv.client = &http.Client{
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if !sameOrigin(req.URL, via[0].URL) {
				req.Header.Del("Authorization")
			}
			return nil
		},
	}
	return inv
}

func sameOrigin(a, b *url.URL) bool {
	return a.Scheme == b.Scheme && strings.EqualFold(a.Host, b.Host)
}

// Invoke performs one HTTP request from the job template. The ctx
// bounds the whole attempt on top of the configured timeout; a ctx
// cancelled by shutdown yields a cancelled outcome rather than a
// timeout.
func (inv *Invoker) Invoke(ctx context.Context, job *store.Job) store.Outcome {
	ctx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	start := time.Now()
	req, err := inv.buildRequest(ctx, job)
	if err != nil {
		return failure("", err.Error(), start)
	}

	resp, err := inv.client.Do(req)
	if err != nil {
		return inv.transportFailure(ctx, err, start)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, int64(inv.bodyLimit)))
	// Drain whatever remains so the connection can be reused; the
	// captured portion is already bounded.
	io.Copy(io.Discard, resp.Body)

	out := store.Outcome{
		DurationMS:   time.Since(start).Milliseconds(),
		ResponseCode: &resp.StatusCode,
		RespHeaders:  flattenHeaders(resp.Header),
	}
	if len(body) > 0 {
		s := string(body)
		out.ResponseBody = &s
	}

	switch {
	case readErr != nil:
		out.Status = store.ExecFailed
		msg := fmt.Sprintf("%s: %v", store.ReasonTruncatedRead, readErr)
		out.ErrorMessage = &msg
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		out.Status = store.ExecSuccess
	default:
		out.Status = store.ExecFailed
		msg := fmt.Sprintf("%s: status %d", store.ReasonNon2xx, resp.StatusCode)
		out.ErrorMessage = &msg
	}
	return out
}

func (inv *Invoker) buildRequest(ctx context.Context, job *store.Job) (*http.Request, error) {
	var body io.Reader
	sendBody := job.Body != nil && *job.Body != "" && methodTakesBody(job.Method)
	if sendBody {
		body = strings.NewReader(*job.Body)
	}

	req, err := http.NewRequestWithContext(ctx, job.Method, job.URL, body)
	if err != nil {
		return nil, err
	}

	for k, v := range job.Headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", inv.userAgent)
	}
	if sendBody && req.Header.Get("Content-Type") == "" {
		if json.Valid([]byte(*job.Body)) {
			req.Header.Set("Content-Type", "application/json")
		} else {
			req.Header.Set("Content-Type", "application/octet-stream")
		}
	}
	return req, nil
}

func methodTakesBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

// transportFailure categorizes an error from client.Do. Order matters:
// a deadline error wins over whatever the dialer wrapped it in, and a
// caller-cancelled context is shutdown, not a job failure.
func (inv *Invoker) transportFailure(ctx context.Context, err error, start time.Time) store.Outcome {
	switch {
	case ctx.Err() == context.Canceled:
		// Shutdown, not a job failure. No error message recorded.
		return store.Outcome{Status: store.ExecCancelled, DurationMS: time.Since(start).Milliseconds()}
	case errors.Is(err, context.DeadlineExceeded):
		return failure(store.ReasonTimeout, fmt.Sprintf("no response within %s", inv.timeout), start)
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return failure(store.ReasonDNSFailure, dnsErr.Error(), start)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return failure(store.ReasonConnRefused, err.Error(), start)
	}
	if isTLSError(err) {
		return failure(store.ReasonTLSFailure, err.Error(), start)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failure(store.ReasonTimeout, err.Error(), start)
	}
	// Redirect policy violations and anything else unrecognized record
	// as a plain failure with the transport message.
	return failure("", err.Error(), start)
}

func isTLSError(err error) bool {
	var (
		certErr    *tls.CertificateVerificationError
		recordErr  tls.RecordHeaderError
		unknownCA  x509.UnknownAuthorityError
		hostErr    x509.HostnameError
		invalidErr x509.CertificateInvalidError
	)
	return errors.As(err, &certErr) || errors.As(err, &recordErr) ||
		errors.As(err, &unknownCA) || errors.As(err, &hostErr) ||
		errors.As(err, &invalidErr)
}

// failure builds a no-response outcome. A timeout reason doubles as
// the status; everything else records as failed.
func failure(reason, msg string, start time.Time) store.Outcome {
	status := store.ExecFailed
	if reason == store.ReasonTimeout {
		status = store.ExecTimeout
	}
	if reason != "" && !strings.HasPrefix(msg, reason) {
		msg = reason + ": " + msg
	}
	return store.Outcome{
		Status:       status,
		DurationMS:   time.Since(start).Milliseconds(),
		ErrorMessage: &msg,
	}
}

func flattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}
