// Package forward turns decoded envelopes back into HTTP requests against a
// locally reachable target. Dispatch is best-effort per message: outcomes are
// logged, never retried, and never propagated to the subscriber channel.
package forward

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/hookline/hookline/envelope"
	"github.com/hookline/hookline/logging"
)

// defaultRequestTimeout bounds one forward attempt.
const defaultRequestTimeout = 30 * time.Second

// emptyJSONBody is substituted when a callback declared a JSON content type
// but carried no body. Some providers omit empty bodies while downstream
// frameworks refuse to parse a declared-JSON request without one.
var emptyJSONBody = []byte("{}")

// TargetConfig describes the local service that receives forwarded callbacks.
type TargetConfig struct {
	// URL is the target base, e.g. "http://localhost:8787". Only its scheme,
	// host, and port are used; path and query always come from the envelope.
	URL string

	// PreserveHost forwards the original Host header unmodified instead of
	// rewriting it to the target authority. Off by default: the original
	// hostname almost never resolves correctly against a local target, so
	// the rewrite records it in X-Forwarded-Host/X-Forwarded-Proto instead.
	PreserveHost bool

	// RequestTimeout bounds one forward attempt. Zero means the default.
	RequestTimeout time.Duration
}

// Dispatcher issues outbound HTTP requests for decoded envelopes.
type Dispatcher struct {
	logger logging.Logger
	target *url.URL
	config TargetConfig
	client *http.Client
}

// NewDispatcher creates a dispatcher for the given target.
func NewDispatcher(logger logging.Logger, config TargetConfig) (*Dispatcher, error) {
	target, err := url.Parse(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid target URL %q: %w", config.URL, err)
	}
	if target.Scheme != "http" && target.Scheme != "https" {
		return nil, fmt.Errorf("target URL %q must use http or https", config.URL)
	}
	if target.Host == "" {
		return nil, fmt.Errorf("target URL %q has no host", config.URL)
	}

	timeout := config.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &Dispatcher{
		logger: logging.ForComponent(logger, logging.ComponentDispatcher),
		target: target,
		config: config,
		client: client,
	}, nil
}

// Dispatch forwards one envelope to the target. The returned error exists
// for observation only; callers log it and move on. A non-2xx response is a
// dispatch failure like any network error.
func (d *Dispatcher) Dispatch(ctx context.Context, env *envelope.Envelope) error {
	start := time.Now()

	outURL, err := d.rewriteURL(env.SourceURL)
	if err != nil {
		forwards.WithLabelValues(outcomeError).Inc()
		return fmt.Errorf("failed to rewrite source URL: %w", err)
	}

	body, hasBody := d.requestBody(env)

	var reader io.Reader
	if hasBody {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, env.Method, outURL, reader)
	if err != nil {
		forwards.WithLabelValues(outcomeError).Inc()
		return fmt.Errorf("failed to build forward request: %w", err)
	}

	d.applyHeaders(req, env)

	resp, err := d.client.Do(req)
	if err != nil {
		forwards.WithLabelValues(outcomeError).Inc()
		d.logger.Warn().
			Err(err).
			Str(logging.FieldMethod, env.Method).
			Str(logging.FieldURL, outURL).
			Msg("forward failed")
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, resp.Body)

	forwardLatency.Observe(time.Since(start).Seconds())

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		forwards.WithLabelValues(outcomeNon2xx).Inc()
		d.logger.Warn().
			Str(logging.FieldMethod, env.Method).
			Str(logging.FieldURL, outURL).
			Int(logging.FieldStatus, resp.StatusCode).
			Msg("forward returned non-2xx")
		return fmt.Errorf("target returned status %d for %s", resp.StatusCode, outURL)
	}

	forwards.WithLabelValues(outcomeOK).Inc()
	d.logger.Debug().
		Str(logging.FieldMethod, env.Method).
		Str(logging.FieldURL, outURL).
		Int(logging.FieldStatus, resp.StatusCode).
		Msg("forwarded webhook")
	return nil
}

// rewriteURL replaces only the scheme, host, and port of the source URL with
// the target's, preserving path and query exactly. An empty source path
// becomes "/".
func (d *Dispatcher) rewriteURL(sourceURL string) (string, error) {
	src, err := url.Parse(sourceURL)
	if err != nil {
		return "", err
	}

	out := *src
	out.Scheme = d.target.Scheme
	out.Host = d.target.Host
	if out.Path == "" {
		out.Path = "/"
	}
	return out.String(), nil
}

// requestBody returns the outbound body and whether one should be sent at
// all. A present body passes through byte-exact, even when empty; an absent
// body with a declared JSON content type becomes "{}".
func (d *Dispatcher) requestBody(env *envelope.Envelope) ([]byte, bool) {
	if env.HasBody() {
		return env.Body, true
	}
	if strings.Contains(strings.ToLower(env.Header("Content-Type")), "application/json") {
		return emptyJSONBody, true
	}
	return nil, false
}

// applyHeaders copies the captured headers onto the outbound request. Unless
// PreserveHost is set, Host is rewritten to the target authority and the
// original host and scheme are recorded in forwarding headers.
func (d *Dispatcher) applyHeaders(req *http.Request, env *envelope.Envelope) {
	for name, value := range env.Headers {
		req.Header.Set(name, value)
	}

	originalHost := env.Header("Host")
	src, err := url.Parse(env.SourceURL)
	if err == nil && originalHost == "" {
		originalHost = src.Host
	}

	if d.config.PreserveHost {
		if originalHost != "" {
			req.Host = originalHost
		}
		return
	}

	req.Host = d.target.Host
	req.Header.Del("Host")
	if originalHost != "" {
		req.Header.Set("X-Forwarded-Host", originalHost)
	}
	if err == nil && src.Scheme != "" {
		req.Header.Set("X-Forwarded-Proto", src.Scheme)
	}
}
