// Package envelope defines the unit relayed end-to-end: one inbound HTTP
// callback captured as source URL, method, headers, and optional body, plus
// the wire codec used on subscriber channels.
//
// An Envelope is immutable once constructed. It is created by the relay on
// each accepted callback, serialized once, and consumed by the forwarding
// dispatcher on the subscriber side.
package envelope

import (
	"io"
	"net/http"
)

// Envelope is one relayed HTTP callback.
type Envelope struct {
	// SourceURL is the absolute URL of the original inbound callback,
	// exactly as the relay observed it.
	SourceURL string

	// Method is the HTTP method token, case-preserved.
	Method string

	// Headers maps header name to value. Duplicate inbound values collapse
	// last-write-wins; insertion order is irrelevant.
	Headers map[string]string

	// Body is the raw request body. A nil slice means the callback carried
	// no body at all, which is distinct from a present-but-empty body.
	Body []byte
}

// HasBody reports whether the envelope carries a body, including an empty one.
func (e *Envelope) HasBody() bool {
	return e.Body != nil
}

// Header returns the named header value, matching case-insensitively the way
// http.Header does. Returns "" when absent.
func (e *Envelope) Header(name string) string {
	if v, ok := e.Headers[name]; ok {
		return v
	}
	canonical := http.CanonicalHeaderKey(name)
	for k, v := range e.Headers {
		if http.CanonicalHeaderKey(k) == canonical {
			return v
		}
	}
	return ""
}

// FromRequest captures an inbound callback request as an Envelope. The source
// URL is rebuilt from the request's scheme, Host, and request URI so the
// subscriber sees exactly what the relay received. The body is fully read;
// a request with no body framing at all yields a nil Body, while an explicit
// empty body (Content-Length: 0) yields a present zero-length one.
func FromRequest(r *http.Request) (*Envelope, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(r.Header))
	for name, values := range r.Header {
		if len(values) == 0 {
			continue
		}
		// last-write-wins on duplicates
		headers[name] = values[len(values)-1]
	}

	if len(body) == 0 && !requestHasBodyFraming(r) {
		body = nil
	}

	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return &Envelope{
		SourceURL: scheme + "://" + r.Host + r.RequestURI,
		Method:    r.Method,
		Headers:   headers,
		Body:      body,
	}, nil
}

// requestHasBodyFraming reports whether the request declared a body on the
// wire. This distinguishes GET-with-no-body from POST-with-empty-body.
func requestHasBodyFraming(r *http.Request) bool {
	if r.ContentLength > 0 {
		return true
	}
	if len(r.TransferEncoding) > 0 {
		return true
	}
	// Content-Length: 0 is explicit framing for an empty body.
	return r.Header.Get("Content-Length") != ""
}
