package envelope

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrDecode indicates a malformed wire payload. It signals a protocol
// mismatch between relay and subscriber; the offending message should be
// logged and dropped, never retried.
var ErrDecode = errors.New("malformed envelope payload")

// wireEnvelope is the JSON form carried on subscriber channels. The body is
// base64 so arbitrary binary content survives the text transport; null (as
// opposed to "") marks an absent body.
type wireEnvelope struct {
	URL     string            `json:"url"`
	Method  string            `json:"method"`
	Headers map[string]string `json:"headers"`
	Body    *string           `json:"body"`
}

// Encode serializes an Envelope into its wire form.
func Encode(e *Envelope) ([]byte, error) {
	w := wireEnvelope{
		URL:     e.SourceURL,
		Method:  e.Method,
		Headers: e.Headers,
	}
	if e.Body != nil {
		encoded := base64.StdEncoding.EncodeToString(e.Body)
		w.Body = &encoded
	}

	payload, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return payload, nil
}

// Decode parses a wire payload back into an Envelope. All structural
// failures wrap ErrDecode.
func Decode(payload []byte) (*Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(payload, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if w.URL == "" || w.Method == "" {
		return nil, fmt.Errorf("%w: missing url or method", ErrDecode)
	}

	e := &Envelope{
		SourceURL: w.URL,
		Method:    w.Method,
		Headers:   w.Headers,
	}
	if e.Headers == nil {
		e.Headers = map[string]string{}
	}
	if w.Body != nil {
		body, err := base64.StdEncoding.DecodeString(*w.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid body encoding: %v", ErrDecode, err)
		}
		// A present body is non-nil even when empty.
		if body == nil {
			body = []byte{}
		}
		e.Body = body
	}
	return e, nil
}
