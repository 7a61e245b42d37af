package message

import (
	"io"
	"net/textproto"
)

// Header is the opaque metadata delivered with an input unit. It has the same
// shape as NATS and HTTP headers so transport headers map onto it directly.
type Header map[string][]string

// Get returns the first value for key, matching keys case-sensitively first and
// then in canonical MIME form.
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	if v := h[key]; len(v) > 0 {
		return v[0]
	}
	if v := h[textproto.CanonicalMIMEHeaderKey(key)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// Set replaces the values for key.
func (h Header) Set(key, value string) {
	h[key] = []string{value}
}

// Clone returns a deep copy.
func (h Header) Clone() Header {
	if h == nil {
		return nil
	}
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Unit is one byte stream plus its header. The body is read once and closed by
// the pipeline driver.
type Unit struct {
	Header Header
	Body   io.ReadCloser
}

// NewUnit wraps a reader that needs no release.
func NewUnit(header Header, body io.Reader) *Unit {
	rc, ok := body.(io.ReadCloser)
	if !ok {
		rc = io.NopCloser(body)
	}
	return &Unit{Header: header, Body: rc}
}
