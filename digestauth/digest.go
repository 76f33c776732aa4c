// Package digestauth implements spec.md §4.6: parsing a WWW-Authenticate /
// Proxy-Authenticate challenge and computing the RFC 2617/8760 Digest MD5
// response for SIP REGISTER and INVITE. It is a thin wrapper over
// github.com/icholy/digest, the library the teacher's client.go and
// dialog_client.go use for the same purpose.
package digestauth

import (
	"fmt"

	"github.com/icholy/digest"
)

// Challenge is the parsed form of spec.md §3's Auth Challenge tuple.
type Challenge struct {
	Realm     string
	Nonce     string
	Algorithm string
	QOP       string
	Opaque    string
	raw       *digest.Challenge
}

// ParseChallenge parses a WWW-Authenticate or Proxy-Authenticate header
// value. Only the Digest scheme without qop is required by spec.md; qop,
// algorithm and opaque are recognized but the caller is free to ignore them.
func ParseChallenge(headerValue string) (*Challenge, error) {
	c, err := digest.ParseChallenge(headerValue)
	if err != nil {
		return nil, fmt.Errorf("digestauth: parse challenge: %w", err)
	}
	return &Challenge{
		Realm:     c.Realm,
		Nonce:     c.Nonce,
		Algorithm: c.Algorithm,
		QOP:       c.QOP,
		Opaque:    c.Opaque,
		raw:       c,
	}, nil
}

// Credentials is a computed Digest response ready to serialize into an
// Authorization/Proxy-Authorization header.
type Credentials struct {
	Username string
	URI      string
	value    *digest.Credentials
}

// String renders the Authorization header value:
// Digest username="…", realm="…", nonce="…", uri="…", response="…", algorithm=MD5
func (c *Credentials) String() string { return c.value.String() }

// Response returns just the computed "response" field, for tests that want
// to check the MD5 chain directly against an RFC 2617 vector.
func (c *Credentials) Response() string { return c.value.Response }

// Compute builds the Authorization credentials for method/uri using the
// given challenge and account. The request-URI passed here must be the
// exact same string placed in HA2 and in the resent request's Request-URI,
// per spec.md §4.6.
func Compute(chal *Challenge, method, uri, username, password string) (*Credentials, error) {
	cred, err := digest.Digest(chal.raw, digest.Options{
		Method:   method,
		URI:      uri,
		Username: username,
		Password: password,
	})
	if err != nil {
		return nil, fmt.Errorf("digestauth: compute response: %w", err)
	}
	return &Credentials{Username: username, URI: uri, value: &cred}, nil
}
