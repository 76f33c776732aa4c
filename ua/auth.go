package ua

import (
	"fmt"

	"github.com/gosoftphone/core/digestauth"
	"github.com/gosoftphone/core/sip"
)

// buildAuthorization parses the WWW-Authenticate/Proxy-Authenticate header
// on a 401/407 response and computes the Authorization header to attach to
// the resent request, per spec.md §4.6.
func buildAuthorization(res *sip.Response, method sip.RequestMethod, uri, username, password string) (sip.Header, error) {
	name := "www-authenticate"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		name = "proxy-authenticate"
	}
	h := res.GetHeader(name)
	if h == nil {
		return nil, fmt.Errorf("ua: %d response missing %s", res.StatusCode, name)
	}

	chal, err := digestauth.ParseChallenge(h.Value())
	if err != nil {
		return nil, fmt.Errorf("ua: parse challenge: %w", err)
	}

	cred, err := digestauth.Compute(chal, string(method), uri, username, password)
	if err != nil {
		return nil, fmt.Errorf("ua: compute digest: %w", err)
	}

	headerName := "Authorization"
	if res.StatusCode == sip.StatusProxyAuthRequired {
		headerName = "Proxy-Authorization"
	}
	return sip.NewHeader(headerName, cred.String()), nil
}
