package cloudauth

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// CloudPlatformScope is the OAuth2 scope Antigravity's Cloud Code endpoint
// requires. It is the default when NewGCPOAuthTransport is given no scopes.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// GCPOAuthTransport injects a GCP bearer token on outbound Antigravity
// requests. The token source caches and refreshes tokens, so a provider
// client kept warm across config reloads survives token expiry without
// being rebuilt.
type GCPOAuthTransport struct {
	base   http.RoundTripper
	source oauth2.TokenSource
}

// NewGCPOAuthTransport resolves Application Default Credentials and wraps
// base with bearer-token injection. Construction fails when no credentials
// are found, so a misconfigured Antigravity provider surfaces at client
// build time instead of on the first proxied request.
func NewGCPOAuthTransport(ctx context.Context, base http.RoundTripper, scopes ...string) (*GCPOAuthTransport, error) {
	if len(scopes) == 0 {
		scopes = []string{CloudPlatformScope}
	}
	creds, err := google.FindDefaultCredentials(ctx, scopes...)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: resolve application default credentials: %w", err)
	}
	return newGCPOAuthTransportFromSource(base, creds.TokenSource), nil
}

// newGCPOAuthTransportFromSource wires an explicit token source, bypassing
// ADC discovery in tests.
func newGCPOAuthTransportFromSource(base http.RoundTripper, ts oauth2.TokenSource) *GCPOAuthTransport {
	return &GCPOAuthTransport{
		base:   base,
		source: oauth2.ReuseTokenSource(nil, ts),
	}
}

// RoundTrip sets Authorization on a clone of r; the caller's request is
// never mutated.
func (t *GCPOAuthTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	tok, err := t.source.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: fetch GCP token: %w", err)
	}
	out := r.Clone(r.Context())
	out.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	return t.getBase().RoundTrip(out)
}

func (t *GCPOAuthTransport) getBase() http.RoundTripper {
	if t.base != nil {
		return t.base
	}
	return http.DefaultTransport
}
