package delegation

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/soyeahso/conductor/internal/agent"
	"golang.org/x/oauth2"
)

// credentials is an agent's resolved auth block. Bearer tokens sent on the
// Authorization header come from tokens; api keys and bearer tokens on a
// custom header are static headers.
type credentials struct {
	tokens oauth2.TokenSource
	header http.Header
}

// resolveCredentials reads the secret named in metadata.auth.env at call
// time. An agent without an auth block gets empty credentials.
func resolveCredentials(c agent.Capability) (credentials, error) {
	auth, err := c.Auth()
	if err != nil || auth == nil {
		return credentials{}, err
	}
	secret := os.Getenv(auth.Env)
	if secret == "" {
		return credentials{}, fmt.Errorf("agent %s: credential env %s is not set", c.ID, auth.Env)
	}

	if auth.Type == agent.AuthAPIKey {
		h := http.Header{}
		h.Set(auth.Header, secret)
		return credentials{header: h}, nil
	}

	tok := &oauth2.Token{AccessToken: secret, TokenType: "Bearer"}
	if auth.Header == "" || strings.EqualFold(auth.Header, "Authorization") {
		return credentials{tokens: oauth2.StaticTokenSource(tok)}, nil
	}
	h := http.Header{}
	h.Set(auth.Header, tok.Type()+" "+tok.AccessToken)
	return credentials{header: h}, nil
}

// client returns base, or a copy of it whose transport attaches the bearer
// token to every request.
func (cr credentials) client(base *http.Client) *http.Client {
	if cr.tokens == nil {
		return base
	}
	wrapped := *base
	wrapped.Transport = &oauth2.Transport{Source: cr.tokens, Base: base.Transport}
	return &wrapped
}

// apply writes the credentials into h, for the websocket handshake which
// does not go through an http.Client.
func (cr credentials) apply(h http.Header) error {
	applyHeader(h, cr.header)
	if cr.tokens == nil {
		return nil
	}
	tok, err := cr.tokens.Token()
	if err != nil {
		return fmt.Errorf("agent token: %w", err)
	}
	tok.SetAuthHeader(&http.Request{Header: h})
	return nil
}

func applyHeader(dst, src http.Header) {
	for k, vs := range src {
		for _, v := range vs {
			dst.Add(k, v)
		}
	}
}
