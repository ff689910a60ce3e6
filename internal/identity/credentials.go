package identity

import (
	"context"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/rappen/RappSack/pkg/schema"
)

// DefaultAuthorityHost is the Microsoft identity platform endpoint.
const DefaultAuthorityHost = "https://login.microsoftonline.com"

// ClientCredentials acquires app-only tokens with the OAuth2 client
// credentials grant.
type ClientCredentials struct {
	TenantID      string
	ClientID      string
	ClientSecret  string
	AuthorityHost string
	HTTPClient    *http.Client
}

// TokenURL returns the token endpoint of the tenant.
func (c *ClientCredentials) TokenURL() string {
	host := c.AuthorityHost
	if host == "" {
		host = DefaultAuthorityHost
	}
	return strings.TrimRight(host, "/") + "/" + c.TenantID + "/oauth2/v2.0/token"
}

func (c *ClientCredentials) validate() error {
	var missing []string
	if c.TenantID == "" {
		missing = append(missing, "tenant id")
	}
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.ClientSecret == "" {
		missing = append(missing, "client secret")
	}
	if len(missing) > 0 {
		return schema.NewErrorf(schema.ErrCodeConfiguration,
			"client credentials incomplete: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Token requests a token for scope.
func (c *ClientCredentials) Token(ctx context.Context, scope string) (*oauth2.Token, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	cfg := clientcredentials.Config{
		ClientID:     c.ClientID,
		ClientSecret: c.ClientSecret,
		TokenURL:     c.TokenURL(),
		Scopes:       []string{scope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	if c.HTTPClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, c.HTTPClient)
	}
	tok, err := cfg.Token(ctx)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeIdentity, "acquiring token for %s: %s", scope, err.Error()).
			WithCause(err)
	}
	return tok, nil
}
