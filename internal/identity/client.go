package identity

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/rappen/RappSack/pkg/plugin"
	"github.com/rappen/RappSack/pkg/schema"
)

// APIPath is the Web API root below the environment URL.
const APIPath = "/api/data/v9.2/"

// CallerHeader impersonates a user on Web API requests.
const CallerHeader = "MSCRMCallerID"

// Client is an organization service bound to one acting user.
type Client struct {
	environmentURL string
	callerID       uuid.UUID
	tokens         *TokenCache
	http           *http.Client
}

// CallerID returns the acting user, uuid.Nil for the system account.
func (c *Client) CallerID() uuid.UUID { return c.callerID }

// EnvironmentURL returns the environment the client talks to.
func (c *Client) EnvironmentURL() string { return c.environmentURL }

// Do sends an authenticated Web API request. path is relative to APIPath.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	token, err := c.tokens.Token(ctx, c.environmentURL)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, c.environmentURL+APIPath+strings.TrimLeft(path, "/"), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("OData-MaxVersion", "4.0")
	req.Header.Set("OData-Version", "4.0")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.callerID != uuid.Nil {
		req.Header.Set(CallerHeader, c.callerID.String())
	}
	return c.http.Do(req)
}

// ClientFactory creates Clients for acting users. It implements
// plugin.ServiceFactory.
type ClientFactory struct {
	environmentURL string
	tokens         *TokenCache
	http           *http.Client
}

var _ plugin.ServiceFactory = (*ClientFactory)(nil)

// NewClientFactory creates a factory for environmentURL. A nil httpClient
// uses http.DefaultClient.
func NewClientFactory(environmentURL string, tokens *TokenCache, httpClient *http.Client) *ClientFactory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ClientFactory{
		environmentURL: strings.TrimRight(environmentURL, "/"),
		tokens:         tokens,
		http:           httpClient,
	}
}

// CreateService returns a Client acting as userID, or as the system account
// when userID is nil.
func (f *ClientFactory) CreateService(_ context.Context, userID *uuid.UUID) (plugin.OrganizationService, error) {
	if f.environmentURL == "" {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "environment URL is not configured")
	}
	if f.tokens == nil {
		return nil, schema.NewError(schema.ErrCodeConfiguration, "no token cache configured")
	}
	c := &Client{environmentURL: f.environmentURL, tokens: f.tokens, http: f.http}
	if userID != nil {
		c.callerID = *userID
	}
	return c, nil
}
