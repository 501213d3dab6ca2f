package google

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// AuthorizedUser is the "authorized_user" credential document produced by
// Google's installed-app OAuth flow.
type AuthorizedUser struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RefreshToken string `json:"refresh_token"`
	Token        string `json:"token"`
	AccessToken  string `json:"access_token"`
	TokenURI     string `json:"token_uri"`
	Expiry       string `json:"expiry"`
}

// ParseAuthorizedUser decodes an authorized-user credential document and
// checks the fields needed for a refresh.
func ParseAuthorizedUser(data []byte) (*AuthorizedUser, error) {
	var u AuthorizedUser
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("invalid mailbox credentials: %w", err)
	}

	var missing []string
	if u.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if u.ClientSecret == "" {
		missing = append(missing, "client_secret")
	}
	if u.RefreshToken == "" {
		missing = append(missing, "refresh_token")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("invalid mailbox credentials: missing %s", strings.Join(missing, ", "))
	}
	return &u, nil
}

// Config returns the OAuth2 configuration for the credential's client.
func (u *AuthorizedUser) Config() *oauth2.Config {
	endpoint := google.Endpoint
	if u.TokenURI != "" {
		endpoint.TokenURL = u.TokenURI
	}
	return &oauth2.Config{
		ClientID:     u.ClientID,
		ClientSecret: u.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       GmailScopes,
	}
}

// initialToken seeds the token source. Without a usable access token the
// expiry is set in the past so the first request triggers a refresh.
func (u *AuthorizedUser) initialToken() *oauth2.Token {
	access := u.Token
	if access == "" {
		access = u.AccessToken
	}
	expiry := time.Unix(1, 0)
	if access != "" && u.Expiry != "" {
		if t, err := time.Parse(time.RFC3339, u.Expiry); err == nil {
			expiry = t
		}
	}
	return &oauth2.Token{
		AccessToken:  access,
		TokenType:    "Bearer",
		RefreshToken: u.RefreshToken,
		Expiry:       expiry,
	}
}

// TokenSource returns a refreshing token source for the credential document.
func TokenSource(ctx context.Context, data []byte) (oauth2.TokenSource, error) {
	u, err := ParseAuthorizedUser(data)
	if err != nil {
		return nil, err
	}
	return u.Config().TokenSource(ctx, u.initialToken()), nil
}

// HTTPClient returns an HTTP client authenticated by ts.
// The client is configured to use HTTP/1.1 to avoid HTTP/2 protocol errors.
func HTTPClient(ctx context.Context, ts oauth2.TokenSource, timeout time.Duration) *http.Client {
	client := oauth2.NewClient(ctx, ts)

	// Force HTTP/1.1 by disabling HTTP/2
	if transport, ok := client.Transport.(*oauth2.Transport); ok {
		transport.Base = &http.Transport{
			Proxy:             http.ProxyFromEnvironment,
			ForceAttemptHTTP2: false,
		}
	}
	client.Timeout = timeout

	return client
}
