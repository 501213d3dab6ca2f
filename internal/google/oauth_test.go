package google

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestParseAuthorizedUser(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{
			name: "valid",
			data: `{"client_id":"id","client_secret":"secret","refresh_token":"rt"}`,
		},
		{
			name:    "missing refresh token",
			data:    `{"client_id":"id","client_secret":"secret"}`,
			wantErr: "refresh_token",
		},
		{
			name:    "missing everything",
			data:    `{}`,
			wantErr: "client_id, client_secret, refresh_token",
		},
		{
			name:    "not json",
			data:    `client_id=id`,
			wantErr: "invalid mailbox credentials",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseAuthorizedUser([]byte(tt.data))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestAuthorizedUser_Config(t *testing.T) {
	u := &AuthorizedUser{ClientID: "id", ClientSecret: "s", RefreshToken: "rt", TokenURI: "https://example.test/token"}
	conf := u.Config()
	assert.Equal(t, "https://example.test/token", conf.Endpoint.TokenURL)
	assert.Equal(t, GmailScopes, conf.Scopes)

	u.TokenURI = ""
	assert.Equal(t, "https://oauth2.googleapis.com/token", u.Config().Endpoint.TokenURL)
}

func TestInitialToken(t *testing.T) {
	u := &AuthorizedUser{RefreshToken: "rt"}
	tok := u.initialToken()
	assert.Equal(t, "rt", tok.RefreshToken)
	assert.True(t, tok.Expiry.Before(time.Now()), "token without access token must be expired")

	u.Token = "at"
	u.Expiry = time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	tok = u.initialToken()
	assert.Equal(t, "at", tok.AccessToken)
	assert.True(t, tok.Expiry.After(time.Now()))
}

func TestTokenSource_Refreshes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"fresh","token_type":"Bearer","expires_in":3600}`))
	}))
	defer srv.Close()

	data := `{"client_id":"id","client_secret":"secret","refresh_token":"rt","token_uri":"` + srv.URL + `"}`
	ts, err := TokenSource(context.Background(), []byte(data))
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok.AccessToken)
}

func TestHTTPClient(t *testing.T) {
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "at"})
	client := HTTPClient(context.Background(), ts, 5*time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)

	transport, ok := client.Transport.(*oauth2.Transport)
	require.True(t, ok)
	base, ok := transport.Base.(*http.Transport)
	require.True(t, ok)
	assert.False(t, base.ForceAttemptHTTP2)
}
