package secrets

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	values map[string]string
	calls  int
	err    error
}

func (f *fakeStore) GetSecretValue(_ context.Context, in *secretsmanager.GetSecretValueInput, _ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.values[aws.ToString(in.SecretId)]
	if !ok {
		return nil, errors.New("ResourceNotFoundException")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(v)}, nil
}

func TestRefValidate(t *testing.T) {
	tests := []struct {
		name    string
		ref     Ref
		wantErr error
	}{
		{name: "none", ref: Ref{Name: "openai"}, wantErr: ErrNoSource},
		{name: "secret id", ref: Ref{Name: "openai", SecretID: "prod/openai"}},
		{name: "inline", ref: Ref{Name: "openai", Inline: "sk-1"}},
		{name: "file", ref: Ref{Name: "openai", File: "/run/key"}},
		{name: "two", ref: Ref{Name: "openai", SecretID: "a", Inline: "b"}, wantErr: ErrAmbiguousSource},
		{name: "three", ref: Ref{Name: "gmail", SecretID: "a", Inline: "b", File: "c"}, wantErr: ErrAmbiguousSource},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.ref.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCache_MemoizesSecretStore(t *testing.T) {
	store := &fakeStore{values: map[string]string{"prod/openai": `{"api_key":"sk-live"}`}}
	cache := NewCache(store)
	ref := Ref{Name: "openai", SecretID: "prod/openai"}

	for i := 0; i < 3; i++ {
		key, err := cache.ResolveAPIKey(context.Background(), ref)
		require.NoError(t, err)
		assert.Equal(t, "sk-live", key)
	}
	assert.Equal(t, 1, store.calls)
	assert.Equal(t, 1, cache.Len())
}

func TestCache_DoesNotCacheFailures(t *testing.T) {
	store := &fakeStore{err: errors.New("throttled")}
	cache := NewCache(store)
	ref := Ref{Name: "gmail", SecretID: "prod/gmail"}

	_, err := cache.Resolve(context.Background(), ref)
	require.Error(t, err)

	store.err = nil
	store.values = map[string]string{"prod/gmail": "{}"}
	v, err := cache.Resolve(context.Background(), ref)
	require.NoError(t, err)
	assert.Equal(t, "{}", string(v))
	assert.Equal(t, 2, store.calls)
}

func TestCache_FileAndInline(t *testing.T) {
	cache := NewCache(nil)
	cache.readFile = func(path string) ([]byte, error) {
		if path == "/run/secrets/openai" {
			return []byte("sk-file\n"), nil
		}
		return nil, errors.New("no such file")
	}

	key, err := cache.ResolveAPIKey(context.Background(), Ref{Name: "openai", File: "/run/secrets/openai"})
	require.NoError(t, err)
	assert.Equal(t, "sk-file", key)

	key, err = cache.ResolveAPIKey(context.Background(), Ref{Name: "openai", Inline: `{"OPENAI_API_KEY": "sk-inline"}`})
	require.NoError(t, err)
	assert.Equal(t, "sk-inline", key)

	_, err = cache.Resolve(context.Background(), Ref{Name: "openai", SecretID: "x"})
	assert.Error(t, err, "secret id without a store client")
}

func TestParseAPIKey(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{name: "bare", raw: " sk-abc ", want: "sk-abc"},
		{name: "api_key", raw: `{"api_key":"sk-1"}`, want: "sk-1"},
		{name: "key", raw: `{"key":"sk-2"}`, want: "sk-2"},
		{name: "missing field", raw: `{"token":"x"}`, wantErr: true},
		{name: "broken json", raw: `{"api_key":`, wantErr: true},
		{name: "empty", raw: "   ", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseAPIKey("openai", []byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseAPIKey() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("parseAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCache_ResolveJSON(t *testing.T) {
	cache := NewCache(nil)

	var doc struct {
		ClientID string `json:"client_id"`
	}
	err := cache.ResolveJSON(context.Background(), Ref{Name: "gmail", Inline: `{"client_id":"abc"}`}, &doc)
	require.NoError(t, err)
	assert.Equal(t, "abc", doc.ClientID)

	err = cache.ResolveJSON(context.Background(), Ref{Name: "gmail", Inline: `not json`}, &doc)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gmail credentials: invalid JSON")
}

func TestCache_ResolveTokenSource(t *testing.T) {
	cache := NewCache(nil)
	ctx := context.Background()

	doc := `{"client_id":"id","client_secret":"secret","refresh_token":"rt","token":"at","expiry":"2999-01-01T00:00:00Z"}`
	ts, err := cache.ResolveTokenSource(ctx, Ref{Name: "gmail", Inline: doc})
	require.NoError(t, err)

	tok, err := ts.Token()
	require.NoError(t, err)
	assert.Equal(t, "at", tok.AccessToken)

	_, err = cache.ResolveTokenSource(ctx, Ref{Name: "gmail", Inline: `{"client_id":"id"}`})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing client_secret, refresh_token")
}
