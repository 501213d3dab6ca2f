// Package secrets resolves credentials from a secret store, an inline value or
// a file, and memoizes successful resolutions for the lifetime of a Cache.
package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"golang.org/x/oauth2"

	"github.com/teemow/inboxevents/internal/google"
)

var (
	// ErrNoSource is returned when a credential reference names no source.
	ErrNoSource = errors.New("no credential source configured")

	// ErrAmbiguousSource is returned when a credential reference names more than one source.
	ErrAmbiguousSource = errors.New("more than one credential source configured")
)

// Ref names exactly one place a credential can be read from.
type Ref struct {
	// Name identifies the credential in errors and logs, e.g. "openai" or "gmail".
	Name string

	SecretID string
	Inline   string
	File     string
}

// Validate checks that exactly one source is set.
func (r Ref) Validate() error {
	n := 0
	for _, v := range []string{r.SecretID, r.Inline, r.File} {
		if v != "" {
			n++
		}
	}
	switch n {
	case 0:
		return fmt.Errorf("%s credentials: %w", r.Name, ErrNoSource)
	case 1:
		return nil
	default:
		return fmt.Errorf("%s credentials: %w", r.Name, ErrAmbiguousSource)
	}
}

func (r Ref) source() string {
	switch {
	case r.SecretID != "":
		return "secret-store"
	case r.File != "":
		return "file"
	default:
		return "inline"
	}
}

// SecretStore is the subset of the Secrets Manager client used here.
type SecretStore interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput, optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// Cache resolves credential references and keeps successful results in
// memory. Failed resolutions are not cached. There is no expiry; create one
// Cache per run.
type Cache struct {
	store    SecretStore
	readFile func(string) ([]byte, error)

	mu      sync.RWMutex
	entries map[Ref][]byte
}

// NewCache creates a Cache. store may be nil when no reference uses a secret id.
func NewCache(store SecretStore) *Cache {
	return &Cache{
		store:    store,
		readFile: os.ReadFile,
		entries:  make(map[Ref][]byte),
	}
}

// Resolve returns the raw credential bytes for ref.
func (c *Cache) Resolve(ctx context.Context, ref Ref) ([]byte, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	v, ok := c.entries[ref]
	c.mu.RUnlock()
	if ok {
		return v, nil
	}

	v, err := c.load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolve %s credentials from %s: %w", ref.Name, ref.source(), err)
	}

	c.mu.Lock()
	c.entries[ref] = v
	c.mu.Unlock()
	return v, nil
}

func (c *Cache) load(ctx context.Context, ref Ref) ([]byte, error) {
	switch {
	case ref.SecretID != "":
		if c.store == nil {
			return nil, errors.New("secret store client is not configured")
		}
		out, err := c.store.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
			SecretId: aws.String(ref.SecretID),
		})
		if err != nil {
			return nil, err
		}
		if out.SecretString != nil {
			return []byte(*out.SecretString), nil
		}
		if len(out.SecretBinary) > 0 {
			return out.SecretBinary, nil
		}
		return nil, fmt.Errorf("secret %s has no value", ref.SecretID)
	case ref.File != "":
		return c.readFile(ref.File)
	default:
		return []byte(ref.Inline), nil
	}
}

// apiKeyFields are the JSON keys accepted for a key stored as an object.
var apiKeyFields = []string{"api_key", "OPENAI_API_KEY", "key"}

// ResolveAPIKey resolves ref to an API key. The stored value may be the bare
// key or a JSON object carrying it.
func (c *Cache) ResolveAPIKey(ctx context.Context, ref Ref) (string, error) {
	raw, err := c.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return parseAPIKey(ref.Name, raw)
}

func parseAPIKey(name string, raw []byte) (string, error) {
	s := strings.TrimSpace(string(raw))
	if strings.HasPrefix(s, "{") {
		var obj map[string]any
		if err := json.Unmarshal([]byte(s), &obj); err != nil {
			return "", fmt.Errorf("%s credentials: invalid JSON: %w", name, err)
		}
		for _, k := range apiKeyFields {
			if v, ok := obj[k].(string); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v), nil
			}
		}
		return "", fmt.Errorf("%s credentials: JSON object has none of %v", name, apiKeyFields)
	}
	if s == "" {
		return "", fmt.Errorf("%s credentials: empty value", name)
	}
	return s, nil
}

// ResolveJSON resolves ref and decodes the value into v.
func (c *Cache) ResolveJSON(ctx context.Context, ref Ref, v any) error {
	raw, err := c.Resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%s credentials: invalid JSON: %w", ref.Name, err)
	}
	return nil
}

// ResolveTokenSource resolves ref to an authorized-user document and returns
// a refreshing mailbox token source.
func (c *Cache) ResolveTokenSource(ctx context.Context, ref Ref) (oauth2.TokenSource, error) {
	raw, err := c.Resolve(ctx, ref)
	if err != nil {
		return nil, err
	}
	ts, err := google.TokenSource(ctx, raw)
	if err != nil {
		return nil, fmt.Errorf("%s credentials: %w", ref.Name, err)
	}
	return ts, nil
}

// Len returns the number of cached credentials.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
