package engine

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/croessner/ratebench/server/errors"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// TokenSource yields the bearer credential for the next attempt. Implementations may
// rotate the token between calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// NewTokenSourceFromConfig picks the single configured credential source.
func NewTokenSourceFromConfig(cfg *Config) (TokenSource, error) {
	switch {
	case cfg.Token != "":
		return NewStaticToken(cfg.Token)
	case cfg.TokenFile != "":
		return NewFileToken(cfg.TokenFile), nil
	case cfg.OAuth.ClientID != "":
		return NewOAuthToken(cfg.OAuth), nil
	default:
		return nil, errors.ErrNoToken
	}
}

type staticToken string

// NewStaticToken returns a TokenSource that always yields token.
func NewStaticToken(token string) (TokenSource, error) {
	token = cleanToken(token)
	if token == "" {
		return nil, errors.ErrEmptyToken
	}

	return staticToken(token), nil
}

// cleanToken trims whitespace and an optional "Bearer" scheme.
func cleanToken(s string) string {
	s = strings.TrimSpace(s)

	if rest, ok := strings.CutPrefix(s, "Bearer"); ok && (rest == "" || rest[0] == ' ' || rest[0] == '\t') {
		s = strings.TrimSpace(rest)
	}

	return s
}

func (s staticToken) Token(_ context.Context) (string, error) {
	return string(s), nil
}

// FileToken reads the token from a file and reloads it whenever the modification time
// changes, so an external process can rotate the credential during a run.
type FileToken struct {
	path string

	mu      sync.Mutex
	modTime time.Time
	token   string
}

func NewFileToken(path string) *FileToken {
	return &FileToken{path: path}
}

func (f *FileToken) Token(_ context.Context) (string, error) {
	info, err := os.Stat(f.path)
	if err != nil {
		return "", fmt.Errorf("stat token file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.token != "" && info.ModTime().Equal(f.modTime) {
		return f.token, nil
	}

	raw, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("read token file: %w", err)
	}

	token := cleanToken(string(raw))
	if token == "" {
		return "", errors.ErrEmptyToken
	}

	f.token = token
	f.modTime = info.ModTime()

	return token, nil
}

// OAuthToken fetches tokens with the OAuth2 client credentials grant and refreshes them
// shortly before they expire.
type OAuthToken struct {
	cfg *clientcredentials.Config

	once sync.Once
	src  oauth2.TokenSource
}

func NewOAuthToken(cfg OAuthConfig) *OAuthToken {
	return &OAuthToken{
		cfg: &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		},
	}
}

func (o *OAuthToken) Token(ctx context.Context) (string, error) {
	// The source outlives the first worker, so it must not capture a worker context.
	o.once.Do(func() {
		o.src = o.cfg.TokenSource(context.WithoutCancel(ctx))
	})

	tok, err := o.src.Token()
	if err != nil {
		return "", fmt.Errorf("fetch oauth2 token: %w", err)
	}

	if tok.AccessToken == "" {
		return "", errors.ErrEmptyToken
	}

	return tok.AccessToken, nil
}
