// Package auth acquires bearer tokens for Graph accounts via the OAuth
// client-credentials flow, caching one token per account until it expires.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mailherald/mailherald/internal/config"
)

// ErrNoToken is returned when the exchange succeeds at the HTTP level but
// yields no usable access token.
var ErrNoToken = errors.New("token exchange returned no access token")

const defaultAuthority = "https://login.microsoftonline.com"

// Provider exchanges and caches client-credential tokens. Safe for use from
// multiple account goroutines; entries are keyed by account name and never
// shared across accounts.
type Provider struct {
	authority string
	logger    *slog.Logger

	mu     sync.Mutex
	tokens map[string]*oauth2.Token
}

// NewProvider creates a token provider. authority overrides the login
// endpoint base URL; empty means the Microsoft identity platform.
func NewProvider(authority string, logger *slog.Logger) *Provider {
	if authority == "" {
		authority = defaultAuthority
	}
	return &Provider{
		authority: authority,
		logger:    logger,
		tokens:    make(map[string]*oauth2.Token),
	}
}

// Acquire returns a bearer token for the account, reusing the cached one
// while it is still valid. An expired or missing token triggers a synchronous
// re-exchange; on failure the caller surfaces the error and waits for its
// next scheduled cycle rather than retrying.
func (p *Provider) Acquire(ctx context.Context, acct config.Account) (string, error) {
	p.mu.Lock()
	tok := p.tokens[acct.Name]
	p.mu.Unlock()

	if tok.Valid() {
		return tok.AccessToken, nil
	}

	cfg := &clientcredentials.Config{
		ClientID:     acct.ClientID,
		ClientSecret: acct.ClientSecret,
		TokenURL:     fmt.Sprintf("%s/%s/oauth2/v2.0/token", p.authority, acct.TenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}

	tok, err := cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("client-credentials exchange: %w", err)
	}
	if tok.AccessToken == "" {
		return "", ErrNoToken
	}

	p.logger.Debug("acquired token", "account", acct.Name, "expires", tok.Expiry)

	p.mu.Lock()
	p.tokens[acct.Name] = tok
	p.mu.Unlock()

	return tok.AccessToken, nil
}
