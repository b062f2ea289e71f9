package auth

import (
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Manager produces credential headers for one external dependency.
// It is safe for concurrent use; the JWT cache is refreshed under a mutex.
type Manager struct {
	config      Config
	tokenSource oauth2.TokenSource

	mu          sync.Mutex
	cachedToken string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewManager creates a manager for the given configuration.
func NewManager(cfg Config) (*Manager, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		config: cfg,
		now:    time.Now,
	}

	if cfg.Strategy == StrategyOAuth2 {
		m.tokenSource = cfg.TokenSource
		if m.tokenSource == nil {
			m.tokenSource = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.AccessToken})
		}
	}

	return m, nil
}

// Strategy returns the configured strategy.
func (m *Manager) Strategy() Strategy {
	return m.config.Strategy
}

// Headers returns the credential headers for one request. Configured
// custom headers are merged last and win over strategy-derived values.
func (m *Manager) Headers() (map[string]string, error) {
	headers := make(map[string]string, len(m.config.CustomHeaders)+1)

	switch m.config.Strategy {
	case StrategyNone:

	case StrategyAPIKey:
		headers[m.config.APIKeyHeader] = m.config.APIKey

	case StrategyBearer:
		headers["Authorization"] = "Bearer " + m.config.Token

	case StrategyBasic:
		cred := base64.StdEncoding.EncodeToString([]byte(m.config.Username + ":" + m.config.Password))
		headers["Authorization"] = "Basic " + cred

	case StrategyJWT:
		token, err := m.jwtToken()
		if err != nil {
			return nil, err
		}
		headers["Authorization"] = "Bearer " + token

	case StrategyOAuth2:
		tok, err := m.tokenSource.Token()
		if err != nil {
			return nil, fmt.Errorf("auth: oauth2 token: %w", err)
		}
		headers["Authorization"] = tok.Type() + " " + tok.AccessToken

	case StrategyCustom:
		custom, err := m.config.HeaderFunc()
		if err != nil {
			return nil, fmt.Errorf("auth: custom headers: %w", err)
		}
		for k, v := range custom {
			headers[k] = v
		}
	}

	for k, v := range m.config.CustomHeaders {
		headers[k] = v
	}

	return headers, nil
}

// jwtToken returns the cached self-issued token, minting a fresh one
// exactly when the cache is empty or the token has expired.
func (m *Manager) jwtToken() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.cachedToken != "" && now.Before(m.tokenExpiry) {
		return m.cachedToken, nil
	}

	expiry := now.Add(m.config.JWTTTL)
	claims := gojwt.RegisteredClaims{
		IssuedAt:  gojwt.NewNumericDate(now),
		ExpiresAt: gojwt.NewNumericDate(expiry),
	}
	if m.config.JWTIssuer != "" {
		claims.Issuer = m.config.JWTIssuer
	}
	if m.config.JWTAudience != "" {
		claims.Audience = gojwt.ClaimStrings{m.config.JWTAudience}
	}

	method, err := m.config.signingMethod()
	if err != nil {
		return "", err
	}
	signed, err := gojwt.NewWithClaims(method, claims).SignedString([]byte(m.config.JWTSecret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}

	m.cachedToken = signed
	m.tokenExpiry = expiry
	return signed, nil
}
