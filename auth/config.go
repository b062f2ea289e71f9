package auth

import (
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Strategy identifies how credential headers are produced.
type Strategy string

const (
	// StrategyNone attaches no credentials.
	StrategyNone Strategy = "none"
	// StrategyAPIKey sends the key in a configurable header.
	StrategyAPIKey Strategy = "api_key"
	// StrategyBearer sends a static bearer token.
	StrategyBearer Strategy = "bearer"
	// StrategyBasic sends HTTP basic credentials.
	StrategyBasic Strategy = "basic"
	// StrategyJWT self-issues a short-lived signed token and caches it
	// until expiry.
	StrategyJWT Strategy = "jwt"
	// StrategyOAuth2 sends a pre-obtained OAuth2 access token. Token
	// acquisition flows are not performed here.
	StrategyOAuth2 Strategy = "oauth2"
	// StrategyCustom delegates header production to HeaderFunc.
	StrategyCustom Strategy = "custom"
)

// DefaultAPIKeyHeader is the header used for StrategyAPIKey when no
// override is configured.
const DefaultAPIKeyHeader = "X-API-Key"

// DefaultJWTTTL is the lifetime of self-issued JWTs when unset.
const DefaultJWTTTL = time.Hour

// Config describes the credential material for one external dependency.
// It is immutable after the Manager is constructed.
type Config struct {
	// Strategy selects how headers are produced. Defaults to none.
	Strategy Strategy `yaml:"strategy" mapstructure:"strategy" validate:"omitempty,oneof=none api_key bearer basic jwt oauth2 custom"`

	// APIKey and APIKeyHeader configure StrategyAPIKey.
	APIKey       string `yaml:"api_key" mapstructure:"api_key"`
	APIKeyHeader string `yaml:"api_key_header" mapstructure:"api_key_header"`

	// Token is the static token for StrategyBearer.
	Token string `yaml:"token" mapstructure:"token"`

	// Username and Password configure StrategyBasic.
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`

	// JWTSecret signs self-issued tokens for StrategyJWT.
	JWTSecret string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	// JWTAlgorithm is the HMAC signing algorithm: HS256 (default), HS384
	// or HS512.
	JWTAlgorithm string `yaml:"jwt_algorithm" mapstructure:"jwt_algorithm"`
	// JWTIssuer optionally sets the iss claim.
	JWTIssuer string `yaml:"jwt_issuer" mapstructure:"jwt_issuer"`
	// JWTAudience optionally sets the aud claim.
	JWTAudience string `yaml:"jwt_audience" mapstructure:"jwt_audience"`
	// JWTTTL is the token lifetime. Defaults to DefaultJWTTTL.
	JWTTTL time.Duration `yaml:"jwt_ttl" mapstructure:"jwt_ttl"`

	// AccessToken is the pre-obtained token for StrategyOAuth2.
	AccessToken string `yaml:"access_token" mapstructure:"access_token"`
	// TokenSource overrides AccessToken with a live token source.
	TokenSource oauth2.TokenSource `yaml:"-" mapstructure:"-"`

	// HeaderFunc produces the headers for StrategyCustom.
	HeaderFunc func() (map[string]string, error) `yaml:"-" mapstructure:"-"`

	// CustomHeaders are merged last and override strategy-derived headers.
	CustomHeaders map[string]string `yaml:"custom_headers" mapstructure:"custom_headers"`
}

// ApplyDefaults applies default values to the configuration.
func (c *Config) ApplyDefaults() {
	if c.Strategy == "" {
		c.Strategy = StrategyNone
	}
	if c.APIKeyHeader == "" {
		c.APIKeyHeader = DefaultAPIKeyHeader
	}
	if c.JWTAlgorithm == "" {
		c.JWTAlgorithm = "HS256"
	}
	if c.JWTTTL <= 0 {
		c.JWTTTL = DefaultJWTTTL
	}
}

// Validate checks that the strategy's credential material is present.
func (c *Config) Validate() error {
	switch c.Strategy {
	case StrategyNone:
	case StrategyAPIKey:
		if c.APIKey == "" {
			return fmt.Errorf("auth: api_key strategy requires api_key")
		}
	case StrategyBearer:
		if c.Token == "" {
			return fmt.Errorf("auth: bearer strategy requires token")
		}
	case StrategyBasic:
		if c.Username == "" || c.Password == "" {
			return fmt.Errorf("auth: basic strategy requires username and password")
		}
	case StrategyJWT:
		if c.JWTSecret == "" {
			return fmt.Errorf("auth: jwt strategy requires jwt_secret")
		}
		if _, err := c.signingMethod(); err != nil {
			return err
		}
	case StrategyOAuth2:
		if c.AccessToken == "" && c.TokenSource == nil {
			return fmt.Errorf("auth: oauth2 strategy requires access_token or a token source")
		}
	case StrategyCustom:
		if c.HeaderFunc == nil {
			return fmt.Errorf("auth: custom strategy requires a header function")
		}
	default:
		return fmt.Errorf("auth: unknown strategy %q", c.Strategy)
	}
	return nil
}

// signingMethod maps the configured algorithm name to a signing method.
func (c *Config) signingMethod() (gojwt.SigningMethod, error) {
	switch c.JWTAlgorithm {
	case "", "HS256":
		return gojwt.SigningMethodHS256, nil
	case "HS384":
		return gojwt.SigningMethodHS384, nil
	case "HS512":
		return gojwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("auth: unsupported jwt algorithm %q", c.JWTAlgorithm)
	}
}
