// Package auth builds authenticated HTTP clients for externally managed
// orchestration backends.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

type Mode string

const (
	ModeNone  Mode = "none"
	ModeToken Mode = "token"
	ModeOIDC  Mode = "oidc"
)

type Config struct {
	Mode Mode

	// Token is a static bearer token used in ModeToken.
	Token string

	OIDCIssuerURL    string
	OIDCTokenURL     string
	OIDCClientID     string
	OIDCClientSecret string
	OIDCScopes       []string

	Timeout time.Duration
}

// ConfigFromValues reads auth settings from an orchestrator component config.
func ConfigFromValues(values map[string]any) (Config, error) {
	str := func(key string) string {
		v, _ := values[key].(string)
		return strings.TrimSpace(v)
	}
	cfg := Config{
		Token:            str("auth_token"),
		OIDCIssuerURL:    str("oidc_issuer_url"),
		OIDCTokenURL:     str("oidc_token_url"),
		OIDCClientID:     str("oidc_client_id"),
		OIDCClientSecret: str("oidc_client_secret"),
		Timeout:          30 * time.Second,
	}
	switch raw := values["oidc_scopes"].(type) {
	case string:
		for _, s := range strings.Split(raw, ",") {
			if s = strings.TrimSpace(s); s != "" {
				cfg.OIDCScopes = append(cfg.OIDCScopes, s)
			}
		}
	case []any:
		for _, item := range raw {
			if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
				cfg.OIDCScopes = append(cfg.OIDCScopes, strings.TrimSpace(s))
			}
		}
	}

	mode := strings.ToLower(str("auth_mode"))
	switch {
	case mode == "":
		switch {
		case cfg.OIDCClientID != "":
			cfg.Mode = ModeOIDC
		case cfg.Token != "":
			cfg.Mode = ModeToken
		default:
			cfg.Mode = ModeNone
		}
	case mode == string(ModeNone), mode == string(ModeToken), mode == string(ModeOIDC):
		cfg.Mode = Mode(mode)
	default:
		return Config{}, fmt.Errorf("auth_mode must be one of: none, token, oidc (got %q)", mode)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Mode {
	case ModeNone:
		return nil
	case ModeToken:
		if c.Token == "" {
			return errors.New("auth_token is required when auth_mode=token")
		}
		return nil
	case ModeOIDC:
		if c.OIDCIssuerURL == "" && c.OIDCTokenURL == "" {
			return errors.New("oidc_issuer_url or oidc_token_url is required when auth_mode=oidc")
		}
		if c.OIDCClientID == "" {
			return errors.New("oidc_client_id is required when auth_mode=oidc")
		}
		if c.OIDCClientSecret == "" {
			return errors.New("oidc_client_secret is required when auth_mode=oidc")
		}
		return nil
	default:
		return fmt.Errorf("unsupported auth mode %q", c.Mode)
	}
}

// NewHTTPClient returns a client that attaches credentials for the configured
// mode. In ModeOIDC the token endpoint is discovered from the issuer unless
// OIDCTokenURL is set explicitly.
func NewHTTPClient(ctx context.Context, cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := &http.Client{Timeout: timeout}

	switch cfg.Mode {
	case ModeToken:
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"})
		return oauth2.NewClient(context.WithValue(ctx, oauth2.HTTPClient, base), ts), nil
	case ModeOIDC:
		tokenURL := cfg.OIDCTokenURL
		if tokenURL == "" {
			provider, err := oidc.NewProvider(oidc.ClientContext(ctx, base), cfg.OIDCIssuerURL)
			if err != nil {
				return nil, fmt.Errorf("oidc provider: %w", err)
			}
			tokenURL = provider.Endpoint().TokenURL
		}
		cc := clientcredentials.Config{
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			TokenURL:     tokenURL,
			Scopes:       cfg.OIDCScopes,
		}
		return cc.Client(context.WithValue(ctx, oauth2.HTTPClient, base)), nil
	default:
		return base, nil
	}
}
