package models

import (
	"fmt"
	"os"
	"strings"

	"courseloop/internal/config"
)

// AuthKind distinguishes between API key and Bearer token auth.
type AuthKind int

const (
	AuthAPIKey AuthKind = iota
	AuthBearerToken
)

// ResolvedAuth holds the resolved credentials and their kind.
type ResolvedAuth struct {
	Kind  AuthKind
	Value string
}

// ResolveAuth resolves the credentials for a provider.
// Resolution order: direct token → direct api_key → env template → driver default env.
func ResolveAuth(cfg config.ProviderConfig) (ResolvedAuth, error) {
	resolve := func(token string) string {
		trimmed := strings.TrimSpace(token)
		if trimmed == "" {
			return ""
		}
		if strings.HasPrefix(trimmed, "${") && strings.HasSuffix(trimmed, "}") {
			return os.Getenv(trimmed[2 : len(trimmed)-1])
		}
		return trimmed
	}

	token := resolve(cfg.Auth.Token)
	if token != "" {
		return ResolvedAuth{Kind: AuthBearerToken, Value: token}, nil
	}

	apiKey := resolve(cfg.Auth.APIKey)
	if apiKey != "" {
		return ResolvedAuth{Kind: AuthAPIKey, Value: apiKey}, nil
	}

	// Default env vars per driver
	switch strings.ToLower(cfg.Driver) {
	case "anthropic":
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
		}
		return ResolvedAuth{}, fmt.Errorf("ANTHROPIC_API_KEY not set")
	case "openai":
		for _, name := range []string{"OPENAI_API_KEY", "LLM_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
			}
		}
		return ResolvedAuth{}, fmt.Errorf("OPENAI_API_KEY not set")
	case "deepseek":
		for _, name := range []string{"DEEPSEEK_API_KEY", "LLM_API_KEY", "OPENAI_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
			}
		}
		return ResolvedAuth{}, fmt.Errorf("DEEPSEEK_API_KEY not set")
	case "gemini":
		for _, name := range []string{"GEMINI_API_KEY", "GOOGLE_API_KEY"} {
			if key := os.Getenv(name); key != "" {
				return ResolvedAuth{Kind: AuthAPIKey, Value: key}, nil
			}
		}
		return ResolvedAuth{}, fmt.Errorf("GEMINI_API_KEY not set")
	default:
		return ResolvedAuth{}, fmt.Errorf("unknown driver %q: cannot resolve auth", cfg.Driver)
	}
}
