package config

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

// Environment variables overriding the config file. Each also accepts the
// name the mobile build used.
const (
	EnvAPIURL          = "MARKO_API_URL"
	EnvIdentityURL     = "MARKO_IDENTITY_URL"
	EnvIdentityAnonKey = "MARKO_IDENTITY_ANON_KEY"
	EnvPushToken       = "MARKO_PUSH_TOKEN"
)

var envAliases = map[string]string{
	EnvAPIURL:          "EXPO_PUBLIC_API_URL",
	EnvIdentityURL:     "EXPO_PUBLIC_SUPABASE_URL",
	EnvIdentityAnonKey: "EXPO_PUBLIC_SUPABASE_ANON_KEY",
	EnvPushToken:       "EXPO_PUSH_TOKEN",
}

// LoadDotEnv loads the given .env files into the process environment.
// Missing files are skipped and variables already set are kept.
func LoadDotEnv(paths ...string) error {
	existing := make([]string, 0, len(paths))
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}

	return godotenv.Load(existing...)
}

// ApplyEnv overrides cfg with the environment variables found by lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookupEnv(lookup, EnvAPIURL); ok {
		cfg.API.BaseURL = v
	}
	if v, ok := lookupEnv(lookup, EnvIdentityURL); ok {
		cfg.Identity.URL = v
	}
	if v, ok := lookupEnv(lookup, EnvIdentityAnonKey); ok {
		cfg.Identity.AnonKey = commoncfg.SourceRef{Source: "embedded", Value: v}
	}
	if v, ok := lookupEnv(lookup, EnvPushToken); ok {
		cfg.Push.Token = v
	}
}

func lookupEnv(lookup func(string) (string, bool), name string) (string, bool) {
	if v, ok := lookup(name); ok && v != "" {
		return v, true
	}
	if v, ok := lookup(envAliases[name]); ok && v != "" {
		return v, true
	}
	return "", false
}
