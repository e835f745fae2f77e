// Package config defines the necessary types to configure the application.
// An example config file config.yaml is provided in the repository.
package config

import (
	"time"

	"github.com/openkcm/common-sdk/pkg/commoncfg"
)

type Config struct {
	commoncfg.BaseConfig `mapstructure:",squash" yaml:",inline"`

	API        API        `yaml:"api"`
	Identity   Identity   `yaml:"identity"`
	TokenStore TokenStore `yaml:"tokenStore"`
	Watch      Watch      `yaml:"watch"`
	Location   Location   `yaml:"location"`
	Push       Push       `yaml:"push"`
}

type API struct {
	BaseURL string        `yaml:"baseURL" default:"http://localhost:8080"`
	Timeout time.Duration `yaml:"timeout" default:"15s"`
	// MTLS enables client certificates towards the backend.
	MTLS   *commoncfg.MTLS `yaml:"mtls"`
	Policy Policy          `yaml:"policy"`
}

type Policy struct {
	RevalidateOnFocus bool          `yaml:"revalidateOnFocus" default:"true"`
	RetryOnError      bool          `yaml:"retryOnError" default:"false"`
	MaxRetries        uint64        `yaml:"maxRetries" default:"3"`
	RetryInterval     time.Duration `yaml:"retryInterval" default:"500ms"`
	CacheTTL          time.Duration `yaml:"cacheTTL" default:"5m"`
}

type Identity struct {
	URL                 string              `yaml:"url"`
	AnonKey             commoncfg.SourceRef `yaml:"anonKey"`
	StorageKey          string              `yaml:"storageKey" default:"marko-auth-session"`
	ExpiryMargin        time.Duration       `yaml:"expiryMargin" default:"30s"`
	AutoRefreshInterval time.Duration       `yaml:"autoRefreshInterval" default:"30s"`
}

type TokenStoreBackend string

const (
	TokenStoreFile   TokenStoreBackend = "file"
	TokenStoreValkey TokenStoreBackend = "valkey"
)

type TokenStore struct {
	Backend TokenStoreBackend `yaml:"backend" default:"file"`
	Key     string            `yaml:"key" default:"session_token"`
	File    SealedFile        `yaml:"file"`
	ValKey  ValKey            `yaml:"valkey"`
}

// SealedFile locates the encrypted token file and its age identity.
// Identity, when set, takes precedence over IdentityPath. Paths may
// reference environment variables.
type SealedFile struct {
	Path         string              `yaml:"path" default:"$HOME/.marko/session.age"`
	IdentityPath string              `yaml:"identityPath" default:"$HOME/.marko/identity.txt"`
	Identity     commoncfg.SourceRef `yaml:"identity"`
}

type ValKey struct {
	Host      commoncfg.SourceRef `yaml:"host"`
	User      commoncfg.SourceRef `yaml:"user"`
	Password  commoncfg.SourceRef `yaml:"password"`
	Prefix    string              `yaml:"prefix" default:"marko"`
	SecretRef commoncfg.SecretRef `yaml:"secretRef"`
}

type Watch struct {
	PollInterval time.Duration `yaml:"pollInterval" default:"30s"`
}

type Location struct {
	// Country is reported when no positioning is available.
	Country string `yaml:"country"`
}

type Push struct {
	Token string `yaml:"token"`
}
