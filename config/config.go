package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/slighter12/go-lib/database/postgres"
)

const (
	defaultMaxRequestBodySize = "100KB"
	defaultAccessTTL          = "15m"
	defaultRefreshTTL         = "30d"
	defaultSessionTTL         = "30d"
	defaultTrialPeriod        = "14d"
	defaultKeyCacheTTL        = 24 * time.Hour
	defaultProviderTimeout    = 10 * time.Second
	defaultMetricsPath        = "/metrics"
	defaultWorkerPort         = 8081
	defaultWorkerPushPath     = "/events"
)

// EnvLocal marks a developer machine. Pub/Sub push authentication is skipped there.
const EnvLocal = "local"

// Storage drivers.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	Env struct {
		Env         string `json:"env" yaml:"env"`
		ServiceName string `json:"serviceName" yaml:"serviceName"`
		Debug       bool   `json:"debug" yaml:"debug"`
		Log         Log    `json:"log" yaml:"log"`
	} `json:"env" yaml:"env"`

	HTTP struct {
		Port               int    `json:"port" yaml:"port"`
		MaxRequestBodySize string `json:"maxRequestBodySize" yaml:"maxRequestBodySize"`
		Timeouts           struct {
			ReadTimeout       time.Duration `json:"readTimeout" yaml:"readTimeout"`
			ReadHeaderTimeout time.Duration `json:"readHeaderTimeout" yaml:"readHeaderTimeout"`
			WriteTimeout      time.Duration `json:"writeTimeout" yaml:"writeTimeout"`
			IdleTimeout       time.Duration `json:"idleTimeout" yaml:"idleTimeout"`
		} `json:"timeouts" yaml:"timeouts"`
	} `json:"http" yaml:"http"`

	Postgres *postgres.DBConn `json:"postgres" yaml:"postgres" mapstructure:"postgres"`

	Storage StorageConfig `json:"storage" yaml:"storage"`

	SecretKey SecretKeyConfig `json:"secretKey" yaml:"secretKey"`

	Token TokenConfig `json:"token" yaml:"token"`

	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Identity holds settings shared by every identity provider.
	Identity IdentityConfig `json:"identity" yaml:"identity"`

	Google *GoogleConfig `json:"google" yaml:"google"`

	Apple *AppleConfig `json:"apple" yaml:"apple"`

	// PubSub configuration for security event publishing
	PubSub *PubSubConfig `json:"pubsub" yaml:"pubsub"`

	Metrics *MetricsConfig `json:"metrics" yaml:"metrics"`

	// Worker configures the security event consumer process.
	Worker WorkerConfig `json:"worker" yaml:"worker"`
}

type Log struct {
	Pretty bool   `json:"pretty" yaml:"pretty"`
	Level  string `json:"level" yaml:"level"`
}

// StorageConfig selects the session store backend.
type StorageConfig struct {
	// Driver is "postgres" or "memory"
	Driver      string `json:"driver" yaml:"driver"`
	AutoMigrate bool   `json:"autoMigrate" yaml:"autoMigrate"`
}

// SecretKeyConfig holds signing and encryption secrets.
type SecretKeyConfig struct {
	Access  string `json:"access" yaml:"access"`
	Refresh string `json:"refresh" yaml:"refresh"`
	// ProviderToken is a base64 encoded 32 byte key for provider refresh tokens at rest.
	ProviderToken string `json:"providerToken" yaml:"providerToken"`
}

// TokenConfig defines claims and lifetimes of issued tokens.
// TTLs use the "<n><s|m|h|d>" format, e.g. "15m" or "7d".
type TokenConfig struct {
	Issuer     string `json:"issuer" yaml:"issuer"`
	Audience   string `json:"audience" yaml:"audience"`
	AccessTTL  string `json:"accessTTL" yaml:"accessTTL"`
	RefreshTTL string `json:"refreshTTL" yaml:"refreshTTL"`
}

// AuthConfig defines account and session policy.
type AuthConfig struct {
	SessionTTL  string `json:"sessionTTL" yaml:"sessionTTL"`
	TrialPeriod string `json:"trialPeriod" yaml:"trialPeriod"`
}

type IdentityConfig struct {
	HTTPTimeout time.Duration `json:"httpTimeout" yaml:"httpTimeout"`
	KeyCacheTTL time.Duration `json:"keyCacheTTL" yaml:"keyCacheTTL"`
}

// GoogleConfig configures Sign in with Google. Only ID token verification is used.
type GoogleConfig struct {
	ClientIDs []string `json:"clientIds" yaml:"clientIds"`
	JWKSURL   string   `json:"jwksUrl" yaml:"jwksUrl"`
}

// AppleConfig configures Sign in with Apple.
type AppleConfig struct {
	ClientID string `json:"clientId" yaml:"clientId"`
	TeamID   string `json:"teamId" yaml:"teamId"`
	KeyID    string `json:"keyId" yaml:"keyId"`
	// PrivateKey is the PEM encoded ES256 key downloaded from the developer portal.
	PrivateKey      string        `json:"privateKey" yaml:"privateKey"`
	RedirectURI     string        `json:"redirectUri" yaml:"redirectUri"`
	TokenURL        string        `json:"tokenUrl" yaml:"tokenUrl"`
	RevokeURL       string        `json:"revokeUrl" yaml:"revokeUrl"`
	JWKSURL         string        `json:"jwksUrl" yaml:"jwksUrl"`
	ClientSecretTTL time.Duration `json:"clientSecretTTL" yaml:"clientSecretTTL"`
}

// PubSubConfig defines Pub/Sub configuration for event publishing
type PubSubConfig struct {
	// Provider type: "local" for local HTTP or "google" for Google Pub/Sub
	Provider      string `json:"provider" yaml:"provider"`
	ProjectID     string `json:"projectId" yaml:"projectId"`
	TopicID       string `json:"topicId" yaml:"topicId"`
	LocalEndpoint string `json:"localEndpoint" yaml:"localEndpoint"`
}

// WorkerConfig configures the Pub/Sub push endpoint of the security event worker.
type WorkerConfig struct {
	Port     int    `json:"port" yaml:"port"`
	PushPath string `json:"pushPath" yaml:"pushPath"`
	// PushAudience is the audience Google signs push tokens for. Defaults to the request URL.
	PushAudience string `json:"pushAudience" yaml:"pushAudience"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"`
}

func New() (*Config, error) {
	cfg, err := LoadWithEnv[Config]("config", "config", "../config", "../../config")
	if err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if strings.TrimSpace(cfg.HTTP.MaxRequestBodySize) == "" {
		cfg.HTTP.MaxRequestBodySize = defaultMaxRequestBodySize
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = StorageDriverPostgres
	}
	if cfg.Token.AccessTTL == "" {
		cfg.Token.AccessTTL = defaultAccessTTL
	}
	if cfg.Token.RefreshTTL == "" {
		cfg.Token.RefreshTTL = defaultRefreshTTL
	}
	if cfg.Auth.SessionTTL == "" {
		cfg.Auth.SessionTTL = defaultSessionTTL
	}
	if cfg.Auth.TrialPeriod == "" {
		cfg.Auth.TrialPeriod = defaultTrialPeriod
	}
	if cfg.Identity.KeyCacheTTL <= 0 {
		cfg.Identity.KeyCacheTTL = defaultKeyCacheTTL
	}
	if cfg.Identity.HTTPTimeout <= 0 {
		cfg.Identity.HTTPTimeout = defaultProviderTimeout
	}
	if cfg.Worker.Port == 0 {
		cfg.Worker.Port = defaultWorkerPort
	}
	if cfg.Worker.PushPath == "" {
		cfg.Worker.PushPath = defaultWorkerPushPath
	}
	if cfg.Metrics != nil && cfg.Metrics.Path == "" {
		cfg.Metrics.Path = defaultMetricsPath
	}
}

// Validate reports the first configuration problem that would prevent the service from starting.
func (cfg *Config) Validate() error {
	switch cfg.Storage.Driver {
	case StorageDriverPostgres:
		if cfg.Postgres == nil {
			return errors.New("postgres section is required for the postgres storage driver")
		}
	case StorageDriverMemory:
	default:
		return errors.Errorf("unknown storage driver: %s", cfg.Storage.Driver)
	}

	if cfg.SecretKey.Access == "" || cfg.SecretKey.Refresh == "" {
		return errors.New("access and refresh secrets must be provided")
	}
	if cfg.SecretKey.Access == cfg.SecretKey.Refresh {
		return errors.New("access and refresh secrets must differ")
	}
	if cfg.Token.Issuer == "" || cfg.Token.Audience == "" {
		return errors.New("token issuer and audience must be provided")
	}
	for name, ttl := range map[string]string{
		"token.accessTTL":  cfg.Token.AccessTTL,
		"token.refreshTTL": cfg.Token.RefreshTTL,
		"auth.sessionTTL":  cfg.Auth.SessionTTL,
		"auth.trialPeriod": cfg.Auth.TrialPeriod,
	} {
		if _, err := ParseDuration(ttl); err != nil {
			return errors.Wrap(err, name)
		}
	}
	if cfg.Google == nil && cfg.Apple == nil {
		return errors.New("at least one identity provider must be configured")
	}

	return nil
}
