package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalizeEnvKey_UsesExistingCamelCaseKeys(t *testing.T) {
	existing := map[string]any{
		"postgres": map[string]any{
			"sslMode": "disable",
		},
		"secretKey": map[string]any{
			"providerToken": "",
		},
		"apple": map[string]any{
			"clientSecretTTL": "720h",
			"privateKey":      "",
		},
		"google": map[string]any{
			"clientIds": []any{"web"},
		},
	}

	tests := []struct {
		envKey string
		want   string
	}{
		{envKey: "POSTGRES_SSLMODE", want: "postgres.sslMode"},
		{envKey: "SECRETKEY_PROVIDERTOKEN", want: "secretKey.providerToken"},
		{envKey: "APPLE_CLIENTSECRETTTL", want: "apple.clientSecretTTL"},
		{envKey: "APPLE_PRIVATEKEY", want: "apple.privateKey"},
		{envKey: "GOOGLE_CLIENTIDS", want: "google.clientIds"},
		{envKey: "TOKEN_ACCESSTTL", want: "token.accessttl"},
		{envKey: "NEW__FEATURE_FLAG", want: "new.feature.flag"},
	}

	for _, tt := range tests {
		t.Run(tt.envKey, func(t *testing.T) {
			assert.Equal(t, tt.want, canonicalizeEnvKey(tt.envKey, existing))
		})
	}
}

func TestConfig_ApplyDefaultsAndValidate(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Driver = StorageDriverMemory
	cfg.SecretKey = SecretKeyConfig{Access: "access-secret", Refresh: "refresh-secret"}
	cfg.Token.Issuer = "keystone"
	cfg.Token.Audience = "keystone-app"
	cfg.Google = &GoogleConfig{ClientIDs: []string{"client"}}
	cfg.Metrics = &MetricsConfig{Enabled: true}

	cfg.applyDefaults()

	assert.NoError(t, cfg.Validate())
	assert.Equal(t, defaultAccessTTL, cfg.Token.AccessTTL)
	assert.Equal(t, defaultRefreshTTL, cfg.Token.RefreshTTL)
	assert.Equal(t, defaultSessionTTL, cfg.Auth.SessionTTL)
	assert.Equal(t, defaultKeyCacheTTL, cfg.Identity.KeyCacheTTL)
	assert.Equal(t, defaultMetricsPath, cfg.Metrics.Path)
	assert.Equal(t, defaultMaxRequestBodySize, cfg.HTTP.MaxRequestBodySize)
}

func TestConfig_Validate_Failures(t *testing.T) {
	valid := func() *Config {
		cfg := &Config{}
		cfg.Storage.Driver = StorageDriverMemory
		cfg.SecretKey = SecretKeyConfig{Access: "a", Refresh: "b"}
		cfg.Token = TokenConfig{Issuer: "iss", Audience: "aud", AccessTTL: "15m", RefreshTTL: "30d"}
		cfg.Auth = AuthConfig{SessionTTL: "30d", TrialPeriod: "14d"}
		cfg.Apple = &AppleConfig{ClientID: "com.example"}

		return cfg
	}
	assert.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"postgres without section", func(c *Config) { c.Storage.Driver = StorageDriverPostgres }, "postgres section is required"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "sqlite" }, "unknown storage driver"},
		{"missing secret", func(c *Config) { c.SecretKey.Refresh = "" }, "must be provided"},
		{"shared secret", func(c *Config) { c.SecretKey.Refresh = c.SecretKey.Access }, "must differ"},
		{"missing issuer", func(c *Config) { c.Token.Issuer = "" }, "issuer and audience"},
		{"bad session ttl", func(c *Config) { c.Auth.SessionTTL = "1h30m" }, "auth.sessionTTL"},
		{"no provider", func(c *Config) { c.Apple = nil }, "identity provider"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if assert.Error(t, err) {
				assert.Contains(t, err.Error(), tt.errMsg)
			}
		})
	}
}
