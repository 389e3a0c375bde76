package config

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidator_FileStorageAndCSV(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("timestamp,open,high,low,close,volume\n"), 0o600))

	cfg := getValidConfig()
	cfg.Data.CSVPath = csvPath
	cfg.Storage.Dir = filepath.Join(dir, "runs", "nested")

	v := NewValidator(cfg, DefaultValidatorOptions())
	require.NoError(t, v.ValidateStartup(context.Background()))

	entries, err := os.ReadDir(cfg.Storage.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "probe file must be removed")
}

func TestValidator_MissingCSV(t *testing.T) {
	cfg := getValidConfig()
	cfg.Data.CSVPath = filepath.Join(t.TempDir(), "absent.csv")

	err := NewValidator(cfg, DefaultValidatorOptions()).ValidateStartup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data source check failed")
}

func TestValidator_Redis(t *testing.T) {
	mr := miniredis.RunT(t)

	dir := t.TempDir()
	csvPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(csvPath, nil, 0o600))

	cfg := getValidConfig()
	cfg.Data.CSVPath = csvPath
	cfg.Storage.Backend = BackendRedis
	cfg.Storage.RedisAddr = mr.Addr()

	opts := ValidatorOptions{VerifyConnectivity: true, Timeout: time.Second}
	require.NoError(t, NewValidator(cfg, opts).ValidateStartup(context.Background()))

	mr.Close()
	err := NewValidator(cfg, opts).ValidateStartup(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "storage check failed")

	// Without connectivity checks the unreachable server is not noticed
	opts.VerifyConnectivity = false
	assert.NoError(t, NewValidator(cfg, opts).ValidateStartup(context.Background()))
}

// fakeVault serves a KV v2 secret at secret/data/stratlab/test/storage
func fakeVault(t *testing.T, token string, data map[string]interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Vault-Token") != token {
			w.WriteHeader(http.StatusForbidden)
			_, _ = w.Write([]byte(`{"errors":["permission denied"]}`))
			return
		}
		if r.URL.Path != "/v1/secret/data/stratlab/test/storage" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLoadSecretsFromVault(t *testing.T) {
	srv := fakeVault(t, "root-token", map[string]interface{}{
		"database_url":      "postgres://stratlab:Xk29-vq81@db:5432/stratlab",
		"redis_password":    "r3dis-Pw",
		"data_database_url": "postgres://reader:Rd-77-aa@db:5432/market",
	})

	cfg := getValidConfig()
	err := LoadSecretsFromVault(context.Background(), cfg, VaultConfig{
		Enabled:    true,
		Address:    srv.URL,
		Token:      "root-token",
		AuthMethod: "token",
		MountPath:  "secret",
		SecretPath: "stratlab/test",
	})
	require.NoError(t, err)

	assert.Equal(t, "postgres://stratlab:Xk29-vq81@db:5432/stratlab", cfg.Storage.DatabaseURL)
	assert.Equal(t, "r3dis-Pw", cfg.Storage.RedisPassword)
	assert.Equal(t, "postgres://reader:Rd-77-aa@db:5432/market", cfg.Data.DatabaseURL)
}

func TestLoadSecretsFromVault_Errors(t *testing.T) {
	srv := fakeVault(t, "root-token", map[string]interface{}{})
	cfg := getValidConfig()

	// Disabled is a no-op
	require.NoError(t, LoadSecretsFromVault(context.Background(), cfg, VaultConfig{}))

	// Missing secret path
	err := LoadSecretsFromVault(context.Background(), cfg, VaultConfig{
		Enabled: true, Address: srv.URL, Token: "root-token", MountPath: "secret", SecretPath: "other",
	})
	assert.Error(t, err)

	// Wrong token
	err = LoadSecretsFromVault(context.Background(), cfg, VaultConfig{
		Enabled: true, Address: srv.URL, Token: "bad", MountPath: "secret", SecretPath: "stratlab/test",
	})
	assert.Error(t, err)

	_, err = NewVaultClient(VaultConfig{Enabled: true, Address: srv.URL, AuthMethod: "kerberos"})
	assert.Error(t, err)
}

func TestGetVaultConfigFromEnv(t *testing.T) {
	t.Setenv("VAULT_ENABLED", "")
	assert.False(t, GetVaultConfigFromEnv().Enabled)

	t.Setenv("VAULT_ENABLED", "true")
	t.Setenv("VAULT_ADDR", "https://vault.internal:8200")
	t.Setenv("VAULT_SECRET_PATH", "")
	cfg := GetVaultConfigFromEnv()
	assert.True(t, cfg.Enabled)
	assert.Equal(t, "https://vault.internal:8200", cfg.Address)
	assert.Equal(t, "stratlab/production", cfg.SecretPath)
	assert.Equal(t, "token", cfg.AuthMethod)
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder("ChangeMe"))
	assert.True(t, IsPlaceholder("postgres"))
	assert.False(t, IsPlaceholder("Xk29-vq81"))
}
