package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xraph/credits/identity"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "credits-identity.toml", cfg.IdentityPath)
	assert.Equal(t, 15*time.Second, cfg.RemoteTimeout)
	assert.Equal(t, int64(1), cfg.GenerationCost)
	assert.Equal(t, "sandbox", cfg.MidtransEnv)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "creditsctl.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\nauth_secret: from-file\nremote_timeout: 3s\n"), 0o600))

	t.Setenv("CREDITS_AUTH_SECRET", "from-env")
	t.Setenv("CREDITS_REDIS_ADDR", "localhost:6379")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "from-env", cfg.AuthSecret)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.Equal(t, 3*time.Second, cfg.RemoteTimeout)
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestIdentityShowAndReset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.toml")
	t.Setenv("CREDITS_IDENTITY_PATH", path)
	t.Chdir(t.TempDir())

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"identity", "show"})
	require.NoError(t, rootCmd.Execute())

	var first identity.Identity
	require.NoError(t, json.Unmarshal(out.Bytes(), &first))
	assert.NotEmpty(t, first.InstallationID)
	assert.Equal(t, identity.InitialLocalCredits, first.LocalCreditBalance)

	out.Reset()
	rootCmd.SetArgs([]string{"identity", "reset"})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "identity reset")

	out.Reset()
	rootCmd.SetArgs([]string{"identity", "show"})
	require.NoError(t, rootCmd.Execute())

	var second identity.Identity
	require.NoError(t, json.Unmarshal(out.Bytes(), &second))
	assert.NotEqual(t, first.InstallationID, second.InstallationID)
}

func TestBuildBillingDefaultsToStaticPacks(t *testing.T) {
	b := buildBilling(Config{})
	packs, err := b.Products(t.Context())
	require.NoError(t, err)
	assert.Len(t, packs, len(defaultPacks))
}
