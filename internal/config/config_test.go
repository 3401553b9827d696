package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/unified-bridge/internal/protocol"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 60*time.Second, cfg.HealthTTL)
	assert.Equal(t, 30*time.Second, cfg.LoadCooldown)
	assert.Equal(t, 3, cfg.LoadMaxAttempts)
	assert.True(t, cfg.LargeTransferAmount().Equal(decimal.NewFromInt(1000)))
	assert.True(t, cfg.MaxAmountDecimal().IsZero())
	assert.True(t, cfg.StrictAddresses)
	assert.False(t, cfg.ReceiptSigning)

	th := cfg.LoadThresholds()
	assert.Equal(t, 3, th.MaxFailures)
	assert.Equal(t, 30*time.Second, th.ResetDelay)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("HEALTH_TTL", "5s")
	t.Setenv("PRELOAD_PROTOCOLS", "cctp,wormhole")
	t.Setenv("LARGE_TRANSFER_THRESHOLD", "2500.5")
	t.Setenv("MAX_AMOUNT", "1000000")
	t.Setenv("RATE_LIMIT_RPS", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 5*time.Second, cfg.HealthTTL)
	assert.Equal(t, []string{"cctp", "wormhole"}, cfg.PreloadProtocols)
	assert.Equal(t, "2500.5", cfg.LargeTransferAmount().String())
	assert.Equal(t, "1000000", cfg.MaxAmountDecimal().String())
	assert.Equal(t, 2.5, cfg.RateLimitRPS)
}

func TestLoad_Invalid(t *testing.T) {
	t.Run("duration", func(t *testing.T) {
		t.Setenv("HEALTH_TTL", "soon")
		_, err := Load()
		assert.Error(t, err)
	})
	t.Run("threshold", func(t *testing.T) {
		t.Setenv("LARGE_TRANSFER_THRESHOLD", "lots")
		_, err := Load()
		assert.Error(t, err)
	})
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_FLOAT", "0.25")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "90s")
	t.Setenv("TEST_BAD", "x")

	assert.Equal(t, 42, GetEnvAsInt("TEST_INT", 1))
	assert.Equal(t, 1, GetEnvAsInt("TEST_BAD", 1))
	assert.Equal(t, 0.25, GetEnvAsFloat("TEST_FLOAT", 1))
	assert.True(t, GetEnvAsBool("TEST_BOOL", false))
	assert.False(t, GetEnvAsBool("TEST_BAD", false))
	assert.Equal(t, 90*time.Second, GetEnvAsDuration("TEST_DURATION", time.Second))
	assert.Equal(t, "fallback", GetEnvOrDefault("TEST_MISSING", "fallback"))
}

func TestLoadProtocols_Defaults(t *testing.T) {
	protocols, err := LoadProtocols("")
	require.NoError(t, err)

	names := make([]string, 0, len(protocols))
	for _, p := range protocols {
		names = append(names, p.Name)
		assert.True(t, p.IsEnabled())
	}
	assert.Equal(t, []string{"cctp", "wormhole", "near-intents", "chain-signatures"}, names)
}

func TestLoadProtocols_EnvOverrides(t *testing.T) {
	t.Setenv("PROTOCOL_NEAR_INTENTS_API_KEY", "secret")
	t.Setenv("PROTOCOL_CCTP_API_ENDPOINT", "https://cctp.example.com")
	t.Setenv("PROTOCOL_WORMHOLE_ENABLED", "false")
	t.Setenv("PROTOCOL_CHAIN_SIGNATURES_CHAINS", "near,bitcoin")

	protocols, err := LoadProtocols("")
	require.NoError(t, err)

	byName := map[string]ProtocolConfig{}
	for _, p := range protocols {
		byName[p.Name] = p
	}
	assert.Equal(t, "secret", byName["near-intents"].APIKey)
	assert.Equal(t, "https://cctp.example.com", byName["cctp"].APIEndpoint)
	assert.False(t, byName["wormhole"].IsEnabled())
	assert.Equal(t, []string{"near", "bitcoin"}, byName["chain-signatures"].Chains)
}

func TestLoadProtocols_Files(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "protocols.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
protocols:
  - name: cctp-testnet
    kind: cctp
    apiEndpoint: https://cctp.testnet.example.com
    chains: [ethereum, base]
    pollInterval: 3s
    transferTimeout: 40m
  - name: wormhole
    kind: wormhole
    enabled: false
    apiEndpoint: https://wormhole.example.com
`), 0o600))

	protocols, err := LoadProtocols(yamlPath)
	require.NoError(t, err)
	require.Len(t, protocols, 2)
	assert.Equal(t, "cctp-testnet", protocols[0].Name)
	assert.Equal(t, []string{"ethereum", "base"}, protocols[0].Chains)
	assert.False(t, protocols[1].IsEnabled())

	opts, err := protocols[0].Options()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, opts.PollInterval)
	assert.Equal(t, 40*time.Minute, opts.TransferTimeout)
	assert.Equal(t, protocol.KindCCTP, opts.Kind)

	jsonPath := filepath.Join(dir, "protocols.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"protocols":[{"name":"intents","kind":"intents","apiEndpoint":"https://solver.example.com"}]}`), 0o600))

	protocols, err = LoadProtocols(jsonPath)
	require.NoError(t, err)
	require.Len(t, protocols, 1)
	assert.Equal(t, "intents", protocols[0].Name)
}

func TestLoadProtocols_Invalid(t *testing.T) {
	dir := t.TempDir()
	tests := map[string]string{
		"unknown kind":   `{"protocols":[{"name":"x","kind":"teleport","apiEndpoint":"http://x"}]}`,
		"missing name":   `{"protocols":[{"kind":"cctp","apiEndpoint":"http://x"}]}`,
		"duplicate":      `{"protocols":[{"name":"x","kind":"cctp"},{"name":"x","kind":"wormhole"}]}`,
		"bad duration":   `{"protocols":[{"name":"x","kind":"cctp","pollInterval":"often"}]}`,
		"malformed json": `{"protocols":`,
	}

	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, "catalog.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			_, err := LoadProtocols(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadProtocols(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestProtocolConfig_Loader(t *testing.T) {
	p := ProtocolConfig{Name: "cctp", Kind: "cctp", APIEndpoint: "http://localhost:8101"}
	adapter, err := p.Loader()(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cctp", adapter.Name())
	assert.True(t, adapter.Supports("ethereum", "base"))

	broken := ProtocolConfig{Name: "cctp", Kind: "cctp"}
	adapter, err = broken.Loader()(context.Background())
	assert.Error(t, err, "A missing endpoint fails at load time")
	assert.Nil(t, adapter)
}
