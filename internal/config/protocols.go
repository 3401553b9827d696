package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/yourorg/unified-bridge/internal/protocol"
)

// ProtocolConfig describes one bridge protocol in the catalog
type ProtocolConfig struct {
	Name        string   `json:"name" yaml:"name"`
	Kind        string   `json:"kind" yaml:"kind"`
	Enabled     *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	APIEndpoint string   `json:"apiEndpoint" yaml:"apiEndpoint"`
	APIKey      string   `json:"apiKey,omitempty" yaml:"apiKey,omitempty"`
	Chains      []string `json:"chains,omitempty" yaml:"chains,omitempty"`

	// Durations use Go syntax, e.g. "5s" or "30m"
	PollInterval    string `json:"pollInterval,omitempty" yaml:"pollInterval,omitempty"`
	TransferTimeout string `json:"transferTimeout,omitempty" yaml:"transferTimeout,omitempty"`

	RetryMax  int     `json:"retryMax,omitempty" yaml:"retryMax,omitempty"`
	RateLimit float64 `json:"rateLimit,omitempty" yaml:"rateLimit,omitempty"`
	RateBurst int     `json:"rateBurst,omitempty" yaml:"rateBurst,omitempty"`
}

// ProtocolCatalog is the on-disk layout of PROTOCOLS_FILE
type ProtocolCatalog struct {
	Protocols []ProtocolConfig `json:"protocols" yaml:"protocols"`
}

// IsEnabled reports whether the protocol should be registered; entries are enabled by default
func (p ProtocolConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// DefaultProtocols returns the built-in catalog: one protocol per bundled family,
// each reached through its local gateway
func DefaultProtocols() []ProtocolConfig {
	return []ProtocolConfig{
		{Name: "cctp", Kind: string(protocol.KindCCTP), APIEndpoint: "http://localhost:8101", RetryMax: 2, RateLimit: 5, RateBurst: 10},
		{Name: "wormhole", Kind: string(protocol.KindWormhole), APIEndpoint: "http://localhost:8102", RetryMax: 2, RateLimit: 5, RateBurst: 10},
		{Name: "near-intents", Kind: string(protocol.KindIntents), APIEndpoint: "http://localhost:8103", RetryMax: 2, RateLimit: 10, RateBurst: 20},
		{Name: "chain-signatures", Kind: string(protocol.KindChainSignatures), APIEndpoint: "http://localhost:8104", RetryMax: 2, RateLimit: 5, RateBurst: 10},
	}
}

// LoadProtocols reads the catalog at path, or the built-in catalog when path is empty,
// then applies environment overrides and validates the result
func LoadProtocols(path string) ([]ProtocolConfig, error) {
	protocols := DefaultProtocols()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read protocol catalog: %w", err)
		}

		var catalog ProtocolCatalog
		switch strings.ToLower(filepath.Ext(path)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &catalog)
		default:
			err = json.Unmarshal(data, &catalog)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse protocol catalog: %w", err)
		}
		protocols = catalog.Protocols
		logrus.Infof("Loaded %d protocols from %s", len(protocols), path)
	}

	protocols = applyEnvOverrides(protocols)
	if err := validateProtocols(protocols); err != nil {
		return nil, err
	}
	return protocols, nil
}

// EnvPrefix returns the environment prefix for a protocol's overrides
func EnvPrefix(name string) string {
	return "PROTOCOL_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name)) + "_"
}

// applyEnvOverrides lets secrets and endpoints come from the environment
func applyEnvOverrides(protocols []ProtocolConfig) []ProtocolConfig {
	out := make([]ProtocolConfig, len(protocols))
	for i, p := range protocols {
		prefix := EnvPrefix(p.Name)

		if apiKey, ok := GetEnv(prefix + "API_KEY"); ok {
			p.APIKey = apiKey
		}
		if endpoint, ok := GetEnv(prefix + "API_ENDPOINT"); ok {
			p.APIEndpoint = endpoint
		}
		if _, ok := GetEnv(prefix + "ENABLED"); ok {
			enabled := GetEnvAsBool(prefix+"ENABLED", p.IsEnabled())
			p.Enabled = &enabled
		}
		if chains, ok := GetEnv(prefix + "CHAINS"); ok && chains != "" {
			p.Chains = strings.Split(chains, ",")
		}
		out[i] = p
	}
	return out
}

func validateProtocols(protocols []ProtocolConfig) error {
	seen := make(map[string]struct{}, len(protocols))
	for _, p := range protocols {
		if p.Name == "" {
			return fmt.Errorf("protocol catalog: entry without a name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("protocol catalog: duplicate protocol %q", p.Name)
		}
		seen[p.Name] = struct{}{}

		switch protocol.Kind(p.Kind) {
		case protocol.KindCCTP, protocol.KindWormhole, protocol.KindIntents, protocol.KindChainSignatures:
		default:
			return fmt.Errorf("protocol catalog: %s has unknown kind %q", p.Name, p.Kind)
		}
		if _, err := p.Options(); err != nil {
			return err
		}
	}
	return nil
}

// Options converts the catalog entry into adapter options
func (p ProtocolConfig) Options() (protocol.Options, error) {
	pollInterval, err := parseDuration(p.PollInterval)
	if err != nil {
		return protocol.Options{}, fmt.Errorf("protocol %s: pollInterval: %w", p.Name, err)
	}
	transferTimeout, err := parseDuration(p.TransferTimeout)
	if err != nil {
		return protocol.Options{}, fmt.Errorf("protocol %s: transferTimeout: %w", p.Name, err)
	}

	return protocol.Options{
		Name:            p.Name,
		Kind:            protocol.Kind(p.Kind),
		BaseURL:         p.APIEndpoint,
		APIKey:          p.APIKey,
		Chains:          p.Chains,
		PollInterval:    pollInterval,
		TransferTimeout: transferTimeout,
		RetryMax:        p.RetryMax,
		RateLimit:       p.RateLimit,
		RateBurst:       p.RateBurst,
	}, nil
}

// Loader returns a lazy constructor for the protocol's adapter
func (p ProtocolConfig) Loader() protocol.Loader {
	return func(context.Context) (protocol.Adapter, error) {
		opts, err := p.Options()
		if err != nil {
			return nil, err
		}
		adapter, err := protocol.New(opts.Kind, opts)
		if err != nil {
			return nil, err
		}
		return adapter, nil
	}
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
