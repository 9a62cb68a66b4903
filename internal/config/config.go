// Package config loads MeshForge configuration from YAML, the environment
// and an optional .env file, and resolves layered trust requirements.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/pramadanif/meshforge/internal/chain"
	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/relay"
)

// DefaultMetadataURI is used when a wallet is provisioned without metadata.
const DefaultMetadataURI = "ipfs://meshforge-agent-default-metadata.json"

// Config is the full MeshForge configuration.
type Config struct {
	Log          LogConfig             `yaml:"log"`
	Chain        ChainConfig           `yaml:"chain"`
	Relay        relay.Config          `yaml:"relay"`
	Orchestrator OrchestratorConfig    `yaml:"orchestrator"`
	Trust        intent.TrustOverrides `yaml:"trust"`
	HTTP         HTTPConfig            `yaml:"http"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ChainConfig configures the Neo N3 ledger.
type ChainConfig struct {
	RPCURL     string                  `yaml:"rpc_url"`
	NetworkID  uint32                  `yaml:"network_id"`
	PrivateKey string                  `yaml:"private_key"`
	Contracts  chain.ContractAddresses `yaml:"contracts"`
	Timeout    time.Duration           `yaml:"timeout"`
	MaxRetries int                     `yaml:"max_retries"`
}

// OrchestratorConfig configures orchestration runs.
type OrchestratorConfig struct {
	DefaultMetadataURI   string        `yaml:"default_metadata_uri"`
	AutoAcceptIntent     bool          `yaml:"auto_accept_intent"`
	IdentityPollAttempts int           `yaml:"identity_poll_attempts"`
	IdentityPollInterval time.Duration `yaml:"identity_poll_interval"`
	ProofStep            uint64        `yaml:"proof_step"`
	RouteMemoSize        int           `yaml:"route_memo_size"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr           string  `yaml:"addr"`
	RatePerSecond  float64 `yaml:"rate_per_second"`
	Burst          int     `yaml:"burst"`
	MaxRequestBody int64   `yaml:"max_request_body"`
	// TrustForwardedFor keys rate limits on X-Forwarded-For.
	TrustForwardedFor bool `yaml:"trust_forwarded_for"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Chain: ChainConfig{
			NetworkID:  894710606,
			Timeout:    30 * time.Second,
			MaxRetries: 2,
		},
		Relay: relay.Config{
			ChainID: relay.DefaultChainID,
			Timeout: 30 * time.Second,
		},
		Orchestrator: OrchestratorConfig{
			DefaultMetadataURI:   DefaultMetadataURI,
			IdentityPollAttempts: 5,
			IdentityPollInterval: 2 * time.Second,
			ProofStep:            3,
			RouteMemoSize:        1024,
		},
		HTTP: HTTPConfig{
			Addr:           ":8080",
			RatePerSecond:  20,
			Burst:          40,
			MaxRequestBody: 1 << 20,
		},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if
// path is not empty), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads variables from the given .env files into the process
// environment. Missing files are ignored; existing variables win.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("load %s: %w", p, err)
		}
	}
	return nil
}

// envOverrides lists every environment variable MeshForge reads. Values are
// decoded as strings so that unset variables can be told apart from zero values.
type envOverrides struct {
	LogLevel  string `env:"MESHFORGE_LOG_LEVEL"`
	LogFormat string `env:"MESHFORGE_LOG_FORMAT"`

	RPCURL       string `env:"NEO_RPC_URL"`
	NetworkID    string `env:"NEO_NETWORK_MAGIC"`
	PrivateKey   string `env:"MESHFORGE_PRIVATE_KEY"`
	MeshHash     string `env:"CONTRACT_INTENT_MESH_HASH"`
	FactoryHash  string `env:"CONTRACT_AGENT_FACTORY_HASH"`
	ChainTimeout string `env:"NEO_RPC_TIMEOUT"`

	RelayEndpoint         string `env:"NEXT_PUBLIC_THIRDWEB_X402_ENDPOINT"`
	RelayEndpointPublic   string `env:"NEXT_PUBLIC_X402_ENDPOINT"`
	RelayEndpointThirdweb string `env:"THIRDWEB_X402_ENDPOINT"`
	RelayEndpointPlain    string `env:"X402_ENDPOINT"`
	RelayKey              string `env:"NEXT_PUBLIC_THIRDWEB_X402_API_KEY"`
	RelayKeyPublic        string `env:"NEXT_PUBLIC_X402_API_KEY"`
	RelayKeyThirdweb      string `env:"THIRDWEB_X402_API_KEY"`
	RelayKeyPlain         string `env:"X402_API_KEY"`
	RequireRelay          string `env:"REQUIRE_X402"`
	RelayChainID          string `env:"X402_CHAIN_ID"`

	MetadataURI string `env:"MESHFORGE_DEFAULT_METADATA_URI"`
	AutoAccept  string `env:"MESHFORGE_AUTO_ACCEPT_INTENT"`

	HTTPAddr string `env:"MESHFORGE_HTTP_ADDR"`
}

// ApplyEnv overlays environment variables onto cfg.
func (cfg *Config) ApplyEnv() error {
	var env envOverrides
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}

	setString(&cfg.Log.Level, env.LogLevel)
	setString(&cfg.Log.Format, env.LogFormat)

	setString(&cfg.Chain.RPCURL, env.RPCURL)
	setString(&cfg.Chain.PrivateKey, env.PrivateKey)
	setString(&cfg.Chain.Contracts.IntentMesh, env.MeshHash)
	setString(&cfg.Chain.Contracts.AgentFactory, env.FactoryHash)
	if env.NetworkID != "" {
		n, err := strconv.ParseUint(env.NetworkID, 10, 32)
		if err != nil {
			return fmt.Errorf("NEO_NETWORK_MAGIC: %w", err)
		}
		cfg.Chain.NetworkID = uint32(n)
	}
	if env.ChainTimeout != "" {
		d, err := time.ParseDuration(env.ChainTimeout)
		if err != nil {
			return fmt.Errorf("NEO_RPC_TIMEOUT: %w", err)
		}
		cfg.Chain.Timeout = d
	}

	setString(&cfg.Relay.Endpoint, firstNonEmpty(env.RelayEndpoint, env.RelayEndpointPublic, env.RelayEndpointThirdweb, env.RelayEndpointPlain))
	setString(&cfg.Relay.APIKey, firstNonEmpty(env.RelayKey, env.RelayKeyPublic, env.RelayKeyThirdweb, env.RelayKeyPlain))
	if env.RequireRelay != "" {
		cfg.Relay.Required = strings.TrimSpace(env.RequireRelay) == "true"
	}
	if env.RelayChainID != "" {
		n, err := strconv.ParseInt(env.RelayChainID, 10, 64)
		if err != nil {
			return fmt.Errorf("X402_CHAIN_ID: %w", err)
		}
		cfg.Relay.ChainID = n
	}

	setString(&cfg.Orchestrator.DefaultMetadataURI, env.MetadataURI)
	if env.AutoAccept != "" {
		v, err := strconv.ParseBool(env.AutoAccept)
		if err != nil {
			return fmt.Errorf("MESHFORGE_AUTO_ACCEPT_INTENT: %w", err)
		}
		cfg.Orchestrator.AutoAcceptIntent = v
	}

	setString(&cfg.HTTP.Addr, env.HTTPAddr)
	return nil
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// DefaultTrust returns the system-wide trust requirements.
func DefaultTrust() intent.TrustRequirements {
	return intent.TrustRequirements{
		RequireMerkleProof:        true,
		MinReputationScore:        0,
		MaxExpectedLatencySeconds: 600,
		AllowAutoDispute:          true,
	}
}

// ResolveTrust merges override layers over DefaultTrust field by field.
// Later layers take precedence; nil layers are skipped.
func ResolveTrust(layers ...*intent.TrustOverrides) intent.TrustRequirements {
	trust := DefaultTrust()
	for _, l := range layers {
		trust = l.ApplyTo(trust)
	}
	return trust
}
